// Package security issues and verifies admin bearer tokens.
package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/router-for-me/supporthours/internal/http/api/admin/permissions"
)

const adminTokenIssuer = "supporthours-admin"

var (
	// ErrMissingSecret is returned when no JWT secret is configured.
	ErrMissingSecret = errors.New("security: jwt secret is not configured")
	// ErrInvalidToken is returned for malformed, expired or forged tokens.
	ErrInvalidToken = errors.New("security: invalid token")
)

// AdminClaims are the claims carried by an admin token.
type AdminClaims struct {
	Permissions []string `json:"perms,omitempty"`
	SuperAdmin  bool     `json:"super,omitempty"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 admin token for subject.
func IssueAdminToken(secret, subject string, perms []string, superAdmin bool, expiry time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrMissingSecret
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("security: empty subject")
	}
	if errValidate := permissions.ValidatePermissions(perms); errValidate != nil {
		return "", fmt.Errorf("security: %w", errValidate)
	}
	now = now.UTC()
	claims := AdminClaims{
		Permissions: permissions.NormalizePermissions(perms),
		SuperAdmin:  superAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    adminTokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	signed, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("security: sign token: %w", errSign)
	}
	return signed, nil
}

// ParseAdminToken verifies token against secret and returns its claims.
func ParseAdminToken(secret, token string) (*AdminClaims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	claims := &AdminClaims{}
	parsed, errParse := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(adminTokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if errParse != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, errParse)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
