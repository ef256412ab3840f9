// Package apierror maps ledger errors onto HTTP responses.
package apierror

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/changerequest"
	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/provisioning"
	log "github.com/sirupsen/logrus"
)

// Status returns the HTTP status and client message for err.
func Status(err error) (int, string) {
	var insufficient *ledger.InsufficientBalanceError
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.As(err, &insufficient), errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient support hours"
	case errors.Is(err, ledger.ErrQuotaExceeded):
		return http.StatusForbidden, "change request limit reached"
	case errors.Is(err, ledger.ErrBusy), errors.Is(err, ledger.ErrConflict):
		return http.StatusServiceUnavailable, "plan busy, try again"
	case errors.Is(err, ledger.ErrInvariantViolation):
		return http.StatusInternalServerError, "ledger inconsistent, plan frozen for review"
	case errors.Is(err, ledger.ErrPlanNotFound), errors.Is(err, changerequest.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ledger.ErrPlanNotActive):
		return http.StatusConflict, "plan not active"
	case errors.Is(err, changerequest.ErrInvalidTransition), errors.Is(err, provisioning.ErrInvalidTransition):
		return http.StatusConflict, "invalid status transition"
	case errors.Is(err, provisioning.ErrPlanExists):
		return http.StatusConflict, "project already has a plan"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// Write renders err as a JSON error body. Shortfalls carry the requested and
// available hours; busy responses carry a Retry-After hint.
func Write(c *gin.Context, err error) {
	status, message := Status(err)
	body := gin.H{"error": message}

	var insufficient *ledger.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		body["requested"] = insufficient.Requested
		body["available"] = insufficient.Available
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}
