package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/router-for-me/supporthours/internal/planlock"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when a consumption exceeds the available hours.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrQuotaExceeded is returned when a plan has no change requests left this period.
	ErrQuotaExceeded = errors.New("ledger: change request limit reached")
	// ErrBusy is returned when the plan stays locked past the wait budget.
	ErrBusy = errors.New("ledger: plan busy, try again")
	// ErrInvariantViolation is returned when persisted balances are inconsistent.
	ErrInvariantViolation = errors.New("ledger: invariant violation")
	// ErrPlanNotFound is returned when no plan (or legacy subscription) matches.
	ErrPlanNotFound = errors.New("ledger: plan not found")
	// ErrPlanNotActive is returned when the plan status forbids the operation.
	ErrPlanNotActive = errors.New("ledger: plan not active")
	// ErrInvalidInput is returned for malformed amounts, pools or pack types.
	ErrInvalidInput = errors.New("ledger: invalid input")
	// ErrConflict is returned when the plan version moved under a write.
	ErrConflict = errors.New("ledger: concurrent plan update")
)

// InsufficientBalanceError carries the figures behind ErrInsufficientBalance.
type InsufficientBalanceError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("ledger: insufficient balance: requested %s, available %s", e.Requested.String(), e.Available.String())
}

// Unwrap lets errors.Is match ErrInsufficientBalance.
func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvariantError describes an inconsistent balance.
type InvariantError struct {
	PlanID uint64
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger: invariant violation on plan %d: %s", e.PlanID, e.Detail)
}

// Unwrap lets errors.Is match ErrInvariantViolation.
func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// PostgreSQL SQLSTATEs that mean "somebody else holds it, try again".
var busySQLStates = map[string]struct{}{
	"55P03": {}, // lock_not_available
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
}

// IsBusy reports whether err means the plan was locked by someone else.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) || errors.Is(err, planlock.ErrLockTimeout) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := busySQLStates[pgErr.Code]
		return ok
	}
	// SQLITE_BUSY surfaces only as text through the driver.
	return strings.Contains(err.Error(), "database is locked")
}

// IsRetryable reports whether an operation failing with err may succeed on retry.
func IsRetryable(err error) bool {
	return IsBusy(err) || errors.Is(err, ErrConflict)
}
