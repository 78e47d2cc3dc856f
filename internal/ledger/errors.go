package ledger

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrRecordMissing is returned by a Store when the addressed row does not exist.
	ErrRecordMissing = errors.New("ledger: record missing")
	// ErrStatusConflict is returned by a Store when a conditional write matched no row.
	ErrStatusConflict = errors.New("ledger: status conflict")

	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingSettingsID = errors.New("settings id is required")
)

// ValidationError reports bad user input. It is not retryable without correction.
type ValidationError struct {
	Field  string
	Reason string
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an entity that vanished between read and write.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ledger: %s %q not found", e.Entity, e.ID)
}

// InvalidStateError reports an attempted transition out of a terminal state.
type InvalidStateError struct {
	RequestID string
	Status    RequestStatus
	Action    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("ledger: cannot %s payment request %q in status %s", e.Action, e.RequestID, e.Status)
}

// TransientError wraps a store failure that is safe to retry (timeouts, lost connections, lock contention).
type TransientError struct {
	Operation string
	Err       error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("ledger: %s: transient store failure: %v", e.Operation, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PartialFailureError reports an approval that stopped after some of its writes were applied.
type PartialFailureError struct {
	RequestID  string
	FailedStep ApprovalStep
	// Compensated is true when every earlier write was undone.
	Compensated     bool
	Err             error
	CompensationErr error
}

func (e *PartialFailureError) Error() string {
	message := fmt.Sprintf("ledger: approval of %q failed at step %s: %v", e.RequestID, e.FailedStep, e.Err)
	if e.CompensationErr != nil {
		message += fmt.Sprintf(" (compensation failed: %v)", e.CompensationErr)
	}
	return message
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// ServiceError carries a stable code for failures outside the typed taxonomy.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// storeFailure converts a raw store error into a TransientError or a coded ServiceError.
func storeFailure(operation, reason string, err error) error {
	if IsTransient(err) {
		return &TransientError{Operation: operation, Err: err}
	}
	return newServiceError(operation, reason, err)
}

// IsTransient reports whether err looks like a timeout, lost connection or lock contention.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01", pgErr.Code == "57014":
			return true
		}
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "sqlite_busy") ||
		strings.Contains(message, "connection refused")
}

// Retryable reports whether the caller may safely repeat the operation unchanged.
func Retryable(err error) bool {
	var partial *PartialFailureError
	if errors.As(err, &partial) {
		return true
	}
	return IsTransient(err)
}

// UserMessage renders err for display, separating invalid input from failures on our side.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var validation *ValidationError
	var notFound *NotFoundError
	var invalidState *InvalidStateError
	var partial *PartialFailureError
	switch {
	case errors.As(err, &validation):
		return fmt.Sprintf("Your input is invalid: %s %s.", validation.Field, validation.Reason)
	case errors.As(err, &notFound):
		return fmt.Sprintf("The %s no longer exists. Refresh and try again.", notFound.Entity)
	case errors.As(err, &invalidState):
		return fmt.Sprintf("This payment request is already %s and cannot be changed.", invalidState.Status)
	case errors.As(err, &partial):
		return fmt.Sprintf("Approval was interrupted at step %s. Something on our side failed; retrying is safe.", partial.FailedStep)
	case IsTransient(err):
		return "Something on our side failed temporarily. Please try again."
	default:
		return "Something on our side failed. Please try again later."
	}
}
