package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed kiosk fault with HTTP awareness for the
// loopback API.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined faults. The four families mirror how the kiosk degrades:
// storage, credential resolution, submission, and the withdrawal flow.
var (
	ErrStoreCorrupt = New("STORE_CORRUPT", http.StatusInternalServerError, "local snapshot unreadable, cache reset")
	ErrStoreFull    = New("STORE_FULL", http.StatusInsufficientStorage, "local storage capacity exceeded")
	ErrStoreIO      = New("STORE_IO", http.StatusInternalServerError, "local snapshot write failed")

	ErrTagNotFound      = New("TAG_NOT_FOUND", http.StatusNotFound, "credential not recognised")
	ErrTagRevoked       = New("TAG_REVOKED", http.StatusForbidden, "credential revoked")
	ErrTagExpired       = New("TAG_EXPIRED", http.StatusForbidden, "credential expired")
	ErrTagPending       = New("TAG_PENDING", http.StatusForbidden, "credential not yet activated")
	ErrTagInvalidStatus = New("TAG_INVALID_STATUS", http.StatusForbidden, "credential status not usable")

	ErrSubmitFailed    = New("SUBMIT_FAILED", http.StatusBadGateway, "event submission failed")
	ErrEvidenceFailed  = New("EVIDENCE_FAILED", http.StatusBadGateway, "evidence submission failed")
	ErrEventTransition = New("EVENT_TRANSITION", http.StatusConflict, "illegal event status transition")

	ErrEmptyRoster = New("EMPTY_ROSTER", http.StatusUnprocessableEntity, "empty roster payload rejected")

	ErrWithdrawalState    = New("WITHDRAWAL_STATE", http.StatusConflict, "operation not allowed in current withdrawal state")
	ErrWithdrawalBackend  = New("WITHDRAWAL_BACKEND", http.StatusBadGateway, "withdrawal request failed, state preserved")
	ErrNoStudentsSelected = New("NO_STUDENTS_SELECTED", http.StatusBadRequest, "at least one student must be selected")
	ErrSignatureRequired  = New("SIGNATURE_REQUIRED", http.StatusBadRequest, "a captured signature is required")
	ErrOverrideRejected   = New("OVERRIDE_REJECTED", http.StatusForbidden, "override PIN rejected")

	ErrValidation = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrNotFound   = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrInternal   = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
