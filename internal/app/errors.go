package app

import (
	"errors"
	"fmt"
	"net/http"

	"sopflow/api/internal/store"
)

var (
	// ErrInvalidTransition: the (status, role, action) triple is not in the
	// workflow table. The header is left untouched.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStaleState: the status moved between read and write. Refetch and retry.
	ErrStaleState = errors.New("stale state")
	// ErrSectionLocked: the document is published and not reopened for revision.
	ErrSectionLocked = errors.New("section locked")
	// ErrUnknownSectionKind: the kind is not one of the eight SOP sections.
	ErrUnknownSectionKind = errors.New("unknown section kind")
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// mapError translates service errors into HTTP status/code pairs.
func mapError(err error) (int, string, string, any) {
	var domain *DomainError
	if errors.As(err, &domain) {
		return domain.Status, domain.Code, domain.Message, domain.Details
	}
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil
	case errors.Is(err, ErrStaleState):
		return http.StatusConflict, "STALE_STATE", err.Error(), nil
	case errors.Is(err, ErrSectionLocked):
		return http.StatusLocked, "SECTION_LOCKED", err.Error(), nil
	case errors.Is(err, ErrUnknownSectionKind):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case store.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	default:
		return http.StatusInternalServerError, "INTERNAL", "Internal error", nil
	}
}
