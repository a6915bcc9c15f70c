package app

import (
	"errors"
	"fmt"
	"net/http"

	"missioncontrol/internal/model"
)

// DomainError is an error with the HTTP response it should produce.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	// Err is the underlying cause, if any. It is logged, never sent.
	Err error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func errLoading() *DomainError {
	return domainError(http.StatusServiceUnavailable, "LOADING", "Document is still loading", nil)
}

func isUnknownOrg(err error) bool {
	return errors.Is(err, model.ErrUnknownOrg)
}
