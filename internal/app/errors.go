package app

import (
	"fmt"
	"net/http"
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

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

// errPermissionDenied covers both an insufficient role and a missing
// project, so callers cannot probe for project existence.
func errPermissionDenied() *DomainError {
	return domainError(http.StatusForbidden, "PERMISSION_DENIED", "You don't have permission to perform this action", nil)
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func errDependencyUnavailable(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE", message, nil)
}
