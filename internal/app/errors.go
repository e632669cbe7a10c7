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

func errMalformedKey() *DomainError {
	return domainError(http.StatusUnauthorized, "INVALID_API_KEY_FORMAT", "Invalid API key format", nil)
}

// Unknown and revoked keys share one error so callers cannot tell them apart.
func errInvalidKey() *DomainError {
	return domainError(http.StatusUnauthorized, "INVALID_API_KEY", "Invalid or revoked API key", nil)
}

func errSigningMisconfigured() *DomainError {
	return domainError(http.StatusInternalServerError, "SERVER_MISCONFIGURED", "Token signing is not configured", nil)
}

func errUnauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}
