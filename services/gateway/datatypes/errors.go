package datatypes

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway failure. Every error response carries its Kind
// as the stable "code" field alongside a human-readable message.
type Kind string

const (
	// KindValidation marks malformed or missing request fields. Rejected
	// before any network call.
	KindValidation Kind = "ValidationError"

	// KindPermissionDenied marks a permission-gate rejection.
	KindPermissionDenied Kind = "PermissionDenied"

	// KindAdminRequired marks an admin-only operation attempted by a
	// non-admin.
	KindAdminRequired Kind = "AdminRequired"

	// KindProviderUnavailable marks connectivity-class failures talking to
	// the Ollama endpoint (connection refused, DNS failure). Maps to 503,
	// unlike daemon-reported failures.
	KindProviderUnavailable Kind = "ProviderUnavailable"

	// KindProviderError marks any other daemon-reported failure: bad model,
	// timeout, malformed response.
	KindProviderError Kind = "ProviderError"

	// KindNoFallback marks a failed fallback selection: fallback was
	// enabled but no mapping or provider matched. The message embeds both
	// the original and the selection failure.
	KindNoFallback Kind = "NoFallbackAvailable"

	// KindCompanyNotFound marks an admin mutation against a company record
	// that does not exist. Plain reads fall back to defaults instead.
	KindCompanyNotFound Kind = "CompanyNotFound"
)

// Error is the gateway's classified error. It wraps an underlying cause
// where one exists so errors.Is/As keep working through the chain.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// E builds a classified error with a formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a classified error around an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindProviderError, the catch-all for daemon-side failures.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindProviderError
}

// IsUnavailable reports whether err is a connectivity-class failure.
func IsUnavailable(err error) bool {
	return KindOf(err) == KindProviderUnavailable
}

// HTTPStatus maps a failure kind to its response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindPermissionDenied, KindAdminRequired:
		return http.StatusForbidden
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case KindCompanyNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
