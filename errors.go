package consilium

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorTag is one entry of the closed error taxonomy surfaced to clients.
type ErrorTag string

const (
	ErrValidation   ErrorTag = "validation_error"
	ErrRateLimit    ErrorTag = "rate_limit_exceeded"
	ErrTimeout      ErrorTag = "timeout"
	ErrUpstreamPart ErrorTag = "upstream_partial"
	ErrUpstreamAll  ErrorTag = "upstream_total"
	ErrInternal     ErrorTag = "internal_error"
)

// TaggedError carries a taxonomy tag plus a client-safe detail string.
// Raw transport errors never reach the client; they are wrapped here first.
type TaggedError struct {
	Tag    ErrorTag
	Detail string
	cause  error
}

func (e *TaggedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tag, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Detail)
}

func (e *TaggedError) Unwrap() error { return e.cause }

// Tagged builds a TaggedError with an optional wrapped cause.
func Tagged(tag ErrorTag, detail string, cause error) *TaggedError {
	return &TaggedError{Tag: tag, Detail: detail, cause: cause}
}

// MapError classifies any workflow outcome into the taxonomy. Already-tagged
// errors pass through; context expiry maps to timeout; everything else is an
// internal error with the raw message suppressed.
func MapError(err error) *TaggedError {
	var tagged *TaggedError
	if errors.As(err, &tagged) {
		return tagged
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Tagged(ErrTimeout, "workflow deadline exceeded", err)
	}
	return Tagged(ErrInternal, "internal error", err)
}

// HTTPStatus maps a taxonomy tag to the HTTP status used when the error is
// known before the stream starts. Once streaming, the status is already sent
// and only the terminal error event carries the tag.
func HTTPStatus(tag ErrorTag) int {
	switch tag {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrHTTP is a transport-level HTTP error reported by concrete clients.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
