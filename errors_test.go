package consilium

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMapErrorPassesThroughTagged(t *testing.T) {
	orig := Tagged(ErrRateLimit, "slow down", nil)
	wrapped := fmt.Errorf("outer: %w", orig)
	if got := MapError(wrapped); got.Tag != ErrRateLimit {
		t.Errorf("tag = %q, want rate_limit_exceeded", got.Tag)
	}
}

func TestMapErrorContextExpiry(t *testing.T) {
	if got := MapError(context.DeadlineExceeded); got.Tag != ErrTimeout {
		t.Errorf("deadline: tag = %q, want timeout", got.Tag)
	}
	if got := MapError(context.Canceled); got.Tag != ErrTimeout {
		t.Errorf("cancel: tag = %q, want timeout", got.Tag)
	}
}

func TestMapErrorSuppressesRawMessage(t *testing.T) {
	got := MapError(errors.New("pq: connection refused at 10.1.2.3:5432"))
	if got.Tag != ErrInternal {
		t.Fatalf("tag = %q, want internal_error", got.Tag)
	}
	if got.Detail != "internal error" {
		t.Errorf("detail = %q leaks internals", got.Detail)
	}
}

func TestTaggedErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	terr := Tagged(ErrUpstreamAll, "everything down", cause)
	if !errors.Is(terr, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[ErrorTag]int{
		ErrValidation:  http.StatusBadRequest,
		ErrRateLimit:   http.StatusTooManyRequests,
		ErrTimeout:     http.StatusGatewayTimeout,
		ErrInternal:    http.StatusInternalServerError,
		ErrUpstreamAll: http.StatusInternalServerError,
	}
	for tag, want := range cases {
		if got := HTTPStatus(tag); got != want {
			t.Errorf("HTTPStatus(%q) = %d, want %d", tag, got, want)
		}
	}
}
