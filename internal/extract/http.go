package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scribe/internal/services"
)

// WrapStatus converts a non-2xx HTTP status into a classified service error.
// The mapping is shared by every HTTP-backed strategy.
func WrapStatus(component, operation string, status int) error {
	message := fmt.Sprintf("unexpected status %d", status)
	switch {
	case status == http.StatusTooManyRequests:
		return services.Wrap(services.ErrRateLimited, component, operation, message, nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.Wrap(services.ErrAuthExpired, component, operation, message, nil)
	case status == http.StatusNotFound || status == http.StatusGone:
		return services.Wrap(services.ErrContentUnavailable, component, operation, message, nil)
	case status == http.StatusPaymentRequired:
		return services.Wrap(services.ErrQuotaExhausted, component, operation, message, nil)
	case status >= 500:
		return services.Wrap(services.ErrNetwork, component, operation, message, nil)
	default:
		return services.Wrap(services.ErrInternal, component, operation, message, nil)
	}
}

// WrapTransport converts a transport-level failure (connection error,
// timeout, cancellation) into a classified service error.
func WrapTransport(component, operation string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return services.Wrap(services.ErrTimeout, component, operation, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return services.Wrap(services.ErrTimeout, component, operation, "request canceled", err)
	}
	return services.Wrap(services.ErrNetwork, component, operation, "request failed", err)
}

// RetryAfterHint parses the Retry-After response header (seconds form only).
func RetryAfterHint(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
