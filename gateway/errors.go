package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
)

// ErrorKind classifies gateway failures. Every error surfaced by an adapter
// is typed; callers dispatch on kind rather than matching error strings.
type ErrorKind string

const (
	// KindAuth covers 401/403-class failures. Never retryable.
	KindAuth ErrorKind = "auth"

	// KindRateLimited covers 429-class failures. Carries a RetryAfter
	// hint when the provider supplies one.
	KindRateLimited ErrorKind = "rate_limited"

	// KindUnavailable covers 5xx-class and transport failures.
	KindUnavailable ErrorKind = "unavailable"

	// KindMalformed covers responses that fail validation on our side.
	// Never retryable.
	KindMalformed ErrorKind = "malformed"
)

// Error is a typed gateway failure.
type Error struct {
	Kind       ErrorKind
	Status     int           // HTTP status when known, 0 otherwise
	RetryAfter time.Duration // provider hint, 0 when absent
	Err        error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway: %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err, or "" if err is not a gateway error.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// RetryAfterHint extracts the provider retry hint from err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var ge *Error
	if errors.As(err, &ge) && ge.RetryAfter > 0 {
		return ge.RetryAfter, true
	}
	return 0, false
}

// classifyStatus maps an HTTP status to an error kind. Transport failures
// (status 0) count as unavailable.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500 || status == 0:
		return KindUnavailable
	default:
		return KindMalformed
	}
}

// retryAfterFromHeader parses a Retry-After header value in seconds.
// HTTP-date forms are ignored; providers we talk to use delta-seconds.
func retryAfterFromHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// classifyAnthropic converts an anthropic-sdk-go error into a typed gateway
// error. Context cancellation passes through untyped so callers can tell
// cancellation apart from provider failure.
func classifyAnthropic(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &Error{
			Kind:       classifyStatus(apierr.StatusCode),
			Status:     apierr.StatusCode,
			RetryAfter: retryAfterFromHeader(apierr.Response),
			Err:        err,
		}
	}
	return &Error{Kind: KindUnavailable, Err: err}
}

// classifyOpenAI converts an openai-go error into a typed gateway error.
func classifyOpenAI(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &Error{
			Kind:       classifyStatus(apierr.StatusCode),
			Status:     apierr.StatusCode,
			RetryAfter: retryAfterFromHeader(apierr.Response),
			Err:        err,
		}
	}
	return &Error{Kind: KindUnavailable, Err: err}
}

// classifyOllama converts an ollama api error into a typed gateway error.
func classifyOllama(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return &Error{
			Kind:   classifyStatus(statusErr.StatusCode),
			Status: statusErr.StatusCode,
			Err:    err,
		}
	}
	return &Error{Kind: KindUnavailable, Err: err}
}

// malformed wraps a response-validation failure.
func malformed(format string, args ...any) error {
	return &Error{Kind: KindMalformed, Err: fmt.Errorf(format, args...)}
}
