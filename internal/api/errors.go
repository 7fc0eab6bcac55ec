package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
)

// ErrorType categorizes upstream GitHub API failures
type ErrorType string

const (
	// ErrorTypeAuth means the credential was rejected outright (401). The
	// owning integration should be flipped to error status so later calls
	// fail fast.
	ErrorTypeAuth ErrorType = "credential_rejected"

	// ErrorTypeScope means the token lacks a required scope (403 without a
	// rate limit marker).
	ErrorTypeScope ErrorType = "insufficient_scope"

	// ErrorTypeRateLimit means the primary or secondary rate limit was hit.
	ErrorTypeRateLimit ErrorType = "rate_limited"

	// ErrorTypeNotFound means the upstream resource is gone, renamed, or
	// inaccessible (404).
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeConflict is GitHub's 409, typically an empty repository with
	// no commits. Callers treat it as an empty result.
	ErrorTypeConflict ErrorType = "conflict"

	// ErrorTypeTimeout means the request deadline expired.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeUpstream covers the remaining 4xx/5xx responses and transport
	// failures, propagated unchanged.
	ErrorTypeUpstream ErrorType = "upstream"
)

// Error is a classified GitHub API failure.
type Error struct {
	Type      ErrorType
	Message   string
	Resource  string
	Retryable bool
	ResetAt   time.Time // rate limit reset, when known
	Cause     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s error for %s: %s", e.Type, e.Resource, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsType reports whether err is an *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Type == t
}

// WrapError classifies an error returned by the GitHub client.
func WrapError(err error, resource string) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &Error{
			Type:      ErrorTypeRateLimit,
			Message:   fmt.Sprintf("rate limit exceeded, resets at %s", rateErr.Rate.Reset.Time.Format(time.RFC3339)),
			Resource:  resource,
			Retryable: true,
			ResetAt:   rateErr.Rate.Reset.Time,
			Cause:     err,
		}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		e := &Error{
			Type:      ErrorTypeRateLimit,
			Message:   "secondary rate limit exceeded",
			Resource:  resource,
			Retryable: true,
			Cause:     err,
		}
		if abuseErr.RetryAfter != nil {
			e.ResetAt = time.Now().Add(*abuseErr.RetryAfter)
		}
		return e
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return classifyResponse(respErr, resource)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Type:      ErrorTypeTimeout,
			Message:   "request timed out",
			Resource:  resource,
			Retryable: true,
			Cause:     err,
		}
	}

	return &Error{
		Type:     ErrorTypeUpstream,
		Message:  err.Error(),
		Resource: resource,
		Cause:    err,
	}
}

func classifyResponse(respErr *github.ErrorResponse, resource string) *Error {
	e := &Error{Resource: resource, Cause: respErr}

	switch respErr.Response.StatusCode {
	case http.StatusUnauthorized:
		e.Type = ErrorTypeAuth
		e.Message = "credential rejected by GitHub"

	case http.StatusForbidden:
		if strings.Contains(strings.ToLower(respErr.Message), "rate limit") {
			e.Type = ErrorTypeRateLimit
			e.Message = "rate limit exceeded"
			e.Retryable = true
		} else {
			e.Type = ErrorTypeScope
			e.Message = "token lacks the required scope"
		}

	case http.StatusNotFound:
		e.Type = ErrorTypeNotFound
		e.Message = "resource not found or inaccessible"

	case http.StatusConflict:
		e.Type = ErrorTypeConflict
		e.Message = respErr.Message
		if e.Message == "" {
			e.Message = "resource conflict, repository may be empty"
		}

	default:
		e.Type = ErrorTypeUpstream
		e.Message = respErr.Message
		e.Retryable = respErr.Response.StatusCode >= 500
	}

	return e
}

// RetryConfig tunes the backoff applied to retryable upstream failures.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the backoff used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ErrRetriesExhausted marks a retryable failure that persisted through the
// whole backoff schedule, so callers can tell exhaustion from a hard failure.
var ErrRetriesExhausted = errors.New("retries exhausted")

// withRetry runs op, retrying retryable failures with capped exponential
// backoff. Rate limit errors wait for the reset when it is near enough.
func withRetry(ctx context.Context, cfg RetryConfig, op func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := delay
			var apiErr *Error
			if errors.As(lastErr, &apiErr) && apiErr.Type == ErrorTypeRateLimit && !apiErr.ResetAt.IsZero() {
				if until := time.Until(apiErr.ResetAt); until > wait && until < 5*time.Minute {
					wait = until
				}
			}

			select {
			case <-ctx.Done():
				return WrapError(ctx.Err(), "")
			case <-time.After(wait):
			}

			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *Error
		if !errors.As(err, &apiErr) || !apiErr.Retryable {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, cfg.MaxRetries+1, lastErr)
}
