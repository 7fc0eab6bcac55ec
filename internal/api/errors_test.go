package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseError(status int, message string) *github.ErrorResponse {
	return &github.ErrorResponse{
		Response: &http.Response{
			StatusCode: status,
			Request:    &http.Request{},
		},
		Message: message,
	}
}

func TestWrapErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{
			name:     "unauthorized",
			err:      responseError(http.StatusUnauthorized, "Bad credentials"),
			wantType: ErrorTypeAuth,
		},
		{
			name:      "rate limited via 403",
			err:       responseError(http.StatusForbidden, "API rate limit exceeded for user"),
			wantType:  ErrorTypeRateLimit,
			retryable: true,
		},
		{
			name:     "missing scope",
			err:      responseError(http.StatusForbidden, "Resource not accessible by integration"),
			wantType: ErrorTypeScope,
		},
		{
			name:     "not found",
			err:      responseError(http.StatusNotFound, "Not Found"),
			wantType: ErrorTypeNotFound,
		},
		{
			name:     "conflict",
			err:      responseError(http.StatusConflict, "Git Repository is empty."),
			wantType: ErrorTypeConflict,
		},
		{
			name:      "server error",
			err:       responseError(http.StatusBadGateway, "Server Error"),
			wantType:  ErrorTypeUpstream,
			retryable: true,
		},
		{
			name:     "client error",
			err:      responseError(http.StatusUnprocessableEntity, "Validation Failed"),
			wantType: ErrorTypeUpstream,
		},
		{
			name: "primary rate limit",
			err: &github.RateLimitError{
				Rate: github.Rate{Reset: github.Timestamp{Time: time.Now().Add(time.Hour)}},
			},
			wantType:  ErrorTypeRateLimit,
			retryable: true,
		},
		{
			name:      "secondary rate limit",
			err:       &github.AbuseRateLimitError{},
			wantType:  ErrorTypeRateLimit,
			retryable: true,
		},
		{
			name:      "deadline exceeded",
			err:       fmt.Errorf("fetching: %w", context.DeadlineExceeded),
			wantType:  ErrorTypeTimeout,
			retryable: true,
		},
		{
			name:     "plain transport error",
			err:      errors.New("connection refused"),
			wantType: ErrorTypeUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapError(tt.err, "test resource")
			require.NotNil(t, wrapped)
			assert.Equal(t, tt.wantType, wrapped.Type)
			assert.Equal(t, tt.retryable, wrapped.Retryable)
			assert.Equal(t, "test resource", wrapped.Resource)
			assert.True(t, IsType(wrapped, tt.wantType))
		})
	}
}

func TestWrapErrorNil(t *testing.T) {
	assert.Nil(t, WrapError(nil, "anything"))
}

func TestWrapErrorPassesThroughClassified(t *testing.T) {
	orig := &Error{Type: ErrorTypeNotFound, Message: "gone", Resource: "repo"}
	wrapped := WrapError(fmt.Errorf("outer: %w", orig), "other")
	assert.Same(t, orig, wrapped)
}

func TestErrorUnwrap(t *testing.T) {
	cause := responseError(http.StatusUnauthorized, "Bad credentials")
	wrapped := WrapError(cause, "orgs")

	var respErr *github.ErrorResponse
	assert.True(t, errors.As(wrapped, &respErr))
}

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestWithRetryEventualSuccess(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), fastRetry(3), func() error {
		attempts++
		if attempts < 3 {
			return WrapError(responseError(http.StatusBadGateway, "Server Error"), "x")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryNonRetryableFailsFast(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), fastRetry(3), func() error {
		attempts++
		return WrapError(responseError(http.StatusNotFound, "Not Found"), "x")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsType(err, ErrorTypeNotFound))
}

func TestWithRetryExhaustion(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), fastRetry(2), func() error {
		attempts++
		return WrapError(responseError(http.StatusBadGateway, "Server Error"), "x")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.True(t, IsType(err, ErrorTypeUpstream))
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := withRetry(ctx, fastRetry(3), func() error {
		attempts++
		return WrapError(responseError(http.StatusBadGateway, "Server Error"), "x")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
