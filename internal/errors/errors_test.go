package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	err := New(ErrCodeInvalidQuery, "query has no root node", nil)

	assert.Equal(t, "[ERR_402_INVALID_QUERY] query has no root node", err.Error())
	assert.Equal(t, ErrCodeInvalidQuery, GetCode(err))
}

func TestError_UnwrapChain(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := New(ErrCodeStoreFatal, "commit failed", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := New(ErrCodeSerialization, "bad payload", fmt.Errorf("eof"))

	assert.True(t, stderrors.Is(err, ErrSerialization))
	assert.False(t, stderrors.Is(err, ErrStoreFatal))

	// Code matching also works through a wrapping fmt layer.
	wrapped := fmt.Errorf("register: %w", err)
	assert.True(t, stderrors.Is(wrapped, ErrSerialization))
}

func TestError_Retryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeStoreFatal, "commit failed", nil)))
	assert.False(t, IsRetryable(New(ErrCodeInvalidQuery, "bad query", nil)))
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))

	err := Wrap(ErrCodeConfigInvalid, fmt.Errorf("bad yaml"))
	require.NotNil(t, err)
	assert.Equal(t, ErrCodeConfigInvalid, err.Code)
	assert.Equal(t, "bad yaml", err.Message)
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	calls := 0

	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	calls := 0
	boom := fmt.Errorf("boom")

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, boom))
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
}

func TestRetry_HonorsCancellation(t *testing.T) {
	cfg := DefaultRetryConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, cfg, func() error { return fmt.Errorf("never retried") })
	assert.ErrorIs(t, err, context.Canceled)
}
