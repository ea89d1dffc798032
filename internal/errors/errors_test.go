package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndRetryable(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		retryable bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, false},
		{"io", ErrCodeCorruptIndex, CategoryIO, false},
		{"network timeout", ErrCodeNetworkTimeout, CategoryNetwork, true},
		{"throttled", ErrCodeProviderThrottled, CategoryNetwork, true},
		{"validation", ErrCodeDimensionMismatch, CategoryValidation, false},
		{"internal", ErrCodeEmbeddingFailed, CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestVerifyError_ChainSupport(t *testing.T) {
	cause := errors.New("disk says no")
	err := New(ErrCodeCatalog, "catalog write failed", cause)
	wrapped := fmt.Errorf("saving product: %w", err)

	assert.ErrorIs(t, wrapped, New(ErrCodeCatalog, "", nil))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, ErrCodeCatalog, GetCode(wrapped))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeCorruptIndex, "bad gob", nil)))
	assert.False(t, IsFatal(New(ErrCodeQueryEmpty, "", nil)))
	assert.False(t, IsFatal(nil))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return New(ErrCodeNetworkTimeout, "timeout", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_NonRetryableAbortsImmediately(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return New(ErrCodeInvalidInput, "bad query", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ErrCodeInvalidInput, GetCode(err))
}

func TestRetryWithResult_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RetryWithResult(ctx, DefaultRetryConfig(), func() (int, error) {
		return 0, New(ErrCodeNetworkTimeout, "timeout", nil)
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_ExhaustedBudgetWrapsLastError(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	err := Retry(context.Background(), cfg, func() error {
		return New(ErrCodeNetworkUnavailable, "still down", nil)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, New(ErrCodeNetworkUnavailable, "", nil))
}
