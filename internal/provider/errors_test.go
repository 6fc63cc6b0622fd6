package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"plain error", errors.New("boom"), false},
		{"rate limited", NewError(ErrCodeRateLimited, "openai", "429", false), true},
		{"timeout", NewError(ErrCodeTimeout, "openai", "deadline", false), true},
		{"network", NewError(ErrCodeNetworkError, "openai", "conn reset", false), true},
		{"auth failed", NewError(ErrCodeAuthFailed, "openai", "401", true), false},
		{"quota", NewError(ErrCodeQuotaExceeded, "openai", "402", true), false},
		{"invalid request", NewError(ErrCodeInvalidRequest, "openai", "400", true), false},
		{"unknown retryable flag", NewError(ErrCodeUnknown, "openai", "???", true), true},
		{"wrapped", fmt.Errorf("invoke: %w", NewError(ErrCodeServiceUnavailable, "glm", "503", true)), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestIsThrottled(t *testing.T) {
	assert.True(t, IsThrottled(NewError(ErrCodeRateLimited, "p", "m", true)))
	assert.True(t, IsThrottled(NewError(ErrCodeTimeout, "p", "m", true)))
	assert.False(t, IsThrottled(NewError(ErrCodeNetworkError, "p", "m", true)))
	assert.False(t, IsThrottled(errors.New("nope")))
}

func TestErrorString(t *testing.T) {
	err := NewError(ErrCodeRateLimited, "openai", "too many requests", true)
	assert.Equal(t, "[openai] RATE_LIMITED: too many requests", err.Error())
}
