package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiError struct {
	status int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d", e.status)
}

func (e *apiError) HTTPStatus() int {
	return e.status
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &apiError{status: 500}, true},
		{"bad gateway", &apiError{status: 502}, true},
		{"unprocessable", &apiError{status: 422}, false},
		{"unauthorized", &apiError{status: 401}, false},
		{"not found", &apiError{status: 404}, false},
		{"wrapped server error", fmt.Errorf("create event: %w", &apiError{status: 503}), true},
		{"wrapped client error", fmt.Errorf("create event: %w", &apiError{status: 400}), false},
		{"deadline", context.DeadlineExceeded, true},
		{"net timeout", timeoutError{}, true},
		{"plain error", errors.New("parse failure"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoPermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	wantErr := &apiError{status: 422}
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return wantErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, calls, "4xx must not be retried")
}

func TestDoTransientStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return &apiError{status: 500}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancellation stops the retry loop before the next attempt")
}
