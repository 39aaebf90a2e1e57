package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	maxAttempts     = 3
	initialInterval = time.Second
	maxInterval     = 30 * time.Second
)

// statusError is implemented by the API client error types so transport
// classification stays decoupled from the backend packages.
type statusError interface {
	HTTPStatus() int
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts, and 5xx responses. Validation failures and 4xx responses are
// permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se statusError
	if errors.As(err, &se) {
		return se.HTTPStatus() >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Do runs fn up to three times with exponential backoff (1s initial, 30s
// cap). Non-transient errors propagate immediately.
func Do(ctx context.Context, fn func(ctx context.Context) error) error {
	operation := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = 0

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx))
}
