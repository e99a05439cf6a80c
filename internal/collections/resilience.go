package collections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/bull/narrative-knowledge/internal/storage"
)

// StatusError is a non-success HTTP response from the collections API.
type StatusError struct {
	Operation string
	Code      int
	Body      string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Operation, e.Code, e.Body)
}

// Transient reports whether retrying the request may succeed.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// isTransient classifies an error from a single attempt. Transport errors and
// timeouts are transient, as are 429 and 5xx; every other status is final.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	// Caller cancellation is final, transport failures and timeouts are not.
	var ue *url.Error
	if errors.As(err, &ue) {
		return !errors.Is(err, context.Canceled)
	}
	return errors.Is(err, context.DeadlineExceeded)
}

type executor struct {
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[struct{}]
	maxRetries uint64
	initial    time.Duration
	logger     *slog.Logger
}

func newExecutor(cfg Config, logger *slog.Logger) *executor {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	settings := gobreaker.Settings{
		Name:        "ionos-collections",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &executor{
		limiter:    rate.NewLimiter(limit, max(1, int(cfg.RateLimit))),
		breaker:    gobreaker.NewCircuitBreaker[struct{}](settings),
		maxRetries: cfg.MaxRetries,
		initial:    cfg.RetryInitialInterval,
		logger:     logger,
	}
}

// execute runs fn under the circuit breaker, pacing every attempt through the
// rate limiter and retrying transient failures with exponential backoff.
// Transient failures that outlive the retries, and an open breaker, are
// reported as storage.ErrBackendUnavailable.
func (e *executor) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	_, err := e.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, e.retry(ctx, operation, fn)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s: %v", storage.ErrBackendUnavailable, operation, err)
	case isTransient(err):
		return fmt.Errorf("%w: %s: %w", storage.ErrBackendUnavailable, operation, err)
	default:
		return err
	}
}

func (e *executor) retry(ctx context.Context, operation string, fn func(context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.initial
	exp.MaxInterval = 10 * time.Second
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, e.maxRetries), ctx)

	attempt := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := fn(ctx)
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn("Retrying collections request", "operation", operation, "backoff", wait, "error", err)
	}
	return backoff.RetryNotify(attempt, policy, notify)
}
