// Package resilience wraps calls to external dependencies with
// bounded retries and per-dependency circuit breakers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/contextkb/knowledge-server/internal/core/domain"
)

type Executor struct {
	policy Policy
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(policy Policy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		policy:   policy.withDefaults(),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// Do runs fn against the named dependency. Errors of kind ErrTemporary
// are retried with exponential backoff; all other kinds fail fast.
// Validation-shaped errors never trip the breaker since they say
// nothing about dependency health. A pending backoff is abandoned as
// soon as ctx is cancelled.
func (e *Executor) Do(ctx context.Context, dependency string, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("resilience: nil operation for %q", dependency)
	}
	dep := strings.TrimSpace(dependency)
	if dep == "" {
		dep = "unknown"
	}

	if !e.policy.BreakerEnabled {
		return e.retry(ctx, dep, fn)
	}
	_, err := e.breaker(dep).Execute(func() (struct{}, error) {
		return struct{}{}, e.retry(ctx, dep, fn)
	})
	return err
}

func (e *Executor) retry(ctx context.Context, dependency string, fn func(context.Context) error) error {
	backoff := e.policy.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == e.policy.MaxAttempts {
			return lastErr
		}

		e.logger.Warn("retrying dependency call",
			"dependency", dependency,
			"attempt", attempt,
			"backoff", backoff.String(),
			"error", lastErr,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * e.policy.BackoffMultiplier)
		if backoff > e.policy.MaxBackoff {
			backoff = e.policy.MaxBackoff
		}
	}
	return lastErr
}

func (e *Executor) breaker(dependency string) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[dependency]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        dependency,
		MaxRequests: e.policy.BreakerHalfOpenCalls,
		Timeout:     e.policy.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.policy.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.policy.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("circuit breaker state change",
				"dependency", name, "from", from.String(), "to", to.String())
		},
	})
	e.breakers[dependency] = cb
	return cb
}

func retryable(err error) bool {
	return domain.IsKind(err, domain.ErrTemporary)
}

func countsAsFailure(err error) bool {
	switch {
	case domain.IsKind(err, domain.ErrValidation),
		domain.IsKind(err, domain.ErrNotFound),
		domain.IsKind(err, domain.ErrDuplicate),
		domain.IsKind(err, domain.ErrReservedContext):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// IsCircuitOpen reports whether err came from an open or saturated
// half-open breaker rather than the dependency itself.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
