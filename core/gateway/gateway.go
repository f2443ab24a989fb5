package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"event-coordinator/core/config"
	"event-coordinator/core/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// Capability names one outbound dependency. Each capability gets its own
// circuit breaker and concurrency bound, shared across all events.
type Capability string

const (
	CapabilityMessaging      Capability = "messaging"
	CapabilityCalendar       Capability = "calendar"
	CapabilityVenuePrimary   Capability = "venue_search"
	CapabilityVenueSecondary Capability = "venue_search_secondary"
)

var (
	// ErrUnavailable is returned while a capability's circuit is open.
	ErrUnavailable = errors.New("gateway: capability unavailable")
	// ErrExhausted is returned when bounded retries ran out on a
	// transient failure.
	ErrExhausted = errors.New("gateway: retries exhausted")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable (network failure, timeout, 5xx).
// Unmarked errors are treated as permanent and returned immediately.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// FromHTTPStatus classifies a non-2xx provider response: 5xx and 429 are
// transient, everything else is permanent.
func FromHTTPStatus(status int, err error) error {
	if status >= 500 || status == 429 {
		return Transient(err)
	}
	return err
}

const defaultMaxConcurrent = 8

// Gateway wraps every outbound capability with bounded exponential-backoff
// retries and a per-capability circuit breaker.
type Gateway struct {
	cfg config.GatewayConfig

	mu       sync.Mutex
	breakers map[Capability]*gobreaker.CircuitBreaker
	slots    map[Capability]chan struct{}
}

func New(cfg config.GatewayConfig) *Gateway {
	return &Gateway{
		cfg:      cfg,
		breakers: make(map[Capability]*gobreaker.CircuitBreaker),
		slots:    make(map[Capability]chan struct{}),
	}
}

func (g *Gateway) breaker(capability Capability) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[capability]; ok {
		return cb
	}

	threshold := uint32(g.cfg.BreakerThreshold)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(capability),
		MaxRequests: 1,
		Timeout:     g.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Gateway:BreakerStateChange",
				"capability", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	g.breakers[capability] = cb
	return cb
}

func (g *Gateway) slot(capability Capability) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s, ok := g.slots[capability]; ok {
		return s
	}
	s := make(chan struct{}, defaultMaxConcurrent)
	g.slots[capability] = s
	return s
}

// Invoke runs op under the capability's breaker with bounded retries.
// Callers observe nil, ErrUnavailable (circuit open), ErrExhausted
// (transient failure past the retry budget) or the permanent error itself.
func (g *Gateway) Invoke(ctx context.Context, capability Capability, op func(context.Context) error) error {
	slots := g.slot(capability)
	select {
	case slots <- struct{}{}:
		defer func() { <-slots }()
	case <-ctx.Done():
		return ctx.Err()
	}

	cb := g.breaker(capability)

	attempt := func() error {
		_, err := cb.Execute(func() (any, error) {
			return nil, op(ctx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrUnavailable, capability))
		}
		if IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.RetryInitialInterval
	b.MaxInterval = g.cfg.RetryMaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.cfg.MaxRetries)), ctx)

	err := backoff.Retry(attempt, policy)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	if IsTransient(err) {
		return fmt.Errorf("%w: %s: %v", ErrExhausted, capability, err)
	}
	return err
}
