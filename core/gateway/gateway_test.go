package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"event-coordinator/core/config"
)

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		MaxRetries:           3,
		BreakerThreshold:     5,
		BreakerCooldown:      50 * time.Millisecond,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
	}
}

func TestInvoke_SucceedsFirstTry(t *testing.T) {
	t.Parallel()

	g := New(testConfig())
	calls := 0

	err := g.Invoke(context.Background(), CapabilityMessaging, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestInvoke_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	g := New(testConfig())
	calls := 0

	err := g.Invoke(context.Background(), CapabilityCalendar, func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("connection reset"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestInvoke_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	g := New(testConfig())
	calls := 0
	permanent := errors.New("invalid request")

	err := g.Invoke(context.Background(), CapabilityCalendar, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call for permanent failure, got %d", calls)
	}
}

func TestInvoke_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	g := New(testConfig())
	calls := 0

	err := g.Invoke(context.Background(), CapabilityVenuePrimary, func(context.Context) error {
		calls++
		return Transient(errors.New("timeout"))
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	// initial attempt + MaxRetries
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestInvoke_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.BreakerThreshold = 3
	g := New(cfg)

	for i := 0; i < 3; i++ {
		_ = g.Invoke(context.Background(), CapabilityVenueSecondary, func(context.Context) error {
			return Transient(errors.New("boom"))
		})
	}

	calls := 0
	err := g.Invoke(context.Background(), CapabilityVenueSecondary, func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable while circuit open, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected short-circuit without invoking op, got %d calls", calls)
	}
}

func TestInvoke_CircuitRecoversAfterCooldown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldown = 20 * time.Millisecond
	g := New(cfg)

	for i := 0; i < 2; i++ {
		_ = g.Invoke(context.Background(), CapabilityMessaging, func(context.Context) error {
			return Transient(errors.New("boom"))
		})
	}
	if err := g.Invoke(context.Background(), CapabilityMessaging, func(context.Context) error { return nil }); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected open circuit, got %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if err := g.Invoke(context.Background(), CapabilityMessaging, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected trial call to succeed after cooldown, got %v", err)
	}
}

func TestFromHTTPStatus(t *testing.T) {
	t.Parallel()

	base := errors.New("status")
	if !IsTransient(FromHTTPStatus(503, base)) {
		t.Fatalf("expected 503 to be transient")
	}
	if !IsTransient(FromHTTPStatus(429, base)) {
		t.Fatalf("expected 429 to be transient")
	}
	if IsTransient(FromHTTPStatus(404, base)) {
		t.Fatalf("expected 404 to be permanent")
	}
}
