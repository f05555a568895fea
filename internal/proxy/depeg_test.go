package proxy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"oraclegate/internal/config"
)

func TestDepegBreaker_TripsAboveTolerance(t *testing.T) {
	breaker := NewDepegBreaker(config.DepegConfig{Tolerance: 0.02}, func(ctx context.Context) (float64, error) {
		return 0.05, nil
	})

	breaker.recompute(context.Background())

	if breaker.OK() {
		t.Error("expected breaker tripped when divergence exceeds tolerance")
	}
}

func TestDepegBreaker_StaysOKWithinTolerance(t *testing.T) {
	breaker := NewDepegBreaker(config.DepegConfig{Tolerance: 0.02}, func(ctx context.Context) (float64, error) {
		return 0.001, nil
	})

	breaker.recompute(context.Background())

	if !breaker.OK() {
		t.Error("expected breaker OK when divergence is within tolerance")
	}
}

func TestDepegBreaker_RetainsStateOnSamplerError(t *testing.T) {
	var callCount int32
	breaker := NewDepegBreaker(config.DepegConfig{Tolerance: 0.02}, func(ctx context.Context) (float64, error) {
		n := atomic.AddInt32(&callCount, 1)
		if n == 1 {
			return 0.05, nil // trips
		}
		return 0, errors.New("upstream unavailable")
	})

	breaker.recompute(context.Background())
	if breaker.OK() {
		t.Fatal("expected breaker tripped after first sample")
	}

	// A failing sample must not reset the tripped state.
	breaker.recompute(context.Background())
	if breaker.OK() {
		t.Error("expected breaker to remain tripped when the sampler errors")
	}
}

func TestDepegBreaker_ResetsWhenDivergenceRecovers(t *testing.T) {
	var callCount int32
	breaker := NewDepegBreaker(config.DepegConfig{Tolerance: 0.02}, func(ctx context.Context) (float64, error) {
		n := atomic.AddInt32(&callCount, 1)
		if n == 1 {
			return 0.05, nil
		}
		return 0.001, nil
	})

	breaker.recompute(context.Background())
	if breaker.OK() {
		t.Fatal("expected breaker tripped after first sample")
	}

	breaker.recompute(context.Background())
	if !breaker.OK() {
		t.Error("expected breaker reset once divergence returns within tolerance")
	}
}

func TestDepegBreaker_StartStop(t *testing.T) {
	var callCount int32
	breaker := NewDepegBreaker(config.DepegConfig{Tolerance: 0.02, CheckInterval: 10 * time.Millisecond}, func(ctx context.Context) (float64, error) {
		atomic.AddInt32(&callCount, 1)
		return 0.001, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	breaker.Start(ctx)
	time.Sleep(35 * time.Millisecond)
	breaker.Stop()

	if atomic.LoadInt32(&callCount) < 2 {
		t.Errorf("expected the background loop to sample more than once, got %d calls", callCount)
	}
	if !breaker.OK() {
		t.Error("expected breaker OK for consistently low divergence")
	}
}
