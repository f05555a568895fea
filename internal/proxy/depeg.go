package proxy

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"oraclegate/internal/config"
)

// DepegBreaker is a process-wide circuit breaker over the stablecoin
// rail: tripped when the USDC-equivalent reference rate diverges from
// USD parity by more than config.DepegConfig.Tolerance, recomputed on a
// background cadence rather than on the request path so a slow rate
// check never adds latency to a payment-gated request.
type DepegBreaker struct {
	tolerance float64
	interval  time.Duration
	sampler   func(ctx context.Context) (float64, error) // returns |divergence| as a fraction

	tripped atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewDepegBreaker builds a breaker from cfg. sampler reports the current
// absolute divergence of the stablecoin reference rate from USD parity;
// a non-nil error leaves the breaker's last known state unchanged.
func NewDepegBreaker(cfg config.DepegConfig, sampler func(ctx context.Context) (float64, error)) *DepegBreaker {
	return &DepegBreaker{
		tolerance: cfg.Tolerance,
		interval:  cfg.CheckInterval,
		sampler:   sampler,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background recompute loop. Call Stop to end it.
func (b *DepegBreaker) Start(ctx context.Context) {
	b.recompute(ctx)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				b.recompute(ctx)
			}
		}
	}()
}

// Stop ends the background loop and waits for it to exit.
func (b *DepegBreaker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

func (b *DepegBreaker) recompute(ctx context.Context) {
	divergence, err := b.sampler(ctx)
	if err != nil {
		slog.Warn("depeg breaker: sample failed, retaining previous state", "error", err)
		return
	}
	wasTripped := b.tripped.Load()
	nowTripped := divergence > b.tolerance
	b.tripped.Store(nowTripped)
	if nowTripped && !wasTripped {
		slog.Warn("depeg breaker: tripped", "divergence", divergence, "tolerance", b.tolerance)
	} else if wasTripped && !nowTripped {
		slog.Info("depeg breaker: reset", "divergence", divergence, "tolerance", b.tolerance)
	}
}

// OK reports whether the stablecoin rail is currently admitted.
func (b *DepegBreaker) OK() bool {
	return !b.tripped.Load()
}
