// Package scheduler drives the derivatives variant's hourly
// announce/attest/recover lifecycle: it keeps every scheduled pair's
// upcoming hour slots pre-committed with nonce points, triggers
// digit-decomposed attestation once a slot's maturity arrives, and
// recovers overdue events on an ordinary ticker cadence, mirroring
// internal/proxy.DepegBreaker's background-loop shape rather than a
// per-request one.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"oraclegate/internal/backend"
	"oraclegate/internal/config"
	"oraclegate/internal/db"
	"oraclegate/internal/signer"
)

// EventID derives the deterministic identifier for a scheduled
// derivatives event from its pair and maturity, so Announce is
// idempotent across restarts and redundant scheduler instances: two
// processes racing to announce the same hour slot converge on the same
// event_id and AnnounceEvent's ON CONFLICT DO NOTHING makes the loser a
// no-op rather than a duplicate.
func EventID(pair string, maturity time.Time) string {
	sum := sha256.Sum256([]byte(pair + "|" + maturity.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])[:16]
}

// Scheduler runs the announce/attest/recover lifecycle for a fixed set
// of scheduled pairs, one per hour slot, against a shared digit-
// decomposed signer and event store.
type Scheduler struct {
	db     db.Database
	signer *signer.DerivativesSigner
	market *backend.Market
	cfg    config.SchedulerConfig
	pairs  []string

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Scheduler. pairs names the assets (as registered in
// market) that carry scheduled derivatives events; each gets its own
// hourly event sequence.
func New(database db.Database, sign *signer.DerivativesSigner, market *backend.Market, cfg config.SchedulerConfig, pairs []string) *Scheduler {
	return &Scheduler{
		db:     database,
		signer: sign,
		market: market,
		cfg:    cfg,
		pairs:  pairs,
		stopCh: make(chan struct{}),
	}
}

// Start runs one immediate recover+announce+attest pass (the recovery
// pass matters most right after a restart), then repeats on
// cfg.AttestationSchedule until Stop or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.runOnce(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.AttestationSchedule)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

// Stop ends the background loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.recover(ctx, now)
	s.announce(ctx, now)
	s.attest(ctx, now)
}

// recover walks events past maturity without s_values: within
// cfg.RecoverGrace of maturity it retries attestation once; past that
// window it is marked terminal missed; a stale attestation delivered
// hours late is worse for consumers than an honest gap.
func (s *Scheduler) recover(ctx context.Context, now time.Time) {
	events, err := s.db.ListEventsPastMaturityWithoutAttestation(ctx, now)
	if err != nil {
		slog.Error("scheduler: recover: list overdue events", "error", err)
		return
	}
	for _, ev := range events {
		if now.Sub(ev.Maturity) <= s.cfg.RecoverGrace {
			if err := s.attestEvent(ctx, ev); err != nil {
				slog.Error("scheduler: recover: retry attest failed", "event_id", ev.EventID, "error", err)
			}
			continue
		}
		if err := s.db.MarkEventMissed(ctx, ev.EventID); err != nil {
			slog.Error("scheduler: recover: mark missed failed", "event_id", ev.EventID, "error", err)
			continue
		}
		// Missed is terminal: the unconsumed scalars must never be
		// reused for a future event.
		if err := s.signer.Drop(ctx, ev.EventID); err != nil {
			slog.Warn("scheduler: drop missed event nonces failed", "event_id", ev.EventID, "error", err)
		}
		slog.Warn("scheduler: event missed, past recovery grace window", "event_id", ev.EventID, "pair", ev.Pair, "maturity", ev.Maturity)
	}
}

// announce ensures every hour inside the announcement horizon has a
// published event with committed R-points, for every scheduled pair.
func (s *Scheduler) announce(ctx context.Context, now time.Time) {
	horizonEnd := now.Add(s.cfg.AnnouncementHorizon)
	for _, pair := range s.pairs {
		for t := nextHourBoundary(now); !t.After(horizonEnd); t = t.Add(time.Hour) {
			eventID := EventID(pair, t)
			if existing, err := s.db.GetEvent(ctx, eventID); err == nil && len(existing.RPoints) > 0 {
				continue
			}

			points, err := s.signer.Announce(ctx, eventID, s.cfg.DigitCount)
			if err != nil {
				slog.Error("scheduler: announce failed", "event_id", eventID, "pair", pair, "error", err)
				continue
			}

			rPoints := make([][]byte, len(points))
			for i, p := range points {
				b := make([]byte, len(p))
				copy(b, p[:])
				rPoints[i] = b
			}

			err = s.db.AnnounceEvent(ctx, db.DerivativesEvent{
				EventID:    eventID,
				Pair:       pair,
				Maturity:   t,
				DigitCount: s.cfg.DigitCount,
				RPoints:    rPoints,
			})
			if err != nil {
				slog.Error("scheduler: persist announce failed", "event_id", eventID, "pair", pair, "error", err)
			}
		}
	}
}

// attest triggers the aggregation engine for every announced event
// whose maturity has arrived and persists the resulting digit-decomposed
// signature set.
func (s *Scheduler) attest(ctx context.Context, now time.Time) {
	events, err := s.db.ListEventsMaturingBefore(ctx, now)
	if err != nil {
		slog.Error("scheduler: attest: list maturing events", "error", err)
		return
	}
	for _, ev := range events {
		if err := s.attestEvent(ctx, ev); err != nil {
			slog.Error("scheduler: attest failed", "event_id", ev.EventID, "pair", ev.Pair, "error", err)
		}
	}
}

func (s *Scheduler) attestEvent(ctx context.Context, ev db.DerivativesEvent) error {
	settled, err := s.market.ResolveAssertion(ctx, ev.Pair)
	if err != nil {
		return fmt.Errorf("resolve settlement price: %w", err)
	}

	price, digits, err := decomposeDigits(settled.Value.Format(0), ev.DigitCount)
	if err != nil {
		return fmt.Errorf("decompose price: %w", err)
	}

	att, err := s.signer.Attest(ctx, ev.EventID, digits)
	if err != nil {
		return fmt.Errorf("sign digits: %w", err)
	}

	sValues := make([][]byte, len(att.Digits))
	for i, d := range att.Digits {
		b := d.S.Bytes()
		sValues[i] = b[:]
	}

	if err := s.db.AttestEvent(ctx, ev.EventID, sValues, price); err != nil {
		return err
	}

	// The event is terminal; its per-digit scalars have served their
	// single use and must not outlive it.
	if err := s.signer.Drop(ctx, ev.EventID); err != nil {
		slog.Warn("scheduler: drop attested event nonces failed", "event_id", ev.EventID, "error", err)
	}
	return nil
}

// decomposeDigits parses an integer price string (as produced by
// decimal.Decimal.Format(0)) into its base-10 digits, most significant
// first, zero-padded to digitCount positions, matching the order
// Announce committed nonces in.
func decomposeDigits(priceStr string, digitCount int) (int64, []byte, error) {
	price, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("price %q is not an integer: %w", priceStr, err)
	}
	if price < 0 {
		return 0, nil, fmt.Errorf("price %d is negative, digit decomposition is unsigned", price)
	}

	padded := fmt.Sprintf("%0*d", digitCount, price)
	if len(padded) != digitCount {
		return 0, nil, fmt.Errorf("price %d needs %d digits, exceeds configured digit_count %d", price, len(padded), digitCount)
	}

	digits := make([]byte, digitCount)
	for i := 0; i < digitCount; i++ {
		digits[i] = padded[i] - '0'
	}
	return price, digits, nil
}

// nextHourBoundary returns the next UTC hour boundary strictly after now.
func nextHourBoundary(now time.Time) time.Time {
	truncated := now.Truncate(time.Hour)
	if !truncated.After(now) {
		truncated = truncated.Add(time.Hour)
	}
	return truncated
}
