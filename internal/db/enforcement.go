package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// PayerState is the persisted enforcement tier for one stablecoin payer
// address. Transitions are forward-only in v1: clean -> grace -> blocked.
type PayerState struct {
	PayerAddress  string
	FailureCount  int
	GraceUntil    *time.Time
	Blocked       bool
	LastFailureAt *time.Time
	UpdatedAt     time.Time
}

// Tier reports the payer's current enforcement tier given now.
func (s PayerState) Tier(now time.Time) string {
	if s.Blocked {
		return "blocked"
	}
	if s.GraceUntil != nil && now.Before(*s.GraceUntil) {
		return "grace"
	}
	return "clean"
}

// GetPayerState returns the enforcement row for payerAddress, or a zero
// (clean) state if none exists yet.
func (db *DB) GetPayerState(ctx context.Context, payerAddress string) (PayerState, error) {
	var s PayerState
	err := db.QueryRow(ctx,
		`SELECT payer_address, failure_count, grace_until, blocked, last_failure_at, updated_at
		 FROM payer_enforcement WHERE payer_address = $1`,
		payerAddress,
	).Scan(&s.PayerAddress, &s.FailureCount, &s.GraceUntil, &s.Blocked, &s.LastFailureAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PayerState{PayerAddress: payerAddress}, nil
		}
		return PayerState{}, fmt.Errorf("failed to load payer enforcement state: %w", err)
	}
	return s, nil
}

// ListBlockedPayers returns every payer currently tripped to blocked,
// for the admin enforcement surface.
func (db *DB) ListBlockedPayers(ctx context.Context) ([]PayerState, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT payer_address, failure_count, grace_until, blocked, last_failure_at, updated_at
		 FROM payer_enforcement WHERE blocked = true ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked payers: %w", err)
	}
	defer rows.Close()

	var states []PayerState
	for rows.Next() {
		var s PayerState
		if err := rows.Scan(&s.PayerAddress, &s.FailureCount, &s.GraceUntil, &s.Blocked, &s.LastFailureAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payer enforcement row: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// UnblockPayer resets a blocked payer back to clean, for operator-driven
// manual unblock via the admin surface. This is the enforcement state
// machine's one backward transition, and it is operator-gated rather
// than automatic.
func (db *DB) UnblockPayer(ctx context.Context, payerAddress string) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin unblock tx: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx,
		`UPDATE payer_enforcement SET blocked = false, failure_count = 0, grace_until = NULL, updated_at = NOW()
		 WHERE payer_address = $1 AND blocked = true`,
		payerAddress,
	)
	if err != nil {
		return fmt.Errorf("failed to unblock payer: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("unblock failed: payer not found or not blocked")
	}

	// Clear the failure log too, so the residual window count doesn't
	// re-trip the payer on its very next failure.
	if _, err := tx.Exec(ctx,
		`DELETE FROM payer_settlement_failures WHERE payer_address = $1`,
		payerAddress,
	); err != nil {
		return fmt.Errorf("failed to clear settlement failure log: %w", err)
	}

	return tx.Commit(ctx)
}

// RecordSettlementFailure appends a failure timestamp to payerAddress's
// log, prunes entries that have aged out of the trailing window, and
// re-derives the enforcement tier from the surviving count: a fresh
// grace_until cooldown on every failure, blocked once the count of
// failures inside one actual window reaches threshold. The per-failure
// log (payer_settlement_failures) is what makes the window a true
// sliding window — a payer failing once every few days never
// accumulates toward blocked, only a genuine burst does. Forward-only:
// once blocked, it stays blocked regardless of subsequent calls.
func (db *DB) RecordSettlementFailure(ctx context.Context, payerAddress string, graceCooldown time.Duration, blockedThreshold int, blockedWindow time.Duration) (PayerState, error) {
	graceUntil := time.Now().Add(graceCooldown)

	tx, err := db.BeginTx(ctx)
	if err != nil {
		return PayerState{}, fmt.Errorf("failed to begin enforcement tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO payer_settlement_failures (payer_address, failed_at) VALUES ($1, NOW())`,
		payerAddress,
	); err != nil {
		return PayerState{}, fmt.Errorf("failed to append settlement failure: %w", err)
	}

	// Aged-out entries can never count toward any future window, so the
	// log stays bounded at the worst-case burst size per payer.
	if _, err := tx.Exec(ctx,
		`DELETE FROM payer_settlement_failures
		 WHERE payer_address = $1 AND failed_at < NOW() - $2::interval`,
		payerAddress, blockedWindow,
	); err != nil {
		return PayerState{}, fmt.Errorf("failed to prune settlement failures: %w", err)
	}

	var windowCount int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM payer_settlement_failures WHERE payer_address = $1`,
		payerAddress,
	).Scan(&windowCount); err != nil {
		return PayerState{}, fmt.Errorf("failed to count settlement failures: %w", err)
	}

	var s PayerState
	err = tx.QueryRow(ctx,
		`INSERT INTO payer_enforcement (payer_address, failure_count, grace_until, blocked, last_failure_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 ON CONFLICT (payer_address) DO UPDATE SET
		   failure_count   = $2,
		   grace_until     = $3,
		   blocked         = payer_enforcement.blocked OR $4,
		   last_failure_at = NOW(),
		   updated_at      = NOW()
		 RETURNING payer_address, failure_count, grace_until, blocked, last_failure_at, updated_at`,
		payerAddress, windowCount, graceUntil, windowCount >= blockedThreshold,
	).Scan(&s.PayerAddress, &s.FailureCount, &s.GraceUntil, &s.Blocked, &s.LastFailureAt, &s.UpdatedAt)
	if err != nil {
		return PayerState{}, fmt.Errorf("failed to record settlement failure: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return PayerState{}, fmt.Errorf("failed to commit enforcement tx: %w", err)
	}
	return s, nil
}
