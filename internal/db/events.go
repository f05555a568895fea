package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// EventStatus is the derivatives event's lifecycle state.
type EventStatus string

const (
	EventStatusAnnounced EventStatus = "announced"
	EventStatusAttested  EventStatus = "attested"
	EventStatusMissed    EventStatus = "missed"
)

// DerivativesEvent is one scheduled digit-decomposed Schnorr attestation
// event: a pair and a maturity, with the R-point commitments published
// at announce time and the s-values populated at attest time.
type DerivativesEvent struct {
	EventID    string      `json:"event_id"`
	Pair       string      `json:"pair"`
	Maturity   time.Time   `json:"maturity"`
	DigitCount int         `json:"digit_count"`
	RPoints    [][]byte    `json:"r_points"`
	SValues    [][]byte    `json:"s_values,omitempty"`
	Price      *int64      `json:"price,omitempty"`
	AttestedAt *time.Time  `json:"attested_at,omitempty"`
	Status     EventStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
}

// AnnounceEvent persists a freshly announced event with its R-point
// commitments. event_id is deterministic from pair+maturity, so a
// duplicate announce (recovery re-running over an already-announced
// event) is a no-op rather than an error.
func (db *DB) AnnounceEvent(ctx context.Context, ev DerivativesEvent) error {
	rPointsJSON, err := json.Marshal(ev.RPoints)
	if err != nil {
		return fmt.Errorf("failed to marshal r_points: %w", err)
	}

	err = db.Exec(ctx,
		`INSERT INTO derivatives_events (event_id, pair, maturity, digit_count, r_points, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.Pair, ev.Maturity, ev.DigitCount, rPointsJSON, EventStatusAnnounced,
	)
	if err != nil {
		return fmt.Errorf("failed to announce event: %w", err)
	}
	return nil
}

// GetEvent fetches a single event by id.
func (db *DB) GetEvent(ctx context.Context, eventID string) (DerivativesEvent, error) {
	ev, rPointsJSON, sValuesJSON, err := db.scanEventRow(
		db.QueryRow(ctx,
			`SELECT event_id, pair, maturity, digit_count, r_points, s_values, price, attested_at, status, created_at
			 FROM derivatives_events WHERE event_id = $1`, eventID))
	if err != nil {
		return DerivativesEvent{}, err
	}
	if err := unmarshalEventBlobs(&ev, rPointsJSON, sValuesJSON); err != nil {
		return DerivativesEvent{}, err
	}
	return ev, nil
}

// ListEventsMaturingBefore returns announced events maturing at or
// before cutoff — used by the scheduler's attest pass to find due work.
func (db *DB) ListEventsMaturingBefore(ctx context.Context, cutoff time.Time) ([]DerivativesEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT event_id, pair, maturity, digit_count, r_points, s_values, price, attested_at, status, created_at
		 FROM derivatives_events WHERE maturity <= $1 AND status = $2
		 ORDER BY maturity ASC`,
		cutoff, EventStatusAnnounced,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list maturing events: %w", err)
	}
	defer rows.Close()

	var events []DerivativesEvent
	for rows.Next() {
		var ev DerivativesEvent
		var rPointsJSON, sValuesJSON []byte
		if err := rows.Scan(&ev.EventID, &ev.Pair, &ev.Maturity, &ev.DigitCount, &rPointsJSON, &sValuesJSON,
			&ev.Price, &ev.AttestedAt, &ev.Status, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := unmarshalEventBlobs(&ev, rPointsJSON, sValuesJSON); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// AttestEvent persists the digit-decomposed s-values and attested price
// for event_id, transitioning it from announced to attested.
func (db *DB) AttestEvent(ctx context.Context, eventID string, sValues [][]byte, price int64) error {
	sValuesJSON, err := json.Marshal(sValues)
	if err != nil {
		return fmt.Errorf("failed to marshal s_values: %w", err)
	}

	result, err := db.ExecResult(ctx,
		`UPDATE derivatives_events
		 SET s_values = $2, price = $3, attested_at = NOW(), status = $4
		 WHERE event_id = $1 AND status = $5`,
		eventID, sValuesJSON, price, EventStatusAttested, EventStatusAnnounced,
	)
	if err != nil {
		return fmt.Errorf("failed to attest event: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("attest event failed: %s not in announced state", eventID)
	}
	return nil
}

// MarkMissed transitions an event past maturity and past its recovery
// grace window to the terminal missed state.
func (db *DB) MarkEventMissed(ctx context.Context, eventID string) error {
	err := db.Exec(ctx,
		`UPDATE derivatives_events SET status = $2 WHERE event_id = $1 AND status = $3`,
		eventID, EventStatusMissed, EventStatusAnnounced,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event missed: %w", err)
	}
	return nil
}

// ListEventsPastMaturityWithoutAttestation supports the scheduler's
// recover pass: events whose maturity has already passed but that never
// reached attested or missed.
func (db *DB) ListEventsPastMaturityWithoutAttestation(ctx context.Context, now time.Time) ([]DerivativesEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT event_id, pair, maturity, digit_count, r_points, s_values, price, attested_at, status, created_at
		 FROM derivatives_events WHERE maturity < $1 AND status = $2
		 ORDER BY maturity ASC`,
		now, EventStatusAnnounced,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue events: %w", err)
	}
	defer rows.Close()

	var events []DerivativesEvent
	for rows.Next() {
		var ev DerivativesEvent
		var rPointsJSON, sValuesJSON []byte
		if err := rows.Scan(&ev.EventID, &ev.Pair, &ev.Maturity, &ev.DigitCount, &rPointsJSON, &sValuesJSON,
			&ev.Price, &ev.AttestedAt, &ev.Status, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := unmarshalEventBlobs(&ev, rPointsJSON, sValuesJSON); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (db *DB) scanEventRow(row pgx.Row) (DerivativesEvent, []byte, []byte, error) {
	var ev DerivativesEvent
	var rPointsJSON, sValuesJSON []byte
	err := row.Scan(&ev.EventID, &ev.Pair, &ev.Maturity, &ev.DigitCount, &rPointsJSON, &sValuesJSON,
		&ev.Price, &ev.AttestedAt, &ev.Status, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DerivativesEvent{}, nil, nil, err
		}
		return DerivativesEvent{}, nil, nil, fmt.Errorf("failed to scan event: %w", err)
	}
	return ev, rPointsJSON, sValuesJSON, nil
}

func unmarshalEventBlobs(ev *DerivativesEvent, rPointsJSON, sValuesJSON []byte) error {
	if rPointsJSON != nil {
		if err := json.Unmarshal(rPointsJSON, &ev.RPoints); err != nil {
			return fmt.Errorf("failed to unmarshal r_points: %w", err)
		}
	}
	if sValuesJSON != nil {
		if err := json.Unmarshal(sValuesJSON, &ev.SValues); err != nil {
			return fmt.Errorf("failed to unmarshal s_values: %w", err)
		}
	}
	return nil
}
