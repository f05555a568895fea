package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CommitNonceScalar persists a freshly generated per-digit nonce scalar
// alongside its public R point, strictly before the point is published
// in the event's announcement. A duplicate commit for the same
// (event_id, digit_index) is an error: the caller generated a second
// scalar for a position that already has one, and the published R would
// no longer match what attestation releases.
//
// Scalars are stored raw; the database carries the same payment and
// event state a leaked scalar would compromise, so encryption at rest
// is the deployment's storage-layer concern, not a per-column one.
func (db *DB) CommitNonceScalar(ctx context.Context, eventID string, digitIndex int, scalar, rPoint []byte) error {
	_, err := db.ExecResult(ctx,
		`INSERT INTO derivatives_nonces (event_id, digit_index, scalar, r_point)
		 VALUES ($1, $2, $3, $4)`,
		eventID, digitIndex, scalar, rPoint,
	)
	if err != nil {
		return fmt.Errorf("failed to commit nonce scalar for event %s digit %d: %w", eventID, digitIndex, err)
	}
	return nil
}

// TakeNonceScalar consumes one committed nonce scalar: a compare-and-set
// flips consumed false -> true and returns the scalar and its R point.
// A position that was never committed, or was already taken, yields an
// error — the single-use discipline fails loudly rather than re-release
// a scalar whose reuse leaks the private key.
func (db *DB) TakeNonceScalar(ctx context.Context, eventID string, digitIndex int) (scalar, rPoint []byte, err error) {
	err = db.QueryRow(ctx,
		`UPDATE derivatives_nonces SET consumed = true
		 WHERE event_id = $1 AND digit_index = $2 AND consumed = false
		 RETURNING scalar, r_point`,
		eventID, digitIndex,
	).Scan(&scalar, &rPoint)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("no unconsumed nonce for event %s digit %d (never committed, already taken, or dropped)", eventID, digitIndex)
		}
		return nil, nil, fmt.Errorf("failed to take nonce scalar for event %s digit %d: %w", eventID, digitIndex, err)
	}
	return scalar, rPoint, nil
}

// DropNonceScalars deletes every nonce row for eventID in one
// statement, run once the event is terminal (attested or missed) so
// scalars never outlive the single attestation they were committed for.
func (db *DB) DropNonceScalars(ctx context.Context, eventID string) error {
	_, err := db.ExecResult(ctx,
		`DELETE FROM derivatives_nonces WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to drop nonce scalars for event %s: %w", eventID, err)
	}
	return nil
}
