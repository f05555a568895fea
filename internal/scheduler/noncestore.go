package scheduler

import (
	"context"
	"fmt"

	"oraclegate/internal/db"
	"oraclegate/internal/signer"
)

// DBNonceStore persists committed nonce scalars in the derivatives
// nonce table, so a backend restart between an event's announcement and
// its attestation does not lose the scalars behind already-published
// R points — the recovery pass can retry attestation with the original
// nonces instead of writing the event off as missed. Single use is
// enforced by the table's consumed compare-and-set, which holds across
// processes, not just within one.
type DBNonceStore struct {
	db db.Database
}

// NewDBNonceStore builds the production NonceStore over database.
func NewDBNonceStore(database db.Database) *DBNonceStore {
	return &DBNonceStore{db: database}
}

// Commit generates a fresh nonce scalar, persists it with its public
// point, and hands both back for publication. The persisted copy is the
// authoritative one; the in-memory scalar is discarded by the caller as
// soon as the announcement is built.
func (s *DBNonceStore) Commit(ctx context.Context, eventID string, digitIndex int) (signer.NonceScalar, [33]byte, error) {
	nonce, point, err := signer.NewNonceScalar()
	if err != nil {
		return signer.NonceScalar{}, [33]byte{}, err
	}

	scalar := nonce.Bytes()
	err = s.db.CommitNonceScalar(ctx, eventID, digitIndex, scalar[:], point[:])
	zeroBytes(scalar[:])
	if err != nil {
		nonce.Zero()
		return signer.NonceScalar{}, [33]byte{}, fmt.Errorf("scheduler: persist nonce scalar: %w", err)
	}
	return nonce, point, nil
}

// Take consumes the persisted scalar for one digit position exactly
// once; the row-level compare-and-set fails a second take.
func (s *DBNonceStore) Take(ctx context.Context, eventID string, digitIndex int) (signer.NonceScalar, [33]byte, error) {
	scalarBytes, pointBytes, err := s.db.TakeNonceScalar(ctx, eventID, digitIndex)
	if err != nil {
		return signer.NonceScalar{}, [33]byte{}, fmt.Errorf("scheduler: take nonce scalar: %w", err)
	}
	defer zeroBytes(scalarBytes)

	if len(scalarBytes) != 32 || len(pointBytes) != 33 {
		return signer.NonceScalar{}, [33]byte{}, fmt.Errorf("scheduler: stored nonce for event %s digit %d has wrong shape", eventID, digitIndex)
	}

	var scalar [32]byte
	copy(scalar[:], scalarBytes)
	nonce, err := signer.NonceScalarFromBytes(scalar)
	zeroBytes(scalar[:])
	if err != nil {
		return signer.NonceScalar{}, [33]byte{}, err
	}

	var point [33]byte
	copy(point[:], pointBytes)
	return nonce, point, nil
}

// Drop deletes every persisted scalar for a terminal event.
func (s *DBNonceStore) Drop(ctx context.Context, eventID string) error {
	return s.db.DropNonceScalars(ctx, eventID)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
