package signer

import (
	"context"
	"fmt"
	"sync"
)

// NonceStore holds pre-committed per-digit nonce scalars between the
// announcement of a derivatives event and its attestation. Commit must
// run once at announcement time, before any digit R_i is published;
// Take must run exactly once per digit, at attestation time, and must
// fail on a second call so nonce reuse is caught rather than silently
// repeated; Drop discards every scalar for a terminal (attested or
// missed) event so nothing outlives its single use.
type NonceStore interface {
	Commit(ctx context.Context, eventID string, digitIndex int) (NonceScalar, [33]byte, error)
	Take(ctx context.Context, eventID string, digitIndex int) (NonceScalar, [33]byte, error)
	Drop(ctx context.Context, eventID string) error
}

type nonceKey struct {
	eventID    string
	digitIndex int
}

type nonceEntry struct {
	nonce    NonceScalar
	point    [33]byte
	consumed bool
}

// MemoryNonceStore is an in-process NonceStore with no persistence: a
// restart between announce and attest loses every committed scalar, and
// the affected events can only be recovered as missed. That makes it
// suitable for tests and nothing else — production wiring uses the
// database-backed store (scheduler.DBNonceStore), which survives
// restarts and enforces the same single-use discipline as a row-level
// compare-and-set.
type MemoryNonceStore struct {
	mu      sync.Mutex
	entries map[nonceKey]*nonceEntry
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{entries: make(map[nonceKey]*nonceEntry)}
}

func (m *MemoryNonceStore) Commit(ctx context.Context, eventID string, digitIndex int) (NonceScalar, [33]byte, error) {
	nonce, point, err := NewNonceScalar()
	if err != nil {
		return NonceScalar{}, [33]byte{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := nonceKey{eventID, digitIndex}
	if _, exists := m.entries[key]; exists {
		return NonceScalar{}, [33]byte{}, fmt.Errorf("signer: nonce already committed for event %q digit %d", eventID, digitIndex)
	}
	m.entries[key] = &nonceEntry{nonce: nonce, point: point}
	return nonce, point, nil
}

func (m *MemoryNonceStore) Take(ctx context.Context, eventID string, digitIndex int) (NonceScalar, [33]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nonceKey{eventID, digitIndex}
	entry, ok := m.entries[key]
	if !ok {
		return NonceScalar{}, [33]byte{}, fmt.Errorf("signer: no committed nonce for event %q digit %d", eventID, digitIndex)
	}
	if entry.consumed {
		return NonceScalar{}, [33]byte{}, fmt.Errorf("signer: nonce for event %q digit %d already consumed", eventID, digitIndex)
	}
	entry.consumed = true
	return entry.nonce, entry.point, nil
}

func (m *MemoryNonceStore) Drop(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entry := range m.entries {
		if key.eventID == eventID {
			entry.nonce.Zero()
			delete(m.entries, key)
		}
	}
	return nil
}
