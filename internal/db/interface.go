package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Database defines the full set of persistence operations the oracle's
// proxy, settlement worker, and scheduler depend on. The interface
// enables mocking in handler unit tests.
type Database interface {
	Ping(ctx context.Context) error
	Close()
	BeginTx(ctx context.Context) (pgx.Tx, error)

	// Payment transaction operations (reserve-commit settlement pattern)
	CreateOrGetPaymentTransaction(ctx context.Context, tx *PaymentTransaction) (*PaymentTransaction, bool, error)
	GetPaymentByNonce(ctx context.Context, nonce string) (*PaymentTransaction, error)
	GetPaymentByID(ctx context.Context, id uuid.UUID) (*PaymentTransaction, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) error
	RecordExecution(ctx context.Context, id uuid.UUID, result map[string]interface{}) error
	CompleteSettlement(ctx context.Context, id uuid.UUID, facilitatorPaymentID string) error
	FailSettlement(ctx context.Context, id uuid.UUID, errorMsg string) error
	GetSettlementCandidates(ctx context.Context, maxAttempts int, limit int) ([]*PaymentTransaction, error)
	MarkSettling(ctx context.Context, id uuid.UUID) error
	ExpireStaleReservations(ctx context.Context) (int64, error)

	// Stablecoin-rail single-use nonce
	MintNonce(ctx context.Context, nonce, route string, ttl time.Duration) (PaymentNonce, error)
	RedeemNonce(ctx context.Context, nonce string) (bool, error)
	ExpireStaleNonces(ctx context.Context) (int64, error)

	// Payer enforcement state machine
	GetPayerState(ctx context.Context, payerAddress string) (PayerState, error)
	RecordSettlementFailure(ctx context.Context, payerAddress string, graceCooldown time.Duration, blockedThreshold int, blockedWindow time.Duration) (PayerState, error)
	ListBlockedPayers(ctx context.Context) ([]PayerState, error)
	UnblockPayer(ctx context.Context, payerAddress string) error

	// Derivatives nonce scalars (committed at announce, consumed once at attest)
	CommitNonceScalar(ctx context.Context, eventID string, digitIndex int, scalar, rPoint []byte) error
	TakeNonceScalar(ctx context.Context, eventID string, digitIndex int) (scalar, rPoint []byte, err error)
	DropNonceScalars(ctx context.Context, eventID string) error

	// Derivatives event store
	AnnounceEvent(ctx context.Context, ev DerivativesEvent) error
	GetEvent(ctx context.Context, eventID string) (DerivativesEvent, error)
	ListEventsMaturingBefore(ctx context.Context, cutoff time.Time) ([]DerivativesEvent, error)
	AttestEvent(ctx context.Context, eventID string, sValues [][]byte, price int64) error
	MarkEventMissed(ctx context.Context, eventID string) error
	ListEventsPastMaturityWithoutAttestation(ctx context.Context, now time.Time) ([]DerivativesEvent, error)
}

// Ensure DB implements Database interface
var _ Database = (*DB)(nil)
