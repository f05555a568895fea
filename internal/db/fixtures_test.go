package db

import (
	"context"
	"testing"
	"time"

	"oraclegate/internal/money"

	"github.com/google/uuid"
)

// Fixtures provides test data factories for the payment ledger.
type Fixtures struct {
	t  *testing.T
	db *DB
}

// NewFixtures creates a new Fixtures instance
func NewFixtures(t *testing.T, database *DB) *Fixtures {
	return &Fixtures{
		t:  t,
		db: database,
	}
}

// CreateTestPaymentTransaction creates a test payment transaction
func (f *Fixtures) CreateTestPaymentTransaction(endpoint string, amount money.MicroUSDC) *PaymentTransaction {
	f.t.Helper()

	ctx := context.Background()
	tx := &PaymentTransaction{
		PaymentNonce:    "test-nonce-" + uuid.New().String(),
		PaymentHeader:   "x402;test-header",
		PayerAddress:    "0x1234567890123456789012345678901234567890",
		ReceiverAddress: "0x0987654321098765432109876543210987654321",
		Endpoint:        endpoint,
		AmountUSDC:      amount,
		Network:         "base-sepolia",
		ExpiresAt:       time.Now().Add(5 * time.Minute),
	}

	if _, _, err := f.db.CreateOrGetPaymentTransaction(ctx, tx); err != nil {
		f.t.Fatalf("Failed to create test payment transaction: %v", err)
	}

	return tx
}

// CreateExpiredPaymentTransaction creates an already-expired payment transaction
func (f *Fixtures) CreateExpiredPaymentTransaction(endpoint string, amount money.MicroUSDC) *PaymentTransaction {
	f.t.Helper()

	ctx := context.Background()
	tx := &PaymentTransaction{
		PaymentNonce:    "expired-nonce-" + uuid.New().String(),
		PaymentHeader:   "x402;test-header",
		PayerAddress:    "0x1234567890123456789012345678901234567890",
		ReceiverAddress: "0x0987654321098765432109876543210987654321",
		Endpoint:        endpoint,
		AmountUSDC:      amount,
		Network:         "base-sepolia",
		ExpiresAt:       time.Now().Add(-1 * time.Minute), // Already expired
	}

	if _, _, err := f.db.CreateOrGetPaymentTransaction(ctx, tx); err != nil {
		f.t.Fatalf("Failed to create expired payment transaction: %v", err)
	}

	return tx
}
