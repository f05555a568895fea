package db

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
)

// TestNonceScalars_SingleUse: a committed scalar can be taken exactly
// once; the second take fails instead of re-releasing it.
func TestNonceScalars_SingleUse(t *testing.T) {
	pool := getTestPool(t)
	if pool == nil {
		t.Skip("No database connection available")
	}
	database := &DB{pool: pool}
	ctx := context.Background()

	eventID := "evt-" + uuid.New().String()
	scalar := bytes.Repeat([]byte{0x42}, 32)
	point := bytes.Repeat([]byte{0x02}, 33)

	if err := database.CommitNonceScalar(ctx, eventID, 0, scalar, point); err != nil {
		t.Fatalf("CommitNonceScalar failed: %v", err)
	}

	gotScalar, gotPoint, err := database.TakeNonceScalar(ctx, eventID, 0)
	if err != nil {
		t.Fatalf("first TakeNonceScalar failed: %v", err)
	}
	if !bytes.Equal(gotScalar, scalar) || !bytes.Equal(gotPoint, point) {
		t.Error("taken scalar/point do not round-trip the committed bytes")
	}

	if _, _, err := database.TakeNonceScalar(ctx, eventID, 0); err == nil {
		t.Error("expected the second take of the same nonce to fail")
	}
}

func TestNonceScalars_DuplicateCommitRejected(t *testing.T) {
	pool := getTestPool(t)
	if pool == nil {
		t.Skip("No database connection available")
	}
	database := &DB{pool: pool}
	ctx := context.Background()

	eventID := "evt-" + uuid.New().String()
	scalar := bytes.Repeat([]byte{0x01}, 32)
	point := bytes.Repeat([]byte{0x03}, 33)

	if err := database.CommitNonceScalar(ctx, eventID, 2, scalar, point); err != nil {
		t.Fatalf("CommitNonceScalar failed: %v", err)
	}
	if err := database.CommitNonceScalar(ctx, eventID, 2, scalar, point); err == nil {
		t.Error("expected a duplicate commit for the same digit position to fail")
	}
}

func TestNonceScalars_DropRemovesWholeEvent(t *testing.T) {
	pool := getTestPool(t)
	if pool == nil {
		t.Skip("No database connection available")
	}
	database := &DB{pool: pool}
	ctx := context.Background()

	eventID := "evt-" + uuid.New().String()
	for i := 0; i < 3; i++ {
		if err := database.CommitNonceScalar(ctx, eventID, i, bytes.Repeat([]byte{byte(i + 1)}, 32), bytes.Repeat([]byte{0x02}, 33)); err != nil {
			t.Fatalf("CommitNonceScalar failed: %v", err)
		}
	}

	if err := database.DropNonceScalars(ctx, eventID); err != nil {
		t.Fatalf("DropNonceScalars failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, _, err := database.TakeNonceScalar(ctx, eventID, i); err == nil {
			t.Errorf("expected take of dropped digit %d to fail", i)
		}
	}
}
