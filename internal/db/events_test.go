package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDerivativesEvent_AnnounceAttestLifecycle(t *testing.T) {
	pool := getTestPool(t)
	if pool == nil {
		t.Skip("No database connection available")
	}
	database := &DB{pool: pool}
	ctx := context.Background()

	eventID := "evt-" + uuid.New().String()
	ev := DerivativesEvent{
		EventID:    eventID,
		Pair:       "BTCUSD",
		Maturity:   time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		DigitCount: 5,
		RPoints:    [][]byte{{1}, {2}, {3}, {4}, {5}},
	}
	if err := database.AnnounceEvent(ctx, ev); err != nil {
		t.Fatalf("AnnounceEvent failed: %v", err)
	}

	// Re-announcing is a no-op, not an error — recovery re-runs over
	// already-announced events.
	if err := database.AnnounceEvent(ctx, ev); err != nil {
		t.Fatalf("re-AnnounceEvent failed: %v", err)
	}

	fetched, err := database.GetEvent(ctx, eventID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if fetched.Status != EventStatusAnnounced {
		t.Errorf("status = %s, want %s", fetched.Status, EventStatusAnnounced)
	}
	if len(fetched.RPoints) != 5 {
		t.Errorf("len(RPoints) = %d, want 5", len(fetched.RPoints))
	}

	sValues := [][]byte{{11}, {12}, {13}, {14}, {15}}
	if err := database.AttestEvent(ctx, eventID, sValues, 69001); err != nil {
		t.Fatalf("AttestEvent failed: %v", err)
	}

	attested, err := database.GetEvent(ctx, eventID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if attested.Status != EventStatusAttested {
		t.Errorf("status = %s, want %s", attested.Status, EventStatusAttested)
	}
	if attested.Price == nil || *attested.Price != 69001 {
		t.Errorf("price = %v, want 69001", attested.Price)
	}
	if len(attested.SValues) != 5 {
		t.Errorf("len(SValues) = %d, want 5", len(attested.SValues))
	}

	// Attesting an already-attested event is rejected: the compare-and-set
	// guard only fires from the announced state.
	if err := database.AttestEvent(ctx, eventID, sValues, 70000); err == nil {
		t.Error("expected re-attestation of an already-attested event to fail")
	}
}

func TestDerivativesEvent_MarkMissed(t *testing.T) {
	pool := getTestPool(t)
	if pool == nil {
		t.Skip("No database connection available")
	}
	database := &DB{pool: pool}
	ctx := context.Background()

	eventID := "evt-missed-" + uuid.New().String()
	ev := DerivativesEvent{
		EventID:    eventID,
		Pair:       "BTCUSD",
		Maturity:   time.Now().Add(-time.Hour).UTC().Truncate(time.Second),
		DigitCount: 5,
		RPoints:    [][]byte{{1}, {2}, {3}, {4}, {5}},
	}
	if err := database.AnnounceEvent(ctx, ev); err != nil {
		t.Fatalf("AnnounceEvent failed: %v", err)
	}

	if err := database.MarkEventMissed(ctx, eventID); err != nil {
		t.Fatalf("MarkEventMissed failed: %v", err)
	}

	fetched, err := database.GetEvent(ctx, eventID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if fetched.Status != EventStatusMissed {
		t.Errorf("status = %s, want %s", fetched.Status, EventStatusMissed)
	}

	// A missed event can never be attested; missed is terminal.
	if err := database.AttestEvent(ctx, eventID, [][]byte{{1}}, 1); err == nil {
		t.Error("expected attestation of a missed event to fail")
	}
}

func TestListEventsMaturingBefore(t *testing.T) {
	pool := getTestPool(t)
	if pool == nil {
		t.Skip("No database connection available")
	}
	database := &DB{pool: pool}
	ctx := context.Background()

	due := "evt-due-" + uuid.New().String()
	notDue := "evt-notdue-" + uuid.New().String()

	if err := database.AnnounceEvent(ctx, DerivativesEvent{
		EventID: due, Pair: "BTCUSD", Maturity: time.Now().Add(time.Minute).UTC().Truncate(time.Second),
		DigitCount: 5, RPoints: [][]byte{{1}},
	}); err != nil {
		t.Fatalf("AnnounceEvent failed: %v", err)
	}
	if err := database.AnnounceEvent(ctx, DerivativesEvent{
		EventID: notDue, Pair: "BTCUSD", Maturity: time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second),
		DigitCount: 5, RPoints: [][]byte{{1}},
	}); err != nil {
		t.Fatalf("AnnounceEvent failed: %v", err)
	}

	events, err := database.ListEventsMaturingBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListEventsMaturingBefore failed: %v", err)
	}
	var sawDue, sawNotDue bool
	for _, ev := range events {
		if ev.EventID == due {
			sawDue = true
		}
		if ev.EventID == notDue {
			sawNotDue = true
		}
	}
	if !sawDue {
		t.Error("expected due event in maturing-before window")
	}
	if sawNotDue {
		t.Error("event maturing in 48h must not appear in a 1h maturing-before window")
	}
}
