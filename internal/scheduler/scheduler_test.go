package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/jackc/pgx/v5"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"oraclegate/internal/aggregate"
	"oraclegate/internal/backend"
	"oraclegate/internal/config"
	"oraclegate/internal/db"
	"oraclegate/internal/fetch"
	"oraclegate/internal/signer"
)

func TestEventID_DeterministicFromPairAndMaturity(t *testing.T) {
	maturity := time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC)
	require.Equal(t, EventID("BTCUSD", maturity), EventID("BTCUSD", maturity))
	require.NotEqual(t, EventID("BTCUSD", maturity), EventID("BTCUSD", maturity.Add(time.Hour)))
	require.NotEqual(t, EventID("BTCUSD", maturity), EventID("BTCEUR", maturity))
}

func TestDecomposeDigits(t *testing.T) {
	price, digits, err := decomposeDigits("42000", 5)
	require.NoError(t, err)
	require.Equal(t, int64(42000), price)
	require.Equal(t, []byte{4, 2, 0, 0, 0}, digits)

	_, digits, err = decomposeDigits("7", 5)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0, 7}, digits)

	_, _, err = decomposeDigits("123456", 5)
	require.Error(t, err, "a price wider than digit_count must be rejected, not truncated")

	_, _, err = decomposeDigits("-1", 5)
	require.Error(t, err)

	_, _, err = decomposeDigits("42000.50", 5)
	require.Error(t, err)
}

func TestNextHourBoundary(t *testing.T) {
	now := time.Date(2026, 8, 1, 13, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC), nextHourBoundary(now))

	onBoundary := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC), nextHourBoundary(onBoundary),
		"an exact boundary is not strictly after now, so the next slot is an hour later")
}

// eventStoreFake is an in-memory db.Database covering only the event
// and nonce-scalar methods the scheduler touches; everything else
// panics through the embedded nil interface.
type eventStoreFake struct {
	db.Database
	mu      sync.Mutex
	events  map[string]db.DerivativesEvent
	scalars map[scalarKey]*scalarRow
}

type scalarKey struct {
	eventID string
	digit   int
}

type scalarRow struct {
	scalar   []byte
	point    []byte
	consumed bool
}

func newEventStoreFake() *eventStoreFake {
	return &eventStoreFake{
		events:  make(map[string]db.DerivativesEvent),
		scalars: make(map[scalarKey]*scalarRow),
	}
}

func (f *eventStoreFake) CommitNonceScalar(ctx context.Context, eventID string, digitIndex int, scalar, rPoint []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scalarKey{eventID, digitIndex}
	if _, exists := f.scalars[key]; exists {
		return fmt.Errorf("nonce already committed for %s digit %d", eventID, digitIndex)
	}
	f.scalars[key] = &scalarRow{
		scalar: append([]byte(nil), scalar...),
		point:  append([]byte(nil), rPoint...),
	}
	return nil
}

func (f *eventStoreFake) TakeNonceScalar(ctx context.Context, eventID string, digitIndex int) ([]byte, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.scalars[scalarKey{eventID, digitIndex}]
	if !ok || row.consumed {
		return nil, nil, fmt.Errorf("no unconsumed nonce for %s digit %d", eventID, digitIndex)
	}
	row.consumed = true
	return row.scalar, row.point, nil
}

func (f *eventStoreFake) DropNonceScalars(ctx context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.scalars {
		if key.eventID == eventID {
			delete(f.scalars, key)
		}
	}
	return nil
}

func (f *eventStoreFake) AnnounceEvent(ctx context.Context, ev db.DerivativesEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.events[ev.EventID]; exists {
		return nil
	}
	ev.Status = db.EventStatusAnnounced
	f.events[ev.EventID] = ev
	return nil
}

func (f *eventStoreFake) GetEvent(ctx context.Context, eventID string) (db.DerivativesEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventID]
	if !ok {
		return db.DerivativesEvent{}, pgx.ErrNoRows
	}
	return ev, nil
}

func (f *eventStoreFake) ListEventsMaturingBefore(ctx context.Context, cutoff time.Time) ([]db.DerivativesEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.DerivativesEvent
	for _, ev := range f.events {
		if ev.Status == db.EventStatusAnnounced && !ev.Maturity.After(cutoff) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *eventStoreFake) ListEventsPastMaturityWithoutAttestation(ctx context.Context, now time.Time) ([]db.DerivativesEvent, error) {
	return f.ListEventsMaturingBefore(ctx, now)
}

func (f *eventStoreFake) AttestEvent(ctx context.Context, eventID string, sValues [][]byte, price int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := f.events[eventID]
	now := time.Now().UTC()
	ev.SValues = sValues
	ev.Price = &price
	ev.AttestedAt = &now
	ev.Status = db.EventStatusAttested
	f.events[eventID] = ev
	return nil
}

func (f *eventStoreFake) MarkEventMissed(ctx context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := f.events[eventID]
	ev.Status = db.EventStatusMissed
	f.events[eventID] = ev
	return nil
}

func testMarket(t *testing.T, client *http.Client) *backend.Market {
	t.Helper()
	priv, err := gethcrypto.GenerateKey()
	require.NoError(t, err)

	m := backend.NewMarket()
	m.Register("BTCUSD", backend.Asset{
		Config: aggregate.Config{Domain: "BTCUSD", Currency: "USD", Decimals: 2, MinQuorum: 1, FetchWindow: 2 * time.Second},
		Method: backend.MethodDirect,
		USD: fetch.NewRegistry(0,
			fetch.NewCryptoSpotFetcher("venue", "https://venue.example/ticker", "USD", client, fetch.ExtractLastPriceField("last")),
		),
		Signer: signer.NewECDSASigner(priv),
	})
	return m
}

func testDerivativesSigner(t *testing.T) *signer.DerivativesSigner {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return signer.NewDerivativesSigner(priv, signer.NewMemoryNonceStore())
}

func TestScheduler_AnnounceFillsHorizonThenAttestsAtMaturity(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://venue.example/ticker",
		httpmock.NewJsonResponderOrPanic(200, map[string]string{"last": "42000"}))

	store := newEventStoreFake()
	sched := New(store, testDerivativesSigner(t), testMarket(t, client), config.SchedulerConfig{
		AttestationSchedule: time.Hour,
		AnnouncementHorizon: 3 * time.Hour,
		DigitCount:          5,
		RecoverGrace:        15 * time.Minute,
	}, []string{"BTCUSD"})

	now := time.Now().UTC()
	sched.announce(context.Background(), now)

	store.mu.Lock()
	announced := len(store.events)
	for _, ev := range store.events {
		require.Len(t, ev.RPoints, 5)
		require.Equal(t, db.EventStatusAnnounced, ev.Status)
	}
	store.mu.Unlock()
	require.Equal(t, 3, announced, "a 3-hour horizon holds three hour slots")

	// Force the earliest slot past maturity and attest.
	store.mu.Lock()
	var earliest db.DerivativesEvent
	for _, ev := range store.events {
		if earliest.EventID == "" || ev.Maturity.Before(earliest.Maturity) {
			earliest = ev
		}
	}
	store.mu.Unlock()

	sched.attest(context.Background(), earliest.Maturity.Add(time.Second))

	attested, err := store.GetEvent(context.Background(), earliest.EventID)
	require.NoError(t, err)
	require.Equal(t, db.EventStatusAttested, attested.Status)
	require.NotNil(t, attested.Price)
	require.Equal(t, int64(42000), *attested.Price)
	require.Len(t, attested.SValues, 5)
}

func TestScheduler_RecoverMarksMissedPastGraceWindow(t *testing.T) {
	store := newEventStoreFake()
	now := time.Now().UTC()
	overdue := db.DerivativesEvent{
		EventID:    "stale-event",
		Pair:       "BTCUSD",
		Maturity:   now.Add(-2 * time.Hour),
		DigitCount: 5,
		Status:     db.EventStatusAnnounced,
	}
	store.events[overdue.EventID] = overdue

	sched := New(store, testDerivativesSigner(t), backend.NewMarket(), config.SchedulerConfig{
		AttestationSchedule: time.Hour,
		AnnouncementHorizon: 24 * time.Hour,
		DigitCount:          5,
		RecoverGrace:        15 * time.Minute,
	}, nil)

	sched.recover(context.Background(), now)

	ev, err := store.GetEvent(context.Background(), overdue.EventID)
	require.NoError(t, err)
	require.Equal(t, db.EventStatusMissed, ev.Status)
}

// TestScheduler_RestartBetweenAnnounceAndAttestRecovers: with the
// db-backed nonce store, a process restart between announce and attest
// loses nothing — a fresh signer over the same database attests the
// in-flight event with the originally committed nonces, and the
// attestation verifies against the announced R points.
func TestScheduler_RestartBetweenAnnounceAndAttestRecovers(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://venue.example/ticker",
		httpmock.NewJsonResponderOrPanic(200, map[string]string{"last": "42000"}))

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	store := newEventStoreFake()
	cfg := config.SchedulerConfig{
		AttestationSchedule: time.Hour,
		AnnouncementHorizon: time.Hour,
		DigitCount:          5,
		RecoverGrace:        15 * time.Minute,
	}
	market := testMarket(t, client)

	first := New(store, signer.NewDerivativesSigner(priv, NewDBNonceStore(store)), market, cfg, []string{"BTCUSD"})
	first.announce(context.Background(), time.Now().UTC())

	store.mu.Lock()
	var announced db.DerivativesEvent
	for _, ev := range store.events {
		announced = ev
	}
	remaining := len(store.scalars)
	store.mu.Unlock()
	require.NotEmpty(t, announced.EventID)
	require.Equal(t, 5, remaining)

	// "Restart": a brand-new signer with empty in-process state, backed
	// by the same database.
	restarted := New(store, signer.NewDerivativesSigner(priv, NewDBNonceStore(store)), market, cfg, []string{"BTCUSD"})
	restarted.attest(context.Background(), announced.Maturity.Add(time.Second))

	attested, err := store.GetEvent(context.Background(), announced.EventID)
	require.NoError(t, err)
	require.Equal(t, db.EventStatusAttested, attested.Status)
	require.Len(t, attested.SValues, 5)

	store.mu.Lock()
	remaining = len(store.scalars)
	store.mu.Unlock()
	require.Zero(t, remaining, "terminal events must not leave scalars behind")
}
