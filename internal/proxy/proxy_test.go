package proxy

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"oraclegate/internal/config"
	"oraclegate/internal/db"
	"oraclegate/internal/lnclient"
	"oraclegate/internal/macaroon"
	"oraclegate/internal/wallet"
)

// fakeDatabase is a minimal db.Database test double: only the methods
// the stablecoin rail's validation path touches before the signature
// check (GetPayerState, RedeemNonce) behave meaningfully; everything
// else panics if a test exercises a path that calls it, so an
// accidental extra dependency shows up immediately.
type fakeDatabase struct{}

func (fakeDatabase) Ping(ctx context.Context) error        { panic("not implemented") }
func (fakeDatabase) Close()                                {}
func (fakeDatabase) BeginTx(ctx context.Context) (pgx.Tx, error) {
	panic("not implemented")
}
func (fakeDatabase) CreateOrGetPaymentTransaction(ctx context.Context, tx *db.PaymentTransaction) (*db.PaymentTransaction, bool, error) {
	panic("not implemented")
}
func (fakeDatabase) GetPaymentByNonce(ctx context.Context, nonce string) (*db.PaymentTransaction, error) {
	panic("not implemented")
}
func (fakeDatabase) GetPaymentByID(ctx context.Context, id uuid.UUID) (*db.PaymentTransaction, error) {
	panic("not implemented")
}
func (fakeDatabase) TransitionStatus(ctx context.Context, id uuid.UUID, from, to db.PaymentStatus) error {
	panic("not implemented")
}
func (fakeDatabase) RecordExecution(ctx context.Context, id uuid.UUID, result map[string]interface{}) error {
	panic("not implemented")
}
func (fakeDatabase) CompleteSettlement(ctx context.Context, id uuid.UUID, facilitatorPaymentID string) error {
	panic("not implemented")
}
func (fakeDatabase) FailSettlement(ctx context.Context, id uuid.UUID, errorMsg string) error {
	panic("not implemented")
}
func (fakeDatabase) GetSettlementCandidates(ctx context.Context, maxAttempts int, limit int) ([]*db.PaymentTransaction, error) {
	panic("not implemented")
}
func (fakeDatabase) MarkSettling(ctx context.Context, id uuid.UUID) error {
	panic("not implemented")
}
func (fakeDatabase) ExpireStaleReservations(ctx context.Context) (int64, error) {
	panic("not implemented")
}
func (fakeDatabase) MintNonce(ctx context.Context, nonce, route string, ttl time.Duration) (db.PaymentNonce, error) {
	panic("not implemented")
}
func (fakeDatabase) RedeemNonce(ctx context.Context, nonce string) (bool, error) { return true, nil }
func (fakeDatabase) ExpireStaleNonces(ctx context.Context) (int64, error) {
	panic("not implemented")
}
func (fakeDatabase) GetPayerState(ctx context.Context, payerAddress string) (db.PayerState, error) {
	return db.PayerState{PayerAddress: payerAddress}, nil
}
func (fakeDatabase) RecordSettlementFailure(ctx context.Context, payerAddress string, graceCooldown time.Duration, blockedThreshold int, blockedWindow time.Duration) (db.PayerState, error) {
	panic("not implemented")
}
func (fakeDatabase) ListBlockedPayers(ctx context.Context) ([]db.PayerState, error) {
	panic("not implemented")
}
func (fakeDatabase) UnblockPayer(ctx context.Context, payer string) error {
	panic("not implemented")
}
func (fakeDatabase) CommitNonceScalar(ctx context.Context, eventID string, digitIndex int, scalar, rPoint []byte) error {
	panic("not implemented")
}
func (fakeDatabase) TakeNonceScalar(ctx context.Context, eventID string, digitIndex int) ([]byte, []byte, error) {
	panic("not implemented")
}
func (fakeDatabase) DropNonceScalars(ctx context.Context, eventID string) error {
	panic("not implemented")
}
func (fakeDatabase) AnnounceEvent(ctx context.Context, ev db.DerivativesEvent) error {
	panic("not implemented")
}
func (fakeDatabase) GetEvent(ctx context.Context, eventID string) (db.DerivativesEvent, error) {
	panic("not implemented")
}
func (fakeDatabase) ListEventsMaturingBefore(ctx context.Context, cutoff time.Time) ([]db.DerivativesEvent, error) {
	panic("not implemented")
}
func (fakeDatabase) AttestEvent(ctx context.Context, eventID string, sValues [][]byte, price int64) error {
	panic("not implemented")
}
func (fakeDatabase) MarkEventMissed(ctx context.Context, eventID string) error {
	panic("not implemented")
}
func (fakeDatabase) ListEventsPastMaturityWithoutAttestation(ctx context.Context, now time.Time) ([]db.DerivativesEvent, error) {
	panic("not implemented")
}

var _ db.Database = fakeDatabase{}

func testRoutes() config.RouteTable {
	return config.RouteTable{
		FreeRoutes: []string{"/v1/pubkey", "/healthz"},
		Routes: []config.Route{
			{Path: "/v1/price/btcusd", Backend: "http://backend.invalid", Rail: config.RailLightning, PriceNative: "10"},
			{Path: "/v1/unrailed", Backend: "http://backend.invalid", Rail: config.RailFree},
		},
	}
}

func newTestApp(p *Proxy) *fiber.App {
	app := fiber.New()
	p.Register(app)
	return app
}

func TestGate_FreeRouteReturnsNotFound(t *testing.T) {
	p := &Proxy{routes: testRoutes(), httpClient: http.DefaultClient}
	app := newTestApp(p)

	req := httptest.NewRequest(http.MethodGet, "/v1/pubkey", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404 (free routes have no catch-all handler)", resp.StatusCode)
	}
}

func TestGate_FreeRouteWithBackendForwardsUnpaid(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/assets" {
			t.Errorf("backend received path %q, want /v1/assets", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"assets":["BTCUSD"]}`))
	}))
	defer backendSrv.Close()

	routes := config.RouteTable{
		FreeRoutes: []string{"/v1/assets"},
		Routes: []config.Route{
			{Path: "/v1/assets", Backend: backendSrv.URL},
		},
	}
	p := &Proxy{routes: routes, httpClient: http.DefaultClient}
	app := newTestApp(p)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/assets", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 with no payment challenge on a free route", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"assets":["BTCUSD"]}` {
		t.Errorf("body = %q, want backend passthrough", body)
	}
}

func TestGate_UnknownRouteReturnsNotFound(t *testing.T) {
	p := &Proxy{routes: testRoutes(), httpClient: http.DefaultClient}
	app := newTestApp(p)

	req := httptest.NewRequest(http.MethodGet, "/v1/does-not-exist", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGate_RouteWithNoRailFails(t *testing.T) {
	p := &Proxy{routes: testRoutes(), httpClient: http.DefaultClient}
	app := newTestApp(p)

	req := httptest.NewRequest(http.MethodGet, "/v1/unrailed", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Errorf("status = %d, want 500 for a route with no recognized rail", resp.StatusCode)
	}
}

func TestForward_StripsQueryAndReturnsBackendResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/price/btcusd" {
			t.Errorf("backend received path %q, want /v1/price/btcusd", r.URL.Path)
		}
		if r.URL.RawQuery != "source=test" {
			t.Errorf("backend received query %q, want source=test", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"price":69000}`))
	}))
	defer backend.Close()

	p := &Proxy{httpClient: &http.Client{}}
	route := config.Route{Path: "/v1/price/btcusd", Backend: backend.URL}

	app := fiber.New()
	app.Get("/v1/price/btcusd", func(c fiber.Ctx) error {
		status, body, err := p.forward(c, route, nil)
		if err != nil {
			return err
		}
		return c.Status(status).Send(body)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/price/btcusd?source=test", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"price":69000}` {
		t.Errorf("body = %q, want backend passthrough", body)
	}
}

func TestGateLightning_InvalidMacaroonMACReturnsUnauthorized(t *testing.T) {
	rootSecret := []byte("root-secret-a-32-bytes-long!!!!")
	wrongSecret := []byte("root-secret-b-different-32-byte")

	var paymentHash [32]byte
	_, _ = rand.Read(paymentHash[:])
	m, err := macaroon.Mint(wrongSecret, paymentHash) // minted under a DIFFERENT root secret
	if err != nil {
		t.Fatalf("macaroon.Mint: %v", err)
	}

	var preimage [32]byte
	_, _ = rand.Read(preimage[:])

	p := &Proxy{routes: testRoutes(), httpClient: http.DefaultClient, macaroonRootSecret: rootSecret}
	app := newTestApp(p)

	req := httptest.NewRequest(http.MethodGet, "/v1/price/btcusd", nil)
	req.Header.Set("Authorization", "L402 "+m.Encode()+":"+hex.EncodeToString(preimage[:]))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for a macaroon that fails MAC verification", resp.StatusCode)
	}
}

func TestGateLightning_PreimageMismatchReturnsUnauthorized(t *testing.T) {
	rootSecret := []byte("root-secret-a-32-bytes-long!!!!")

	var paymentHash [32]byte
	_, _ = rand.Read(paymentHash[:])
	m, err := macaroon.Mint(rootSecret, paymentHash)
	if err != nil {
		t.Fatalf("macaroon.Mint: %v", err)
	}

	var wrongPreimage [32]byte
	_, _ = rand.Read(wrongPreimage[:]) // does not hash to paymentHash

	p := &Proxy{routes: testRoutes(), httpClient: http.DefaultClient, macaroonRootSecret: rootSecret}
	app := newTestApp(p)

	req := httptest.NewRequest(http.MethodGet, "/v1/price/btcusd", nil)
	req.Header.Set("Authorization", "L402 "+m.Encode()+":"+hex.EncodeToString(wrongPreimage[:]))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for a preimage that does not match the invoice's payment hash", resp.StatusCode)
	}
}

func TestGateStablecoin_InvalidSignatureReturnsUnauthorized(t *testing.T) {
	x402Cfg := &config.X402Config{
		EVMWalletAddress: "0x000000000000000000000000000000000000aa",
		FacilitatorURL:   "http://facilitator.invalid",
	}

	payload := wallet.X402Payload{
		Network:      "base-sepolia",
		Scheme:       "x402",
		Payer:        "0x00000000000000000000000000000000000bb",
		Receiver:     x402Cfg.EVMWalletAddress,
		TokenAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount:       "10000",
		Timestamp:    time.Now().Unix(),
		Nonce:        "deadbeef",
		Signature:    "0xdead", // too short to be a 65-byte EIP-3009 signature
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	header := "x402;" + base64.StdEncoding.EncodeToString(payloadJSON)

	routes := config.RouteTable{
		Routes: []config.Route{
			{Path: "/v1/price/btcusd", Backend: "http://backend.invalid", Rail: config.RailStablecoin, Chain: "base-sepolia", PriceNative: "0.01"},
		},
	}

	p := &Proxy{routes: routes, httpClient: http.DefaultClient, db: fakeDatabase{}, x402Config: x402Cfg}
	app := newTestApp(p)

	req := httptest.NewRequest(http.MethodGet, "/v1/price/btcusd", nil)
	req.Header.Set("X-Payment", header)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for a payment authorization whose signature fails verification", resp.StatusCode)
	}
}

func TestForward_BadBackendURL(t *testing.T) {
	p := &Proxy{httpClient: &http.Client{}}
	route := config.Route{Path: "/v1/x", Backend: "://not-a-url"}

	app := fiber.New()
	app.Get("/v1/x", func(c fiber.Ctx) error {
		_, _, err := p.forward(c, route, nil)
		if err == nil {
			t.Error("expected an error for a malformed backend URL")
		}
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/x", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
}

// challengeFake extends fakeDatabase with a working MintNonce so the
// stablecoin challenge path can run without Postgres.
type challengeFake struct {
	fakeDatabase
	minted []string
}

func (f *challengeFake) MintNonce(ctx context.Context, nonce, route string, ttl time.Duration) (db.PaymentNonce, error) {
	f.minted = append(f.minted, nonce)
	return db.PaymentNonce{Nonce: nonce, Route: route}, nil
}

func TestGateStablecoin_ChallengeCarriesAcceptsAndNoAssertionFields(t *testing.T) {
	x402Cfg := &config.X402Config{
		EVMWalletAddress: "0x000000000000000000000000000000000000aa",
		FacilitatorURL:   "http://facilitator.invalid",
	}
	routes := config.RouteTable{
		Routes: []config.Route{
			{Path: "/v1/price/btcusd", Backend: "http://backend.invalid", Rail: config.RailStablecoin, Chain: "base-sepolia", PriceNative: "0.01"},
		},
	}

	fake := &challengeFake{}
	p := &Proxy{routes: routes, httpClient: http.DefaultClient, db: fake, x402Config: x402Cfg}
	app := newTestApp(p)

	req := httptest.NewRequest(http.MethodGet, "/v1/price/btcusd", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}

	header := resp.Header.Get("Payment-Required")
	if header == "" {
		t.Fatal("missing Payment-Required header")
	}
	headerJSON, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		t.Fatalf("Payment-Required header is not base64: %v", err)
	}
	var headerAccepts []wallet.AcceptsDescriptor
	if err := json.Unmarshal(headerJSON, &headerAccepts); err != nil {
		t.Fatalf("Payment-Required header is not an accepts array: %v", err)
	}

	body, _ := io.ReadAll(resp.Body)
	var challenge struct {
		Nonce   string                     `json:"nonce"`
		Accepts []wallet.AcceptsDescriptor `json:"accepts"`
	}
	if err := json.Unmarshal(body, &challenge); err != nil {
		t.Fatalf("unmarshal challenge body: %v", err)
	}

	if len(challenge.Accepts) != 1 || challenge.Accepts[0].PayTo != x402Cfg.EVMWalletAddress {
		t.Errorf("accepts = %+v, want one entry paying to %s", challenge.Accepts, x402Cfg.EVMWalletAddress)
	}
	if challenge.Accepts[0].MaxAmountRequired == "" || challenge.Accepts[0].Asset == "" {
		t.Errorf("accepts entry missing amount or asset: %+v", challenge.Accepts[0])
	}
	if challenge.Nonce == "" {
		t.Error("challenge is missing the server-minted nonce")
	}
	if len(fake.minted) != 1 || fake.minted[0] != challenge.Nonce {
		t.Errorf("minted nonces = %v, want exactly the challenge nonce %q", fake.minted, challenge.Nonce)
	}

	// The 402 must not leak any assertion material.
	for _, field := range []string{"canonical", "signature", "pubkey"} {
		if _, ok := jsonField(body, field); ok {
			t.Errorf("402 body leaks assertion field %q", field)
		}
	}
}

func jsonField(body []byte, field string) (interface{}, bool) {
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, false
	}
	v, ok := decoded[field]
	return v, ok
}

// gracePayerFake reports every payer as inside a settlement-failure
// cooldown window.
type gracePayerFake struct {
	fakeDatabase
	graceUntil time.Time
}

func (f *gracePayerFake) GetPayerState(ctx context.Context, payerAddress string) (db.PayerState, error) {
	return db.PayerState{PayerAddress: payerAddress, FailureCount: 1, GraceUntil: &f.graceUntil}, nil
}

func TestGateStablecoin_GracePayerReturnsForbiddenWithCooldown(t *testing.T) {
	x402Cfg := &config.X402Config{
		EVMWalletAddress: "0x000000000000000000000000000000000000aa",
		FacilitatorURL:   "http://facilitator.invalid",
	}
	routes := config.RouteTable{
		Routes: []config.Route{
			{Path: "/v1/price/btcusd", Backend: "http://backend.invalid", Rail: config.RailStablecoin, Chain: "base-sepolia", PriceNative: "0.01"},
		},
	}

	fake := &gracePayerFake{graceUntil: time.Now().Add(5 * time.Minute)}
	p := &Proxy{routes: routes, httpClient: http.DefaultClient, db: fake, x402Config: x402Cfg}
	app := newTestApp(p)

	req := httptest.NewRequest(http.MethodGet, "/v1/price/btcusd", nil)
	req.Header.Set("X-Payment", testPaymentHeader(t, x402Cfg.EVMWalletAddress))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403 for a payer in grace", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if _, ok := jsonField(body, "grace_until"); !ok {
		t.Error("grace 403 is missing cooldown metadata")
	}
}

// replayFake rejects every nonce redemption, simulating a nonce that is
// already used or was never minted.
type replayFake struct {
	fakeDatabase
}

func (replayFake) GetPayerState(ctx context.Context, payerAddress string) (db.PayerState, error) {
	return db.PayerState{PayerAddress: payerAddress}, nil
}

func (replayFake) RedeemNonce(ctx context.Context, nonce string) (bool, error) { return false, nil }

func TestGateStablecoin_ReplayedNonceReturnsBadRequest(t *testing.T) {
	x402Cfg := &config.X402Config{
		EVMWalletAddress: "0x000000000000000000000000000000000000aa",
		FacilitatorURL:   "http://facilitator.invalid",
	}
	routes := config.RouteTable{
		Routes: []config.Route{
			{Path: "/v1/price/btcusd", Backend: "http://backend.invalid", Rail: config.RailStablecoin, Chain: "base-sepolia", PriceNative: "0.01"},
		},
	}

	p := &Proxy{routes: routes, httpClient: http.DefaultClient, db: replayFake{}, x402Config: x402Cfg}
	app := newTestApp(p)

	req := httptest.NewRequest(http.MethodGet, "/v1/price/btcusd", nil)
	req.Header.Set("X-Payment", testPaymentHeader(t, x402Cfg.EVMWalletAddress))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a replayed nonce", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if cause, _ := jsonField(body, "cause"); cause != "nonce_used" {
		t.Errorf("cause = %v, want nonce_used", cause)
	}
}

// testPaymentHeader builds a syntactically valid X-Payment header; the
// signature is garbage, which is fine for tests that never reach the
// signature check.
func testPaymentHeader(t *testing.T, receiver string) string {
	t.Helper()
	payload := wallet.X402Payload{
		Network:      "base-sepolia",
		Scheme:       "x402",
		Payer:        "0x00000000000000000000000000000000000bb",
		Receiver:     receiver,
		TokenAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount:       "10000",
		Timestamp:    time.Now().Unix(),
		Nonce:        "deadbeef",
		Signature:    "0xdead",
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return "x402;" + base64.StdEncoding.EncodeToString(payloadJSON)
}

func TestGateLightning_ChallengeThenRedeem(t *testing.T) {
	rootSecret := []byte("root-secret-a-32-bytes-long!!!!")

	var preimage [32]byte
	_, _ = rand.Read(preimage[:])
	paymentHash := sha256.Sum256(preimage[:])

	lnSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"payment_request": "lnbc500n1fakeinvoice",
			"payment_hash":    hex.EncodeToString(paymentHash[:]),
		})
	}))
	defer lnSrv.Close()

	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("payment credential leaked to the backend")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"domain":"BTCUSD","canonical":"v1|BTCUSD|69003.00|USD|2|2026-07-31T12:00:00Z|abc|a,b|median","signature":"c2ln","pubkey":"02ab","signing_scheme":"ecdsa"}`))
	}))
	defer backendSrv.Close()

	routes := config.RouteTable{
		Routes: []config.Route{
			{Path: "/v1/rates/btcusd", Backend: backendSrv.URL, Rail: config.RailLightning, PriceNative: "50"},
		},
	}
	p := &Proxy{
		routes:             routes,
		httpClient:         http.DefaultClient,
		macaroonRootSecret: rootSecret,
		ln:                 lnclient.New(lnclient.Config{BaseURL: lnSrv.URL}),
	}
	app := newTestApp(p)

	// First contact: no token, expect a 402 challenge with a macaroon
	// bound to the invoice's payment hash.
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/rates/btcusd", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	challengeBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	if string(challengeBody) != "Payment Required" {
		t.Errorf("402 body = %q, want the bare status phrase", challengeBody)
	}

	authHeader := resp.Header.Get("WWW-Authenticate")
	match := regexp.MustCompile(`L402 macaroon="([^"]+)", invoice="([^"]+)"`).FindStringSubmatch(authHeader)
	if match == nil {
		t.Fatalf("WWW-Authenticate = %q, want an L402 challenge", authHeader)
	}

	// Retry with the macaroon plus the settling preimage.
	paidReq := httptest.NewRequest(http.MethodGet, "/v1/rates/btcusd", nil)
	paidReq.Header.Set("Authorization", "L402 "+match[1]+":"+hex.EncodeToString(preimage[:]))
	paidResp, err := app.Test(paidReq)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer paidResp.Body.Close()

	if paidResp.StatusCode != fiber.StatusOK {
		t.Fatalf("paid status = %d, want 200", paidResp.StatusCode)
	}
	body, _ := io.ReadAll(paidResp.Body)
	if sig, _ := jsonField(body, "signature"); sig != "c2ln" {
		t.Errorf("paid response did not pass through the signer output: %s", body)
	}
}
