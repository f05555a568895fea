package proxy

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"

	"oraclegate/internal/config"
	"oraclegate/internal/db"
	"oraclegate/internal/wallet"
)

// stablecoinChallenge is the 402 response body for the stablecoin-evm
// rail: the standard x402 accepts array (also carried base64-encoded in
// the Payment-Required header), a compatibility object for clients
// predating the accepts shape, and a server-minted single-use nonce the
// client's signed authorization must carry. Replay is rejected here,
// not delegated to the facilitator's own dedup.
type stablecoinChallenge struct {
	Chain     string                     `json:"chain"`
	Asset     string                     `json:"asset"`
	Recipient string                     `json:"recipient"`
	Amount    string                     `json:"amount"`
	Nonce     string                     `json:"nonce"`
	ExpiresIn int                        `json:"expires_in"`
	Accepts   []wallet.AcceptsDescriptor `json:"accepts"`
	Compat    wallet.PaymentRequirements `json:"compat"`
}

func (p *Proxy) gateStablecoin(c fiber.Ctx, route config.Route) error {
	if p.depeg != nil && !p.depeg.OK() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "stablecoin rail suspended: depeg circuit breaker tripped"})
	}

	paymentHeader := c.Get("X-Payment")
	if paymentHeader == "" {
		return p.challengeStablecoin(c, route)
	}

	payload, err := wallet.ParseX402Payment(paymentHeader)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed payment header: " + err.Error()})
	}

	state, err := p.db.GetPayerState(c.Context(), payload.Payer)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	switch state.Tier(nowUTC()) {
	case "blocked":
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "payer blocked after repeated settlement failures"})
	case "grace":
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":       "payer in settlement-failure cooldown",
			"grace_until": state.GraceUntil.UTC().Format(time.RFC3339),
			"retry_after": int(time.Until(*state.GraceUntil).Seconds()),
		})
	}

	redeemed, err := p.db.RedeemNonce(c.Context(), payload.Nonce)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if !redeemed {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "nonce already redeemed or unknown",
			"cause": "nonce_used",
		})
	}

	if !wallet.IsSolanaNetwork(payload.Network) {
		// The signed authorization did not verify — surfaced as 401,
		// distinct from the replayed-nonce 400 above.
		if err := wallet.VerifyPaymentSignature(payload, payload.Payer); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "token_invalid", "detail": "signature verification failed: " + err.Error()})
		}
	}
	// Solana authorizations carry a partially-signed serialized
	// transaction rather than a detached signature; local verification
	// is not possible without simulating the transaction, so the
	// facilitator's /verify call is the sole authority for that rail.

	expectedWallet := p.x402Config.WalletForNetwork(payload.Network)
	if expectedWallet == "" || payload.Receiver != expectedWallet {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "payment receiver does not match configured wallet for network"})
	}

	tx := &db.PaymentTransaction{
		PaymentNonce:    payload.Nonce,
		PaymentHeader:   paymentHeader,
		PayerAddress:    payload.Payer,
		ReceiverAddress: payload.Receiver,
		Endpoint:        route.Path,
		Network:         payload.Network,
	}
	if tx.AmountUSDC, err = route.AmountMicroUSDC(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	tx.ExpiresAt = nowUTC().Add(nonceTTL)

	created, _, err := p.db.CreateOrGetPaymentTransaction(c.Context(), tx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	if err := p.db.TransitionStatus(c.Context(), created.ID, db.PaymentStatusReserved, db.PaymentStatusExecuting); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "payment already in flight"})
	}

	// Optimistic delivery: forward to the backend before settlement
	// finalizes, per the rail's latency contract. Settlement either
	// completes synchronously below or is picked up by the background
	// settlement worker's retry loop. Stablecoin-rail consumers verify
	// under the Ed25519 key.
	status, body, err := p.forward(c, route, map[string]string{"X-Signing-Scheme": "ed25519"})
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}

	_ = p.db.RecordExecution(c.Context(), created.ID, map[string]interface{}{"status": status})
	if err := p.db.TransitionStatus(c.Context(), created.ID, db.PaymentStatusExecuting, db.PaymentStatusSettling); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	txHash, settleErr := p.settle(paymentHeader, payload)
	confirmed := settleErr == nil
	if confirmed {
		_ = p.db.CompleteSettlement(c.Context(), created.ID, txHash)
		p.reportUsage(c.Context(), payload.Nonce, "stablecoin-evm", route.Path, tx.AmountUSDC)
	} else {
		_ = p.db.FailSettlement(c.Context(), created.ID, settleErr.Error())
		p.recordEnforcementFailure(c, payload.Payer)
	}

	return writeStablecoinResponse(c, status, body, txHash, confirmed)
}

// writeStablecoinResponse appends the rail's payment confirmation block
// to a JSON backend response body.
func writeStablecoinResponse(c fiber.Ctx, status int, body []byte, txHash string, confirmed bool) error {
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		c.Status(status)
		return c.Send(body)
	}
	decoded["payment"] = fiber.Map{
		"protocol":  "x402",
		"tx_hash":   txHash,
		"confirmed": confirmed,
	}
	c.Status(status)
	return c.JSON(decoded)
}

func (p *Proxy) recordEnforcementFailure(c fiber.Ctx, payerAddress string) {
	_, _ = p.db.RecordSettlementFailure(c.Context(), payerAddress,
		p.enforcement.GraceCooldown, p.enforcement.BlockedThreshold, p.enforcement.BlockedWindow)
}

// settle calls the facilitator's /settle endpoint, mirroring
// internal/settlement.Worker's retry-path settlement call so both the
// optimistic first attempt and the background retry speak the same
// facilitator contract.
func (p *Proxy) settle(paymentHeader string, payload *wallet.X402Payload) (string, error) {
	settleReq := struct {
		Payment  string `json:"payment"`
		Network  string `json:"network"`
		Amount   string `json:"amount"`
		Receiver string `json:"receiver"`
		Token    string `json:"token"`
	}{
		Payment:  paymentHeader,
		Network:  payload.Network,
		Amount:   payload.Amount,
		Receiver: payload.Receiver,
		Token:    payload.TokenAddress,
	}

	body, err := json.Marshal(settleReq)
	if err != nil {
		return "", fmt.Errorf("marshal settle request: %w", err)
	}

	resp, err := p.httpClient.Post(p.x402Config.FacilitatorURL+"/settle", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("call facilitator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("facilitator settlement failed: %s", resp.Status)
	}

	var result struct {
		PaymentID string `json:"payment_id"`
		TxHash    string `json:"tx_hash,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode settle response: %w", err)
	}
	if result.TxHash != "" {
		return result.TxHash, nil
	}
	return result.PaymentID, nil
}

func (p *Proxy) challengeStablecoin(c fiber.Ctx, route config.Route) error {
	nonce, err := randomNonce()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if _, err := p.db.MintNonce(c.Context(), nonce, route.Path, nonceTTL); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	amount, err := route.AmountMicroUSDC()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	recipient := p.x402Config.WalletForNetwork(route.Chain)
	asset := wallet.TokenAddressForNetwork(route.Chain)
	accepts := []wallet.AcceptsDescriptor{{
		Scheme:            "exact",
		Network:           route.Chain,
		MaxAmountRequired: amount.String(),
		Asset:             asset,
		PayTo:             recipient,
		Resource:          route.Path,
		MimeType:          "application/json",
		Description:       "oracle attestation: " + route.Path,
		MaxTimeoutSeconds: int(nonceTTL.Seconds()),
	}}

	header, err := wallet.EncodeAccepts(accepts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set("Payment-Required", header)

	return c.Status(fiber.StatusPaymentRequired).JSON(stablecoinChallenge{
		Chain:     route.Chain,
		Asset:     asset,
		Recipient: recipient,
		Amount:    amount.String(),
		Nonce:     nonce,
		ExpiresIn: int(nonceTTL.Seconds()),
		Accepts:   accepts,
		Compat: wallet.PaymentRequirements{
			Scheme:         "exact",
			Network:        route.Chain,
			Recipient:      recipient,
			Amount:         amount.String(),
			Currency:       "USDC",
			FacilitatorURL: p.x402Config.FacilitatorURL,
			Description:    "oracle attestation: " + route.Path,
			FeePayer:       p.x402Config.SolanaFeePayer,
		},
	})
}

// randomNonce mints 32 bytes so the hex value doubles as the EIP-3009
// authorization's bytes32 nonce without padding on either side.
func randomNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
