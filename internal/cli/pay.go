package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"oraclegate/internal/wallet"
)

// payerWalletLabel is the keyring entry the self-test payer key lives
// under; one label per host is enough, the wallet is only ever funded
// with test dust.
const payerWalletLabel = "selftest"

// PayerInit creates (or reports) the self-test payer wallet in the OS
// keyring and prints its funding address.
func PayerInit(network string) error {
	w, err := wallet.New(wallet.Options{Label: payerWalletLabel, Network: network})
	if err != nil {
		return err
	}
	if w.Exists() {
		fmt.Printf("payer wallet already exists: %s (network %s)\n", w.AddressString(), network)
		return nil
	}
	if err := w.Create(); err != nil {
		return err
	}
	fmt.Printf("payer wallet created: %s (network %s)\n", w.AddressString(), network)
	fmt.Println("fund it with USDC before running `oraclectl pay`")
	return nil
}

// PayerBalance prints the self-test payer's USDC balance.
func PayerBalance(ctx context.Context, network string) error {
	w, err := wallet.New(wallet.Options{Label: payerWalletLabel, Network: network})
	if err != nil {
		return err
	}
	if !w.Exists() {
		return fmt.Errorf("no payer wallet; run `oraclectl pay init` first")
	}

	balance, err := w.USDCBalance(ctx)
	if err != nil {
		return err
	}
	human := new(big.Float).Quo(new(big.Float).SetInt(balance), big.NewFloat(1_000_000))
	fmt.Printf("%s: %s USDC\n", w.AddressString(), human.Text('f', 6))
	return nil
}

// payChallenge is the slice of the gateway's 402 body Pay needs: the
// server-minted nonce plus the compatibility requirements object the
// payer wallet signs against.
type payChallenge struct {
	Nonce  string                     `json:"nonce"`
	Compat wallet.PaymentRequirements `json:"compat"`
}

// Pay runs one end-to-end paid query against the gateway's stablecoin
// rail using the keyring payer wallet: request the route, receive the
// 402 challenge, sign an EIP-3009 authorization bound to the challenge
// nonce, retry with the X-Payment header, and print the signed
// attestation. This is the operator's smoke test that the whole paid
// path — challenge minting, nonce redemption, signature verification,
// backend dispatch, response wrapping — works against real money
// movement, which no unit test exercises.
func Pay(ctx context.Context, gatewayURL, route, network string) error {
	w, err := wallet.New(wallet.Options{Label: payerWalletLabel, Network: network})
	if err != nil {
		return err
	}
	if !w.Exists() {
		return fmt.Errorf("no payer wallet; run `oraclectl pay init` first")
	}
	if wallet.IsSolanaNetwork(network) {
		return fmt.Errorf("the self-test payer signs EIP-3009 authorizations; use an EVM network (base, base-sepolia)")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	target := gatewayURL + route

	challenge, err := fetchChallenge(ctx, client, target)
	if err != nil {
		return err
	}

	req := challenge.Compat
	header, err := w.CreateX402Payment(&req, challenge.Nonce)
	if err != nil {
		return fmt.Errorf("sign payment: %w", err)
	}

	paidReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	paidReq.Header.Set("X-Payment", header)

	resp, err := client.Do(paidReq)
	if err != nil {
		return fmt.Errorf("paid request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("paid request returned %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}

// fetchChallenge requests the route unauthenticated and decodes the 402
// challenge body.
func fetchChallenge(ctx context.Context, client *http.Client, target string) (payChallenge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return payChallenge{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return payChallenge{}, fmt.Errorf("request challenge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return payChallenge{}, fmt.Errorf("expected 402 challenge, got %d: %s", resp.StatusCode, body)
	}

	var challenge payChallenge
	if err := json.NewDecoder(resp.Body).Decode(&challenge); err != nil {
		return payChallenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	if challenge.Nonce == "" {
		return payChallenge{}, fmt.Errorf("challenge is missing the server nonce")
	}
	return challenge, nil
}
