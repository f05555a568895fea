// Package lnclient is an HTTPS client for the external Lightning node
// collaborator: invoice creation and lookup-by-hash over a bearer-
// credentialed JSON API, using the same plain *http.Client idiom as the
// stablecoin facilitator client in internal/wallet.
package lnclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInvoiceNotFound is returned by Lookup when the node has no record
// of the requested payment hash.
var ErrInvoiceNotFound = errors.New("lnclient: invoice not found")

// Client talks to the Lightning node's invoice API.
type Client struct {
	baseURL    string
	credential string
	httpClient *http.Client
}

// Config configures a Client.
type Config struct {
	BaseURL    string        // e.g. https://ln.example.com
	Credential string        // bearer credential (macaroon, API token, etc.)
	Timeout    time.Duration // per-call deadline; defaults to 10s
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		credential: cfg.Credential,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Invoice is the node's response to invoice creation.
type Invoice struct {
	PaymentRequest string `json:"payment_request"` // BOLT11 string
	PaymentHash    string `json:"payment_hash"`    // hex-encoded, 32 bytes
	AddIndex       uint64 `json:"add_index,omitempty"`
}

// CreateInvoice requests a new invoice for amountSats with the given
// memo, identifying the route the challenge was issued for.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error) {
	reqBody := struct {
		ValueSat int64  `json:"value_sat"`
		Memo     string `json:"memo"`
	}{ValueSat: amountSats, Memo: memo}

	var inv Invoice
	if err := c.do(ctx, http.MethodPost, "/v1/invoices", reqBody, &inv); err != nil {
		return Invoice{}, fmt.Errorf("lnclient: create invoice: %w", err)
	}
	return inv, nil
}

// InvoiceStatus is the settlement state of a previously created invoice.
type InvoiceStatus struct {
	Settled  bool   `json:"settled"`
	Preimage string `json:"preimage,omitempty"` // hex, populated once settled
}

// Lookup polls the node for the settlement state of the invoice
// identified by paymentHashHex.
func (c *Client) Lookup(ctx context.Context, paymentHashHex string) (InvoiceStatus, error) {
	var status InvoiceStatus
	path := "/v1/invoice/" + paymentHashHex
	if err := c.do(ctx, http.MethodGet, path, nil, &status); err != nil {
		if errors.Is(err, errNotFound) {
			return InvoiceStatus{}, ErrInvoiceNotFound
		}
		return InvoiceStatus{}, fmt.Errorf("lnclient: lookup invoice: %w", err)
	}
	return status, nil
}

var errNotFound = errors.New("not found")

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader *bytes.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node returned %s", resp.Status)
	}

	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
