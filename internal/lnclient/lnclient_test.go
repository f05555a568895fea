package lnclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateInvoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/invoices" {
			t.Errorf("Path = %s, want /v1/invoices", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-credential" {
			t.Errorf("Authorization = %q, want Bearer test-credential", got)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(Invoice{
			PaymentRequest: "lnbc1...",
			PaymentHash:    "deadbeef",
		})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, Credential: "test-credential"})
	inv, err := c.CreateInvoice(context.Background(), 1000, "route=/v1/price/btcusd")
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if inv.PaymentHash != "deadbeef" {
		t.Errorf("PaymentHash = %q, want deadbeef", inv.PaymentHash)
	}
}

func TestLookupNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	_, err := c.Lookup(context.Background(), "deadbeef")
	if err != ErrInvoiceNotFound {
		t.Fatalf("Lookup error = %v, want ErrInvoiceNotFound", err)
	}
}

func TestLookupSettled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(InvoiceStatus{Settled: true, Preimage: "abc123"})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	status, err := c.Lookup(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !status.Settled || status.Preimage != "abc123" {
		t.Errorf("status = %+v, want settled with preimage abc123", status)
	}
}
