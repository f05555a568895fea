package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"oraclegate/internal/config"
	"oraclegate/internal/money"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/billing/meterevent"
)

// ErrMeteringNotConfigured is returned when Stripe metering config is missing.
var ErrMeteringNotConfigured = errors.New("stripe metering not configured")

// MeterReporter reports settled paid queries to Stripe's Meter API for the
// operator's own revenue analytics. It is never in the path of client
// payment: a query is already settled on its lightning or stablecoin rail
// before ReportUsage runs, so a failed or skipped report never blocks a
// response and never double-charges anyone.
type MeterReporter struct {
	stripeConfig *config.StripeConfig
}

// NewMeterReporter creates a new meter reporter
func NewMeterReporter(stripeConfig *config.StripeConfig) *MeterReporter {
	return &MeterReporter{
		stripeConfig: stripeConfig,
	}
}

// IsConfigured returns whether Stripe metering is fully configured and ready
// to accept usage reports. Callers should check this before running billable
// work to avoid executing requests that cannot be billed.
func (m *MeterReporter) IsConfigured() bool {
	return m.stripeConfig.SecretKey != "" && m.stripeConfig.MeterEventName != ""
}

// ReportUsage reports a single settled paid query to Stripe as a meter
// event. paymentNonce identifies the settled payment transaction and doubles
// as the meter event's idempotency identifier, so a retried report for the
// same payment never double-counts on Stripe's side.
func (m *MeterReporter) ReportUsage(ctx context.Context, paymentNonce, rail, endpoint string, amountMicroUSDC money.MicroUSDC) error {
	if m.stripeConfig.SecretKey == "" || m.stripeConfig.MeterEventName == "" {
		return ErrMeteringNotConfigured
	}

	// Report raw microUSDC as the meter value to preserve sub-cent pricing
	// precision. The Stripe meter price must be configured to interpret
	// microUSDC units (1,000,000 = $1.00). Converting to cents first would
	// truncate all sub-cent prices (e.g. $0.001) to the same value.
	params := &stripe.BillingMeterEventParams{
		EventName:  stripe.String(m.stripeConfig.MeterEventName),
		Identifier: stripe.String(paymentNonce),
		Payload: map[string]string{
			"rail":     rail,
			"endpoint": endpoint,
			"value":    fmt.Sprintf("%d", amountMicroUSDC),
		},
		Timestamp: stripe.Int64(time.Now().Unix()),
	}

	if _, err := meterevent.New(params); err != nil {
		slog.Error("failed to report usage to Stripe meter",
			"payment_nonce", paymentNonce,
			"endpoint", endpoint,
			"error", err,
		)
		return fmt.Errorf("stripe meter event failed: %w", err)
	}

	return nil
}
