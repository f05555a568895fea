package backend

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5"

	"oraclegate/internal/db"
)

// EventsHandler serves the paid per-event derivatives attestation route
// (the templated backend a "/v1/attest/{event_id}" route table entry
// points at, once internal/proxy has cleared the payment gate). It only
// reads what the scheduler already persisted — announcing and attesting
// are the scheduler's job (internal/scheduler), not the HTTP path.
type EventsHandler struct {
	db        db.Database
	pubkeyHex string
}

// NewEventsHandler builds an EventsHandler. pubkeyHex is the derivatives
// signer's published Schnorr public key, reported on every response so a
// caller can verify without a separate round trip to the free identity
// route.
func NewEventsHandler(database db.Database, pubkeyHex string) *EventsHandler {
	return &EventsHandler{db: database, pubkeyHex: pubkeyHex}
}

// Register mounts the paid GET /v1/attest/{event_id} route.
func (h *EventsHandler) Register(app *fiber.App) {
	app.Get("/v1/attest/:event_id", h.GetAttestation)
}

// attestationResponse is the DLC-style attestation body. Price,
// PriceDigits, SValues, and AttestedAt are only populated once Status is
// "attested"; a caller polling an announced-but-not-yet-matured event
// sees Status alone.
type attestationResponse struct {
	EventID     string        `json:"event_id"`
	Pair        string        `json:"pair"`
	Maturity    time.Time     `json:"maturity"`
	OraclePub   string        `json:"oracle_pubkey"`
	Price       *int64        `json:"price,omitempty"`
	PriceDigits []int         `json:"price_digits,omitempty"`
	SValues     []string      `json:"s_values,omitempty"`
	AttestedAt  *time.Time    `json:"attested_at,omitempty"`
	Status      db.EventStatus `json:"status"`
}

// GetAttestation looks up a scheduled derivatives event by id and
// renders its current lifecycle state.
func (h *EventsHandler) GetAttestation(c fiber.Ctx) error {
	eventID := c.Params("event_id")
	ev, err := h.db.GetEvent(c.Context(), eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown event_id"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	resp := attestationResponse{
		EventID:    ev.EventID,
		Pair:       ev.Pair,
		Maturity:   ev.Maturity,
		OraclePub:  h.pubkeyHex,
		Price:      ev.Price,
		AttestedAt: ev.AttestedAt,
		Status:     ev.Status,
	}

	if ev.Status == db.EventStatusAttested {
		digits, err := digitsFromPrice(*ev.Price, ev.DigitCount)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		resp.PriceDigits = digits

		sValues := make([]string, len(ev.SValues))
		for i, s := range ev.SValues {
			sValues[i] = hex.EncodeToString(s)
		}
		resp.SValues = sValues
	}

	return c.JSON(resp)
}

// digitsFromPrice renders price's base-10 digits, most significant
// first, zero-padded to digitCount positions — the same order
// internal/scheduler decomposed them in at attestation time.
func digitsFromPrice(price int64, digitCount int) ([]int, error) {
	if price < 0 {
		return nil, fmt.Errorf("backend: attested price %d is negative", price)
	}
	padded := fmt.Sprintf("%0*d", digitCount, price)
	if len(padded) != digitCount {
		return nil, fmt.Errorf("backend: attested price %d needs more than %d digits", price, digitCount)
	}
	digits := make([]int, digitCount)
	for i := 0; i < digitCount; i++ {
		digits[i] = int(padded[i] - '0')
	}
	return digits, nil
}
