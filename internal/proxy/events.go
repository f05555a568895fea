package proxy

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"oraclegate/internal/db"
)

const eventsListHorizon = 48 * time.Hour

type eventSummary struct {
	EventID    string      `json:"event_id"`
	Pair       string      `json:"pair"`
	Maturity   time.Time   `json:"maturity"`
	DigitCount int         `json:"digit_count"`
	RPoints    [][]byte    `json:"r_points"`
	Status     db.EventStatus `json:"status"`
}

// RegisterEvents mounts the free GET /v1/events route, publishing the
// announced derivatives events maturing within eventsListHorizon — the
// per-digit R points a caller needs to construct a commitment to a
// future attestation before its settlement price is known. Register
// before Proxy.Register.
func RegisterEvents(app *fiber.App, database db.Database) {
	app.Get("/v1/events", func(c fiber.Ctx) error {
		events, err := database.ListEventsMaturingBefore(c.Context(), time.Now().UTC().Add(eventsListHorizon))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		summaries := make([]eventSummary, len(events))
		for i, ev := range events {
			summaries[i] = eventSummary{
				EventID:    ev.EventID,
				Pair:       ev.Pair,
				Maturity:   ev.Maturity,
				DigitCount: ev.DigitCount,
				RPoints:    ev.RPoints,
				Status:     ev.Status,
			}
		}
		return c.JSON(fiber.Map{"events": summaries})
	})
}
