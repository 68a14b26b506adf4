package models

import (
	"errors"

	"github.com/shopspring/decimal"
)

// CartLine is one (event, ticket type, quantity) unit of a purchase
// request. Lines are never persisted; they are re-validated against the
// events collection on every attempt.
type CartLine struct {
	EventID    string `json:"eventId"`
	TicketType string `json:"ticketClass"`
	Quantity   int    `json:"quantity"`
}

// PricedLine is a cart line after inventory reservation and currency
// normalization. UnitPrice is expressed in the settlement currency.
type PricedLine struct {
	EventID    string          `json:"event_id"`
	TicketType string          `json:"ticket_type"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Currency   string          `json:"currency"`
}

func (l PricedLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type PurchaseRequest struct {
	EventIDs []string   `json:"eventIds"`
	Tickets  []CartLine `json:"tickets"`
}

// Validate checks the request shape before any core logic runs.
func (r *PurchaseRequest) Validate() error {
	if len(r.EventIDs) == 0 {
		return errors.New("eventIds must not be empty")
	}
	if len(r.Tickets) == 0 {
		return errors.New("tickets must not be empty")
	}
	for _, line := range r.Tickets {
		if line.EventID == "" {
			return errors.New("ticket line missing eventId")
		}
		if line.TicketType == "" {
			return errors.New("ticket line missing ticketClass")
		}
		if line.Quantity < 1 {
			return errors.New("ticket quantity must be at least 1")
		}
	}
	return nil
}
