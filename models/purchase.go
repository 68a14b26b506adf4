package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Purchase struct {
	ID          string          `json:"id"`
	ChargeID    string          `json:"charge_id"`
	BuyerID     string          `json:"buyer_id"`
	EventIDs    []string        `json:"event_ids"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Paid        bool            `json:"paid"`
	Used        bool            `json:"used"`
	Tickets     []TicketSummary `json:"tickets"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TicketSummary is the denormalized copy of an issued ticket kept on the
// purchase record for display. The ticket record itself stays the source
// of truth for redemption state.
type TicketSummary struct {
	TicketID   string          `json:"ticket_id"`
	EventID    string          `json:"event_id"`
	TicketType string          `json:"ticket_type"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	QRPayload  string          `json:"qr_payload"`
}
