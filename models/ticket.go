package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Ticket struct {
	ID         string          `json:"id"`
	EventID    string          `json:"event_id"`
	BuyerID    string          `json:"buyer_id"`
	PurchaseID string          `json:"purchase_id"`
	TicketType string          `json:"ticket_type"`
	QRPayload  string          `json:"qr_payload"`
	Price      decimal.Decimal `json:"price"`
	Used       bool            `json:"used"`
	UsedAt     *time.Time      `json:"used_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
