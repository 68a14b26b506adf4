package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Venue         string    `json:"venue"`
	Status        string    `json:"status"` // publish, unpublish
	PurchaseStart time.Time `json:"purchase_start"`
	PurchaseEnd   time.Time `json:"purchase_end"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
}

// TicketType is one sellable class of tickets for an event. The sold
// counter is owned by the inventory ledger and must never be written
// through plain record saves.
type TicketType struct {
	ID       string          `json:"id"`
	EventID  string          `json:"event_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Capacity int64           `json:"capacity"`
	Sold     int64           `json:"sold"`
}

func (t *TicketType) Remaining() int64 {
	return t.Capacity - t.Sold
}
