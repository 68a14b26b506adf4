package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Charge statuses as reported by the payment gateway.
const (
	ChargeCaptured  = "CAPTURED"
	ChargeInitiated = "INITIATED"
	ChargeFailed    = "FAILED"
)

type Charge struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Amount   decimal.Decimal   `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

// ChargeMetadata is the continuation serialized into a charge at creation
// time. The gateway callback carries only the charge id, so everything
// needed to issue tickets must round-trip through here instead of being
// re-derived from possibly-changed event state.
type ChargeMetadata struct {
	BuyerID  string       `json:"buyer_id"`
	Currency string       `json:"currency"`
	Lines    []PricedLine `json:"lines"`
}

func (m *ChargeMetadata) Encode() (map[string]string, error) {
	lines, err := json.Marshal(m.Lines)
	if err != nil {
		return nil, fmt.Errorf("ChargeMetadata.Encode: json.Marshal: %w", err)
	}

	return map[string]string{
		"buyer_id": m.BuyerID,
		"currency": m.Currency,
		"cart":     string(lines),
	}, nil
}

func DecodeChargeMetadata(raw map[string]string) (*ChargeMetadata, error) {
	if raw == nil {
		return nil, fmt.Errorf("DecodeChargeMetadata: empty metadata")
	}

	m := &ChargeMetadata{
		BuyerID:  raw["buyer_id"],
		Currency: raw["currency"],
	}
	if m.BuyerID == "" || m.Currency == "" {
		return nil, fmt.Errorf("DecodeChargeMetadata: missing buyer_id or currency")
	}

	if err := json.Unmarshal([]byte(raw["cart"]), &m.Lines); err != nil {
		return nil, fmt.Errorf("DecodeChargeMetadata: json.Unmarshal cart: %w", err)
	}
	if len(m.Lines) == 0 {
		return nil, fmt.Errorf("DecodeChargeMetadata: empty cart")
	}

	return m, nil
}

// Total sums the line subtotals rounded to two decimals.
func (m *ChargeMetadata) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range m.Lines {
		total = total.Add(line.Subtotal())
	}
	return total.Round(2)
}
