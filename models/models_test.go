package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchaseRequestValidate(t *testing.T) {
	valid := PurchaseRequest{
		EventIDs: []string{"e1"},
		Tickets:  []CartLine{{EventID: "e1", TicketType: "Standard", Quantity: 2}},
	}
	assert.NoError(t, valid.Validate())

	empty := PurchaseRequest{}
	assert.Error(t, empty.Validate())

	noTickets := PurchaseRequest{EventIDs: []string{"e1"}}
	assert.Error(t, noTickets.Validate())

	zeroQty := PurchaseRequest{
		EventIDs: []string{"e1"},
		Tickets:  []CartLine{{EventID: "e1", TicketType: "Standard", Quantity: 0}},
	}
	assert.Error(t, zeroQty.Validate())

	missingType := PurchaseRequest{
		EventIDs: []string{"e1"},
		Tickets:  []CartLine{{EventID: "e1", Quantity: 1}},
	}
	assert.Error(t, missingType.Validate())
}

func TestChargeMetadataRoundTrip(t *testing.T) {
	meta := &ChargeMetadata{
		BuyerID:  "buyer1",
		Currency: "SAR",
		Lines: []PricedLine{
			{EventID: "e1", TicketType: "Standard", Quantity: 2, UnitPrice: decimal.RequireFromString("50"), Currency: "SAR"},
			{EventID: "e2", TicketType: "VIP", Quantity: 1, UnitPrice: decimal.RequireFromString("187.33"), Currency: "SAR"},
		},
	}

	encoded, err := meta.Encode()
	require.NoError(t, err)
	assert.Equal(t, "buyer1", encoded["buyer_id"])
	assert.Equal(t, "SAR", encoded["currency"])

	decoded, err := DecodeChargeMetadata(encoded)
	require.NoError(t, err)
	assert.Equal(t, meta.BuyerID, decoded.BuyerID)
	assert.Equal(t, meta.Currency, decoded.Currency)
	require.Len(t, decoded.Lines, 2)
	assert.True(t, decoded.Lines[0].UnitPrice.Equal(decimal.RequireFromString("50")))
	assert.Equal(t, 2, decoded.Lines[0].Quantity)
}

func TestDecodeChargeMetadataRejectsMalformed(t *testing.T) {
	_, err := DecodeChargeMetadata(nil)
	assert.Error(t, err)

	_, err = DecodeChargeMetadata(map[string]string{"currency": "SAR", "cart": "[]"})
	assert.Error(t, err, "missing buyer_id")

	_, err = DecodeChargeMetadata(map[string]string{"buyer_id": "b", "currency": "SAR", "cart": "not json"})
	assert.Error(t, err)

	_, err = DecodeChargeMetadata(map[string]string{"buyer_id": "b", "currency": "SAR", "cart": "[]"})
	assert.Error(t, err, "empty cart")
}

func TestChargeMetadataTotalRounds(t *testing.T) {
	meta := &ChargeMetadata{
		BuyerID:  "b",
		Currency: "SAR",
		Lines: []PricedLine{
			{EventID: "e1", TicketType: "A", Quantity: 3, UnitPrice: decimal.RequireFromString("33.333")},
		},
	}

	// 3 x 33.333 = 99.999, rounded half away from zero
	assert.Equal(t, "100.00", meta.Total().StringFixed(2))
}
