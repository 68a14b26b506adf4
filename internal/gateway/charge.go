package gateway

import (
	"fmt"
	"strings"

	"tickethub/models"
)

// BuildCharge assembles the charge payload for a priced, converted cart.
// The cart continuation is embedded in the metadata because the callback
// carries only the charge id; nothing may be re-derived from mutable
// event state at verification time.
func BuildCharge(meta *models.ChargeMetadata, customer Customer, redirectURL string) (*ChargeRequest, error) {
	if len(meta.Lines) == 0 {
		return nil, fmt.Errorf("BuildCharge: empty cart")
	}

	metadata, err := meta.Encode()
	if err != nil {
		return nil, err
	}

	parts := make([]string, 0, len(meta.Lines))
	for _, line := range meta.Lines {
		parts = append(parts, fmt.Sprintf("%s:%s:x%d", line.EventID, line.TicketType, line.Quantity))
	}

	return &ChargeRequest{
		Amount:      meta.Total(),
		Currency:    meta.Currency,
		Description: "tickets " + strings.Join(parts, ","),
		Metadata:    metadata,
		Customer:    customer,
		RedirectURL: redirectURL,
	}, nil
}
