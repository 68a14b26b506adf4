package purchase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"tickethub/models"
	"tickethub/utils"
)

// TicketStore is the persistence the issuer needs.
type TicketStore interface {
	InsertTicket(ctx context.Context, t *models.Ticket) error
}

// Issuer mints ticket credentials for a confirmed purchase. It never
// touches the sold counters (the reservation already happened before the
// charge was created) and it never deduplicates; the reconciler holds the
// idempotency guard before calling in.
type Issuer struct {
	store TicketStore
}

func NewIssuer(store TicketStore) *Issuer {
	return &Issuer{store: store}
}

// Issue mints qty tickets of one type and returns their summaries, one
// per unit, for the purchase's denormalized list.
func (i *Issuer) Issue(ctx context.Context, purchaseID, eventID, buyerID, typeName string, qty int, unitPrice decimal.Decimal) ([]models.TicketSummary, error) {
	summaries := make([]models.TicketSummary, 0, qty)

	for n := 0; n < qty; n++ {
		qrPayload, err := mintQRPayload(buyerID, eventID, typeName)
		if err != nil {
			return summaries, fmt.Errorf("Issue: %w", err)
		}

		ticket := &models.Ticket{
			EventID:    eventID,
			BuyerID:    buyerID,
			PurchaseID: purchaseID,
			TicketType: typeName,
			QRPayload:  qrPayload,
			Price:      unitPrice,
		}
		if err := i.store.InsertTicket(ctx, ticket); err != nil {
			return summaries, fmt.Errorf("Issue: %w", err)
		}

		summaries = append(summaries, models.TicketSummary{
			TicketID:   ticket.ID,
			EventID:    eventID,
			TicketType: typeName,
			Quantity:   1,
			UnitPrice:  unitPrice,
			QRPayload:  qrPayload,
		})
	}

	return summaries, nil
}

// mintQRPayload builds the scannable credential. Hashing the buyer, event
// and type together with a nanosecond timestamp and random salt keeps the
// payload unguessable and unique across the whole system.
func mintQRPayload(buyerID, eventID, typeName string) (string, error) {
	salt, err := utils.GenerateCode(8)
	if err != nil {
		return "", err
	}

	seed := fmt.Sprintf("%s|%s|%s|%d|%s", buyerID, eventID, typeName, time.Now().UnixNano(), salt)
	digest := sha3.Sum256([]byte(seed))
	return fmt.Sprintf("%x", digest), nil
}
