package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"tickethub/internal/status"
	"tickethub/models"
	"tickethub/monitoring"
)

type ChargeVerifier interface {
	GetCharge(ctx context.Context, chargeID string) (*models.Charge, error)
}

type PurchaseStore interface {
	FindPurchaseByCharge(ctx context.Context, chargeID string) (*models.Purchase, error)
	CreatePurchase(ctx context.Context, p *models.Purchase) error
	SavePurchase(ctx context.Context, p *models.Purchase) error
}

type InventoryChecker interface {
	FindTicketType(ctx context.Context, eventID, name string) (*models.TicketType, error)
	ConfirmReservation(ctx context.Context, chargeID string)
}

type TicketIssuer interface {
	Issue(ctx context.Context, purchaseID, eventID, buyerID, typeName string, qty int, unitPrice decimal.Decimal) ([]models.TicketSummary, error)
}

type Notifier interface {
	PurchaseConfirmed(ctx context.Context, p *models.Purchase)
}

// Reconciler turns a captured charge into issued tickets and a settled
// purchase record. The callback carries only the charge id, so the cart
// is reconstructed from the charge metadata, never from live event state.
type Reconciler struct {
	gateway   ChargeVerifier
	store     PurchaseStore
	inventory InventoryChecker
	issuer    TicketIssuer
	notifier  Notifier
	redis     *redis.Client
}

func NewReconciler(gw ChargeVerifier, store PurchaseStore, inv InventoryChecker, issuer TicketIssuer, notifier Notifier, redisClient *redis.Client) *Reconciler {
	return &Reconciler{
		gateway:   gw,
		store:     store,
		inventory: inv,
		issuer:    issuer,
		notifier:  notifier,
		redis:     redisClient,
	}
}

// Reconcile verifies a charge by id and, if captured, completes it.
func (r *Reconciler) Reconcile(ctx context.Context, chargeID string) ([]models.TicketSummary, error) {
	charge, err := r.gateway.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	if charge.Status != models.ChargeCaptured {
		return nil, status.ErrChargeNotCaptured
	}

	return r.Complete(ctx, charge)
}

// Complete runs the captured branch: find-or-create the purchase, issue
// tickets once, notify the buyer. Safe against duplicate callbacks — a
// paid purchase short-circuits to its stored summaries.
func (r *Reconciler) Complete(ctx context.Context, charge *models.Charge) ([]models.TicketSummary, error) {
	started := time.Now()

	unlock, err := r.lock(ctx, charge.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	meta, err := models.DecodeChargeMetadata(charge.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrMissingMetadata, err)
	}

	purchase, err := r.store.FindPurchaseByCharge(ctx, charge.ID)
	if err != nil {
		return nil, fmt.Errorf("Complete: %w", err)
	}

	if purchase == nil {
		purchase = &models.Purchase{
			ChargeID:    charge.ID,
			BuyerID:     meta.BuyerID,
			EventIDs:    distinctEvents(meta.Lines),
			TotalAmount: meta.Total(),
			Currency:    meta.Currency,
		}
		if err := r.store.CreatePurchase(ctx, purchase); err != nil {
			return nil, fmt.Errorf("Complete: %w", err)
		}
	}

	// Idempotency guard: a paid purchase already has its tickets.
	if purchase.Paid {
		return purchase.Tickets, nil
	}

	for _, line := range meta.Lines {
		// The event or type may have vanished since checkout. Skip
		// such lines instead of failing the whole reconciliation.
		if _, err := r.inventory.FindTicketType(ctx, line.EventID, line.TicketType); err != nil {
			slog.Warn("reconcile: skipping vanished cart line",
				"charge_id", charge.ID,
				"event_id", line.EventID,
				"ticket_type", line.TicketType,
				"error", err,
			)
			continue
		}

		summaries, err := r.issuer.Issue(ctx, purchase.ID, line.EventID, meta.BuyerID, line.TicketType, line.Quantity, line.UnitPrice)
		if err != nil {
			slog.Warn("reconcile: issuing line failed",
				"charge_id", charge.ID,
				"event_id", line.EventID,
				"ticket_type", line.TicketType,
				"error", err,
			)
		}
		purchase.Tickets = append(purchase.Tickets, summaries...)
		monitoring.TrackTicketsIssued(line.EventID, len(summaries))
	}

	purchase.Paid = true
	if err := r.store.SavePurchase(ctx, purchase); err != nil {
		return nil, fmt.Errorf("Complete: %w", err)
	}

	r.inventory.ConfirmReservation(ctx, charge.ID)

	if r.notifier != nil {
		r.notifier.PurchaseConfirmed(ctx, purchase)
	}

	monitoring.TrackReconcile(time.Since(started), "captured")

	return purchase.Tickets, nil
}

// lock serializes concurrent callbacks for the same charge id.
func (r *Reconciler) lock(ctx context.Context, chargeID string) (func(), error) {
	key := fmt.Sprintf("reconcile:lock:%s", chargeID)

	for attempt := 0; attempt < 10; attempt++ {
		ok, err := r.redis.SetNX(ctx, key, "1", time.Minute).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: %w", err)
		}
		if ok {
			return func() { r.redis.Del(context.Background(), key) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	return nil, fmt.Errorf("lock: charge %s is already being reconciled", chargeID)
}

func distinctEvents(lines []models.PricedLine) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, line := range lines {
		if !seen[line.EventID] {
			seen[line.EventID] = true
			ids = append(ids, line.EventID)
		}
	}
	return ids
}
