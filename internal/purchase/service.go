// Package purchase implements the checkout and settlement workflow:
// reserve inventory, normalize currencies, create the gateway charge, and
// later reconcile the asynchronous payment callback into issued tickets.
package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"tickethub/internal/currency"
	"tickethub/internal/gateway"
	"tickethub/internal/status"
	"tickethub/models"
	"tickethub/monitoring"
	"tickethub/utils"
)

type EventStore interface {
	FindEvent(ctx context.Context, id string) (*models.Event, error)
}

type Ledger interface {
	FindTicketType(ctx context.Context, eventID, name string) (*models.TicketType, error)
	Reserve(ctx context.Context, eventID, name string, qty int) error
	Release(ctx context.Context, eventID, name string, qty int) error
	TrackReservation(ctx context.Context, chargeID string, lines []models.CartLine) error
}

type Rater interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

type ChargeCreator interface {
	CreateCharge(ctx context.Context, form *gateway.ChargeRequest) (*gateway.CreatedCharge, error)
}

// Buyer is the verified customer taken from the auth record.
type Buyer struct {
	ID    string
	Name  string
	Email string
}

// Result is the outcome of one purchase attempt: a redirect to the
// gateway for paid carts, or immediately issued tickets for free ones.
type Result struct {
	PaymentURL  string
	FreeTickets []models.TicketSummary
}

type Service struct {
	events     EventStore
	ledger     Ledger
	rates      Rater
	gateway    ChargeCreator
	reconciler *Reconciler

	callbackURL string
}

func NewService(events EventStore, ledger Ledger, rates Rater, gw ChargeCreator, reconciler *Reconciler, callbackURL string) *Service {
	return &Service{
		events:      events,
		ledger:      ledger,
		rates:       rates,
		gateway:     gw,
		reconciler:  reconciler,
		callbackURL: callbackURL,
	}
}

// Purchase runs the checkout flow for one cart. Every line is reserved
// before any gateway call is made; a failed line aborts the whole cart
// and hands back the units reserved so far.
func (s *Service) Purchase(ctx context.Context, buyer Buyer, req *models.PurchaseRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrInvalidRequest, err)
	}

	allowed := make(map[string]bool, len(req.EventIDs))
	for _, id := range req.EventIDs {
		allowed[id] = true
	}

	var (
		reserved   []models.CartLine
		priced     []models.PricedLine
		currencies []currency.EventCurrency
	)

	release := func() {
		for _, line := range reserved {
			if err := s.ledger.Release(ctx, line.EventID, line.TicketType, line.Quantity); err != nil {
				slog.Warn("purchase: release after abort failed", "event_id", line.EventID, "error", err)
			}
		}
	}

	for _, line := range req.Tickets {
		if !allowed[line.EventID] {
			release()
			return nil, fmt.Errorf("%w: ticket line references event outside eventIds", status.ErrInvalidRequest)
		}

		event, err := s.events.FindEvent(ctx, line.EventID)
		if err != nil {
			release()
			return nil, err
		}
		if event == nil || event.Status != "publish" {
			release()
			return nil, status.ErrEventNotFound
		}
		if !withinWindow(event, time.Now()) {
			release()
			return nil, status.ErrSalesClosed
		}

		typ, err := s.ledger.FindTicketType(ctx, line.EventID, line.TicketType)
		if err != nil {
			release()
			return nil, err
		}

		if err := s.ledger.Reserve(ctx, line.EventID, line.TicketType, line.Quantity); err != nil {
			release()
			monitoring.TrackInventoryRejection(rejectionReason(err))
			return nil, err
		}
		reserved = append(reserved, line)

		priced = append(priced, models.PricedLine{
			EventID:    line.EventID,
			TicketType: line.TicketType,
			Quantity:   line.Quantity,
			UnitPrice:  typ.Price,
			Currency:   typ.Currency,
		})
		currencies = append(currencies, currency.EventCurrency{
			EventID:  line.EventID,
			Currency: typ.Currency,
		})
	}

	settlement := currency.Settlement(currencies)

	converted, err := s.convertLines(ctx, priced, settlement)
	if err != nil {
		release()
		return nil, err
	}

	meta := &models.ChargeMetadata{
		BuyerID:  buyer.ID,
		Currency: settlement,
		Lines:    converted,
	}

	if meta.Total().IsZero() {
		result, err := s.issueFree(ctx, meta)
		if err != nil {
			release()
			return nil, err
		}
		return result, nil
	}

	form, err := gateway.BuildCharge(meta, gateway.Customer{
		ID:    buyer.ID,
		Name:  buyer.Name,
		Email: buyer.Email,
	}, s.callbackURL)
	if err != nil {
		release()
		return nil, err
	}

	created, err := s.gateway.CreateCharge(ctx, form)
	if err != nil {
		release()
		monitoring.TrackPurchase("gateway_error")
		return nil, err
	}

	if err := s.ledger.TrackReservation(ctx, created.ChargeID, reserved); err != nil {
		slog.Warn("purchase: tracking reservation failed", "charge_id", created.ChargeID, "error", err)
	}

	monitoring.TrackPurchase("charged")

	return &Result{PaymentURL: created.RedirectURL}, nil
}

// issueFree settles a zero-total cart through the same reconciler path as
// paid carts, with a synthetic always-captured charge, so free tickets
// are persisted and idempotent like any others.
func (s *Service) issueFree(ctx context.Context, meta *models.ChargeMetadata) (*Result, error) {
	code, err := utils.GenerateCode(8)
	if err != nil {
		return nil, fmt.Errorf("issueFree: %w", err)
	}

	metadata, err := meta.Encode()
	if err != nil {
		return nil, err
	}

	charge := &models.Charge{
		ID:       "free_" + code,
		Status:   models.ChargeCaptured,
		Amount:   decimal.Zero,
		Currency: meta.Currency,
		Metadata: metadata,
	}

	summaries, err := s.reconciler.Complete(ctx, charge)
	if err != nil {
		return nil, err
	}

	monitoring.TrackPurchase("free")

	return &Result{FreeTickets: summaries}, nil
}

func (s *Service) convertLines(ctx context.Context, lines []models.PricedLine, settlement string) ([]models.PricedLine, error) {
	converted := make([]models.PricedLine, 0, len(lines))
	for _, line := range lines {
		if line.Currency != settlement {
			rate, err := s.rates.Rate(ctx, line.Currency, settlement)
			if err != nil {
				return nil, err
			}
			line.UnitPrice = line.UnitPrice.Mul(rate).Round(2)
			line.Currency = settlement
		}
		converted = append(converted, line)
	}
	return converted, nil
}

func withinWindow(event *models.Event, now time.Time) bool {
	if !event.PurchaseStart.IsZero() && now.Before(event.PurchaseStart) {
		return false
	}
	if !event.PurchaseEnd.IsZero() && now.After(event.PurchaseEnd) {
		return false
	}
	return true
}

func rejectionReason(err error) string {
	switch {
	case err == status.ErrInsufficientInventory:
		return "sold_out"
	case err == status.ErrUnknownTicketType:
		return "unknown_type"
	default:
		return "error"
	}
}
