package purchase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"tickethub/internal/status"
	"tickethub/models"
)

// Store persists purchases and tickets in their collections. The sold
// counters live with the inventory ledger, not here.
type Store struct {
	app core.App
}

func NewStore(app core.App) *Store {
	return &Store{app: app}
}

func (s *Store) FindEvent(_ context.Context, id string) (*models.Event, error) {
	record, err := s.app.FindRecordById("events", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("FindEvent: %w", err)
	}

	return &models.Event{
		ID:            record.Id,
		Name:          record.GetString("name"),
		Description:   record.GetString("description"),
		Venue:         record.GetString("venue"),
		Status:        record.GetString("status"),
		PurchaseStart: record.GetDateTime("purchase_start").Time(),
		PurchaseEnd:   record.GetDateTime("purchase_end").Time(),
		StartAt:       record.GetDateTime("start_at").Time(),
		EndAt:         record.GetDateTime("end_at").Time(),
	}, nil
}

// FindPurchaseByCharge returns nil without error when no purchase exists
// for the charge yet; the reconciler creates one from the metadata.
func (s *Store) FindPurchaseByCharge(_ context.Context, chargeID string) (*models.Purchase, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"purchases",
		"charge_id = {:charge}",
		dbx.Params{"charge": chargeID},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("FindPurchaseByCharge: %w", err)
	}
	return s.purchaseFromRecord(record)
}

func (s *Store) CreatePurchase(_ context.Context, p *models.Purchase) error {
	collection, err := s.app.FindCollectionByNameOrId("purchases")
	if err != nil {
		return fmt.Errorf("CreatePurchase: %w", err)
	}

	record := core.NewRecord(collection)
	record.Set("charge_id", p.ChargeID)
	record.Set("buyer", p.BuyerID)
	record.Set("event_ids", p.EventIDs)
	record.Set("total_amount", p.TotalAmount.InexactFloat64())
	record.Set("currency", p.Currency)
	record.Set("paid", p.Paid)
	record.Set("used", p.Used)
	record.Set("tickets", p.Tickets)

	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("CreatePurchase: %w", err)
	}
	p.ID = record.Id
	return nil
}

func (s *Store) SavePurchase(_ context.Context, p *models.Purchase) error {
	record, err := s.app.FindRecordById("purchases", p.ID)
	if err != nil {
		return fmt.Errorf("SavePurchase: %w", err)
	}

	record.Set("paid", p.Paid)
	record.Set("used", p.Used)
	record.Set("tickets", p.Tickets)

	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("SavePurchase: %w", err)
	}
	return nil
}

func (s *Store) InsertTicket(_ context.Context, t *models.Ticket) error {
	collection, err := s.app.FindCollectionByNameOrId("tickets")
	if err != nil {
		return fmt.Errorf("InsertTicket: %w", err)
	}

	record := core.NewRecord(collection)
	record.Set("event", t.EventID)
	record.Set("buyer", t.BuyerID)
	record.Set("purchase", t.PurchaseID)
	record.Set("ticket_type", t.TicketType)
	record.Set("qr_payload", t.QRPayload)
	record.Set("price", t.Price.InexactFloat64())
	record.Set("used", t.Used)

	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("InsertTicket: %w", err)
	}
	t.ID = record.Id
	return nil
}

func (s *Store) FindTicketByID(_ context.Context, id string) (*models.Ticket, error) {
	record, err := s.app.FindRecordById("tickets", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrTicketNotFound
		}
		return nil, fmt.Errorf("FindTicketByID: %w", err)
	}
	return ticketFromRecord(record), nil
}

func (s *Store) FindTicketByQR(_ context.Context, qrPayload, eventID string) (*models.Ticket, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"tickets",
		"qr_payload = {:qr} && event = {:event}",
		dbx.Params{"qr": qrPayload, "event": eventID},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrTicketNotFound
		}
		return nil, fmt.Errorf("FindTicketByQR: %w", err)
	}
	return ticketFromRecord(record), nil
}

// MarkTicketUsed flips the one-way used flag. Already-used tickets fail.
func (s *Store) MarkTicketUsed(_ context.Context, id string) (*models.Ticket, error) {
	record, err := s.app.FindRecordById("tickets", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrTicketNotFound
		}
		return nil, fmt.Errorf("MarkTicketUsed: %w", err)
	}

	if record.GetBool("used") {
		return nil, status.ErrTicketUsed
	}

	record.Set("used", true)
	record.Set("used_at", time.Now().UTC())
	if err := s.app.Save(record); err != nil {
		return nil, fmt.Errorf("MarkTicketUsed: %w", err)
	}
	return ticketFromRecord(record), nil
}

// MarkPurchaseUsed flags the purchase linked to a redeemed ticket.
func (s *Store) MarkPurchaseUsed(_ context.Context, purchaseID string) error {
	if purchaseID == "" {
		return nil
	}
	record, err := s.app.FindRecordById("purchases", purchaseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("MarkPurchaseUsed: %w", err)
	}
	record.Set("used", true)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("MarkPurchaseUsed: %w", err)
	}
	return nil
}

func (s *Store) ListPurchasesByBuyer(_ context.Context, buyerID string) ([]*models.Purchase, error) {
	records, err := s.app.FindRecordsByFilter(
		"purchases",
		"buyer = {:buyer}",
		"-created",
		100,
		0,
		dbx.Params{"buyer": buyerID},
	)
	if err != nil {
		return nil, fmt.Errorf("ListPurchasesByBuyer: %w", err)
	}

	purchases := make([]*models.Purchase, 0, len(records))
	for _, record := range records {
		p, err := s.purchaseFromRecord(record)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, nil
}

func (s *Store) purchaseFromRecord(record *core.Record) (*models.Purchase, error) {
	p := &models.Purchase{
		ID:          record.Id,
		ChargeID:    record.GetString("charge_id"),
		BuyerID:     record.GetString("buyer"),
		TotalAmount: decimal.NewFromFloat(record.GetFloat("total_amount")),
		Currency:    record.GetString("currency"),
		Paid:        record.GetBool("paid"),
		Used:        record.GetBool("used"),
		CreatedAt:   record.GetDateTime("created").Time(),
	}
	if raw := record.GetString("event_ids"); raw != "" && raw != "null" {
		if err := record.UnmarshalJSONField("event_ids", &p.EventIDs); err != nil {
			return nil, fmt.Errorf("purchaseFromRecord: event_ids: %w", err)
		}
	}
	if raw := record.GetString("tickets"); raw != "" && raw != "null" {
		if err := record.UnmarshalJSONField("tickets", &p.Tickets); err != nil {
			return nil, fmt.Errorf("purchaseFromRecord: tickets: %w", err)
		}
	}
	return p, nil
}

func ticketFromRecord(record *core.Record) *models.Ticket {
	t := &models.Ticket{
		ID:         record.Id,
		EventID:    record.GetString("event"),
		BuyerID:    record.GetString("buyer"),
		PurchaseID: record.GetString("purchase"),
		TicketType: record.GetString("ticket_type"),
		QRPayload:  record.GetString("qr_payload"),
		Price:      decimal.NewFromFloat(record.GetFloat("price")),
		Used:       record.GetBool("used"),
		CreatedAt:  record.GetDateTime("created").Time(),
	}
	if usedAt := record.GetDateTime("used_at").Time(); !usedAt.IsZero() {
		t.UsedAt = &usedAt
	}
	return t
}
