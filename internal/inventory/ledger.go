// Package inventory owns the per-type sold counters. All mutation goes
// through a single conditional UPDATE so that concurrent purchases cannot
// oversell, across goroutines and across processes.
package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"tickethub/internal/status"
	"tickethub/models"
)

const (
	reservationIndexKey = "reservations:pending"
	reservationKeyFmt   = "reservation:%s"
)

type Ledger struct {
	app   core.App
	redis *redis.Client

	// reservationTTL bounds how long an unconfirmed reservation keeps
	// seats away from other buyers.
	reservationTTL time.Duration
}

func NewLedger(app core.App, redisClient *redis.Client, reservationTTL time.Duration) *Ledger {
	return &Ledger{
		app:            app,
		redis:          redisClient,
		reservationTTL: reservationTTL,
	}
}

// FindTicketType loads one sellable ticket type of an event by name.
func (l *Ledger) FindTicketType(_ context.Context, eventID, name string) (*models.TicketType, error) {
	record, err := l.app.FindFirstRecordByFilter(
		"ticket_types",
		"event = {:event} && name = {:name}",
		dbx.Params{"event": eventID, "name": name},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrUnknownTicketType
		}
		return nil, fmt.Errorf("FindTicketType: %w", err)
	}

	return &models.TicketType{
		ID:       record.Id,
		EventID:  record.GetString("event"),
		Name:     record.GetString("name"),
		Price:    decimal.NewFromFloat(record.GetFloat("price")),
		Currency: record.GetString("currency"),
		Capacity: int64(record.GetInt("capacity")),
		Sold:     int64(record.GetInt("sold")),
	}, nil
}

// Reserve atomically claims qty units of a ticket type. The increment and
// the capacity check are one statement; a read-then-write here would be an
// oversell bug, not a simplification.
func (l *Ledger) Reserve(ctx context.Context, eventID, name string, qty int) error {
	res, err := l.app.DB().NewQuery(
		`UPDATE ticket_types
		    SET sold = sold + {:qty}
		  WHERE event = {:event} AND name = {:name} AND sold + {:qty} <= capacity`,
	).Bind(dbx.Params{"qty": qty, "event": eventID, "name": name}).Execute()
	if err != nil {
		return fmt.Errorf("Reserve: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Reserve: RowsAffected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Nothing matched: either the type does not exist or it is sold out.
	if _, err := l.FindTicketType(ctx, eventID, name); err != nil {
		return err
	}
	return status.ErrInsufficientInventory
}

// Release gives reserved units back, flooring at zero.
func (l *Ledger) Release(_ context.Context, eventID, name string, qty int) error {
	_, err := l.app.DB().NewQuery(
		`UPDATE ticket_types
		    SET sold = MAX(sold - {:qty}, 0)
		  WHERE event = {:event} AND name = {:name}`,
	).Bind(dbx.Params{"qty": qty, "event": eventID, "name": name}).Execute()
	if err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}

// TrackReservation remembers which units a charge is holding so the
// sweeper can return them if the charge never confirms.
func (l *Ledger) TrackReservation(ctx context.Context, chargeID string, lines []models.CartLine) error {
	payload, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("TrackReservation: json.Marshal: %w", err)
	}

	deadline := time.Now().Add(l.reservationTTL)
	key := fmt.Sprintf(reservationKeyFmt, chargeID)

	if err := l.redis.Set(ctx, key, payload, 0).Err(); err != nil {
		return fmt.Errorf("TrackReservation: %w", err)
	}
	if err := l.redis.ZAdd(ctx, reservationIndexKey, redis.Z{
		Score:  float64(deadline.Unix()),
		Member: chargeID,
	}).Err(); err != nil {
		return fmt.Errorf("TrackReservation: %w", err)
	}
	return nil
}

// ConfirmReservation drops the expiry tracking once a charge settles.
func (l *Ledger) ConfirmReservation(ctx context.Context, chargeID string) {
	l.redis.ZRem(ctx, reservationIndexKey, chargeID)
	l.redis.Del(ctx, fmt.Sprintf(reservationKeyFmt, chargeID))
}

// SweepExpired releases every reservation whose deadline passed without a
// confirmed charge.
func (l *Ledger) SweepExpired(ctx context.Context) {
	now := fmt.Sprintf("%d", time.Now().Unix())
	expired, err := l.redis.ZRangeByScore(ctx, reservationIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		slog.Warn("inventory: sweep query failed", "error", err)
		return
	}

	for _, chargeID := range expired {
		key := fmt.Sprintf(reservationKeyFmt, chargeID)
		payload, err := l.redis.Get(ctx, key).Result()
		if err == nil {
			var lines []models.CartLine
			if err := json.Unmarshal([]byte(payload), &lines); err == nil {
				for _, line := range lines {
					if err := l.Release(ctx, line.EventID, line.TicketType, line.Quantity); err != nil {
						slog.Warn("inventory: release failed", "charge_id", chargeID, "error", err)
					}
				}
			}
		}

		l.redis.ZRem(ctx, reservationIndexKey, chargeID)
		l.redis.Del(ctx, key)
		log.Printf("Released expired reservation %s", chargeID)
	}
}

// StartSweeper runs SweepExpired on a fixed interval until ctx is done.
func (l *Ledger) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.SweepExpired(ctx)
		}
	}
}
