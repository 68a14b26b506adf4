// Package notify fans a confirmed purchase out to the buyer: a real-time
// message on the buyer's channel and a durable queue message for the
// email worker.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"time"

	pubnub "github.com/pubnub/go"
	amqp "github.com/rabbitmq/amqp091-go"

	"tickethub/models"
)

const confirmedQueue = "purchase.confirmed"

type Notifier struct {
	pubnub  *pubnub.PubNub
	amqpURL string
}

func NewNotifier(pn *pubnub.PubNub, amqpURL string) *Notifier {
	return &Notifier{
		pubnub:  pn,
		amqpURL: amqpURL,
	}
}

// PurchaseConfirmed is best-effort: a failed notification never fails the
// reconciliation that produced the tickets.
func (n *Notifier) PurchaseConfirmed(ctx context.Context, p *models.Purchase) {
	n.publishRealtime(p)
	if err := n.publishQueued(ctx, p); err != nil {
		slog.Warn("notify: queueing confirmation failed", "purchase_id", p.ID, "error", err)
	}
}

func (n *Notifier) publishRealtime(p *models.Purchase) {
	if n.pubnub == nil {
		return
	}

	channel := "user-" + p.BuyerID
	_, _, err := n.pubnub.Publish().
		Channel(channel).
		Message(map[string]any{
			"type":        "purchase_confirmed",
			"purchase_id": p.ID,
			"charge_id":   p.ChargeID,
			"tickets":     p.Tickets,
		}).
		Execute()
	if err != nil {
		slog.Warn("notify: pubnub publish failed", "channel", channel, "error", err)
	}
}

// publishQueued pushes the confirmation onto a durable queue for the
// email worker. Messages are persistent so they survive broker restarts.
func (n *Notifier) publishQueued(ctx context.Context, p *models.Purchase) error {
	conn, err := amqp.Dial(n.amqpURL)
	if err != nil {
		log.Printf("rabbitmq: dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("rabbitmq: channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		confirmedQueue, // name
		true,           // durable
		false,          // autoDelete
		false,          // exclusive
		false,          // noWait
		nil,            // args
	); err != nil {
		log.Printf("rabbitmq: queue declare failed: %v", err)
		return err
	}

	body, err := json.Marshal(map[string]any{
		"purchase_id": p.ID,
		"buyer_id":    p.BuyerID,
		"charge_id":   p.ChargeID,
		"amount":      p.TotalAmount,
		"currency":    p.Currency,
		"tickets":     p.Tickets,
		"sent_at":     time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(pubCtx, "", confirmedQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}
