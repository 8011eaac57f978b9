package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/model"
)

// AuditPublisher publishes audit events to AuditQueue.  Each event opens
// its own connection; mutations are rare enough that pooling is not worth
// the reconnect bookkeeping.
type AuditPublisher struct {
	URL string
	Log *zap.Logger
}

func NewAuditPublisher(url string, log *zap.Logger) *AuditPublisher {
	return &AuditPublisher{URL: url, Log: log}
}

// Publish sends ev as a persistent JSON message.  Errors are logged and
// returned; callers are expected to carry on.
func (p *AuditPublisher) Publish(ctx context.Context, ev model.AuditEvent) error {
	msg, err := auditMessage(ev)
	if err != nil {
		return err
	}
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		p.Log.Warn("audit publish: dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.Log.Warn("audit publish: channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(AuditQueue, true, false, false, false, nil); err != nil {
		p.Log.Warn("audit publish: queue declare failed", zap.Error(err))
		return err
	}
	if err := ch.PublishWithContext(ctx, "", AuditQueue, false, false, msg); err != nil {
		p.Log.Warn("audit publish failed", zap.String("event", ev.Type), zap.Error(err))
		return err
	}
	return nil
}

func auditMessage(ev model.AuditEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Type:         ev.Type,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}
