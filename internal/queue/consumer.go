package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/model"
)

// AuditConsumer appends every event on AuditQueue to a log file, one line
// per event.
type AuditConsumer struct {
	URL  string
	Path string
	Log  *zap.Logger
}

func NewAuditConsumer(url, path string, log *zap.Logger) *AuditConsumer {
	return &AuditConsumer{URL: url, Path: path, Log: log}
}

// Run consumes until ctx is cancelled, reconnecting as needed.
func (c *AuditConsumer) Run(ctx context.Context) {
	runWithReconnect(ctx, c.URL, "audit-consumer", c.Log, c.consume)
}

func (c *AuditConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.Warn("audit consumer: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(AuditQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(AuditQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(d.Body); err != nil {
				c.Log.Error("audit consumer: handle message failed", zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *AuditConsumer) handle(body []byte) error {
	var ev model.AuditEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(c.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(auditLine(ev)); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// auditLine renders ev as "[time] type | field=value ...".  Empty fields
// are left out.
func auditLine(ev model.AuditEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | event_id=%s", ev.OccurredAt, ev.Type, ev.EventID)
	if ev.KeyName != "" {
		fmt.Fprintf(&b, " | key=%q", ev.KeyName)
	}
	if ev.PolicyID != nil {
		fmt.Fprintf(&b, " | policy_id=%d", *ev.PolicyID)
	}
	if ev.TokenID != nil {
		fmt.Fprintf(&b, " | token_id=%d", *ev.TokenID)
	}
	if ev.UserPubkey != "" {
		fmt.Fprintf(&b, " | user=%s", ev.UserPubkey)
	}
	if ev.Actor != "" {
		fmt.Fprintf(&b, " | actor=%s", ev.Actor)
	}
	if ev.Detail != "" {
		fmt.Fprintf(&b, " | detail=%q", ev.Detail)
	}
	b.WriteByte('\n')
	return b.String()
}
