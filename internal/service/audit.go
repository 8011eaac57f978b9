package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/model"
)

type actorKey struct{}

// WithActor tags ctx with the hex pubkey of the admin issuing a command.
func WithActor(ctx context.Context, pubkey string) context.Context {
	return context.WithValue(ctx, actorKey{}, pubkey)
}

// ActorFrom returns the admin pubkey stored by WithActor, or "".
func ActorFrom(ctx context.Context) string {
	s, _ := ctx.Value(actorKey{}).(string)
	return s
}

// auditor stamps and publishes audit events on behalf of a service.
type auditor struct {
	events EventPublisher
	log    *zap.Logger
}

func (a auditor) emit(ctx context.Context, at time.Time, ev model.AuditEvent) {
	if a.events == nil {
		return
	}
	ev.EventID = uuid.NewString()
	ev.OccurredAt = at.UTC().Format(time.RFC3339)
	if ev.Actor == "" {
		ev.Actor = ActorFrom(ctx)
	}
	if err := a.events.Publish(ctx, ev); err != nil {
		a.log.Warn("audit publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

// base carries what every service needs.
type base struct {
	auditor
	log *zap.Logger
	now func() time.Time
}

func newBase(events EventPublisher, log *zap.Logger) base {
	if log == nil {
		log = zap.NewNop()
	}
	if events == nil {
		events = NopPublisher{}
	}
	return base{
		auditor: auditor{events: events, log: log},
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func u64(v uint64) *uint64 { return &v }
