package queue

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const maxBackoff = 30 * time.Second

// runWithReconnect dials url and hands the connection to session until ctx
// is done.  Failed dials back off exponentially up to maxBackoff; a session
// that ends is restarted after a short pause.
func runWithReconnect(ctx context.Context, url, name string, log *zap.Logger, session func(context.Context, *amqp.Connection) error) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn("broker dial failed", zap.String("worker", name), zap.Duration("retry_in", backoff), zap.Error(err))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		err = session(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.Warn("broker session ended, reconnecting", zap.String("worker", name), zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
