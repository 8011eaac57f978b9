package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/admin"
	"github.com/iliyamo/bunker-admin/internal/service"
)

const rpcTimeout = 30 * time.Second

// RPCServer serves admin commands from RPCQueue.  The caller named in the
// message is trusted: access to the queue is the authorization boundary.
type RPCServer struct {
	URL string
	D   *admin.Dispatcher
	Log *zap.Logger
}

func NewRPCServer(url string, d *admin.Dispatcher, log *zap.Logger) *RPCServer {
	return &RPCServer{URL: url, D: d, Log: log}
}

// Run serves until ctx is cancelled, reconnecting as needed.
func (s *RPCServer) Run(ctx context.Context) {
	runWithReconnect(ctx, s.URL, "admin-rpc", s.Log, s.serve)
}

func (s *RPCServer) serve(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(1, 0, false); err != nil {
		s.Log.Warn("admin rpc: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(RPCQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(RPCQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	s.Log.Info("admin rpc listening", zap.String("queue", RPCQueue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			reply := s.handle(ctx, d.Body)
			if d.ReplyTo != "" {
				err := ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
					ContentType:   "application/json",
					CorrelationId: d.CorrelationId,
					Timestamp:     time.Now().UTC(),
					Body:          reply,
				})
				if err != nil {
					s.Log.Error("admin rpc: reply failed", zap.String("correlation_id", d.CorrelationId), zap.Error(err))
				}
			}
			_ = d.Ack(false)
		}
	}
}

// handle runs one request body and returns the encoded reply.
func (s *RPCServer) handle(ctx context.Context, body []byte) []byte {
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		err = fmt.Errorf("%w: malformed request: %v", service.ErrInvalidParams, err)
		return encodeReply(RPCReply{Error: err.Error(), Kind: admin.KindInvalidParams})
	}
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	out, err := s.D.Dispatch(ctx, req)
	if err != nil {
		return encodeReply(RPCReply{ID: req.ID, Error: admin.PublicMessage(err), Kind: admin.ErrorKind(err)})
	}
	result, err := json.Marshal(out)
	if err != nil {
		s.Log.Error("admin rpc: encode result", zap.String("method", req.Method), zap.Error(err))
		return encodeReply(RPCReply{ID: req.ID, Error: "internal error", Kind: admin.KindInternal})
	}
	return encodeReply(RPCReply{ID: req.ID, Result: result})
}

func encodeReply(r RPCReply) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		return []byte(`{"error":"internal error","kind":"internal"}`)
	}
	return b
}
