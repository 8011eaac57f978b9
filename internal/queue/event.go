// Package queue carries the AMQP side of the service: the admin RPC server
// on bunker.admin.rpc and the audit event stream on bunker.audit.
package queue

import (
	"encoding/json"

	"github.com/iliyamo/bunker-admin/internal/admin"
)

// Queue names.  Both are durable.
const (
	AuditQueue = "bunker.audit"
	RPCQueue   = "bunker.admin.rpc"
)

// RPCRequest is the body of a message on RPCQueue.
type RPCRequest = admin.Request

// RPCReply is sent to the request's ReplyTo queue with the request's
// CorrelationId.
type RPCReply struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Kind   string          `json:"kind,omitempty"`
}
