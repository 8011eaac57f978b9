package model

// Audit event types published after successful mutations.
const (
	EventKeyCreated    = "key.created"
	EventKeyDeleted    = "key.deleted"
	EventKeyRotated    = "key.rotated"
	EventKeyUnlocked   = "key.unlocked"
	EventPolicyCreated = "policy.created"
	EventPolicyDeleted = "policy.deleted"
	EventGrantCreated  = "grant.created"
	EventGrantRevoked  = "grant.revoked"
	EventGrantRenamed  = "grant.renamed"
	EventTokenIssued   = "token.issued"
	EventTokenRevoked  = "token.revoked"
	EventTokenRedeemed = "token.redeemed"
)

// AuditEvent is the payload written to the audit queue.  Only the fields
// relevant to Type are set.
type AuditEvent struct {
	EventID    string  `json:"event_id"`
	Type       string  `json:"type"`
	KeyName    string  `json:"key_name,omitempty"`
	PolicyID   *uint64 `json:"policy_id,omitempty"`
	TokenID    *uint64 `json:"token_id,omitempty"`
	UserPubkey string  `json:"user_pubkey,omitempty"`
	Actor      string  `json:"actor,omitempty"`
	Detail     string  `json:"detail,omitempty"`
	OccurredAt string  `json:"occurred_at"`
}
