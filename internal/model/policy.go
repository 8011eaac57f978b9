package model

import "time"

// DefaultMethod is the operation a policy rule permits when the rule does
// not name one.
const DefaultMethod = "sign_event"

// Policy is a named authorization template stored in the `policies` table.
// A policy owns its rules; rules have no existence outside their policy.
//
// Fields:
//  ID          – primary key identifier.
//  Name        – unique policy name.
//  Description – optional free text.
//  ExpiresAt   – optional absolute expiry of the template.
//  CreatedAt   – timestamp of creation.
//  UpdatedAt   – timestamp of last update.
//  DeletedAt   – soft-delete timestamp (nil while live).
//  Rules       – ordered rules as they were supplied on creation.
type Policy struct {
	ID          uint64       // policies.id
	Name        string       // policies.name
	Description *string      // policies.description (nullable)
	ExpiresAt   *time.Time   // policies.expires_at (nullable)
	CreatedAt   time.Time    // policies.created_at
	UpdatedAt   time.Time    // policies.updated_at
	DeletedAt   *time.Time   // policies.deleted_at (nullable)
	Rules       []PolicyRule // policy_rules rows ordered by position
}

// Deleted reports whether the policy has been soft-deleted.
func (p *Policy) Deleted() bool { return p.DeletedAt != nil }

// PolicyRule is one (method, kind, usage cap) entry of a policy.  Kind is
// kept as a decimal string so comparisons downstream are exact string
// matches.  CurrentUsageCount starts at zero and must never exceed
// MaxUsageCount when the cap is set; the counter is advanced by the
// signing side, this service only preserves it.
type PolicyRule struct {
	ID                uint64  // policy_rules.id
	PolicyID          uint64  // policy_rules.policy_id
	Position          int     // policy_rules.position (input order)
	Method            string  // policy_rules.method
	Kind              *string // policy_rules.kind (nullable)
	MaxUsageCount     *int64  // policy_rules.max_usage_count (nullable)
	CurrentUsageCount int64   // policy_rules.current_usage_count
}
