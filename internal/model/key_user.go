package model

import "time"

// KeyUser is the grant of one requester on one key, stored in `key_users`.
// (KeyName, UserPubkey) is the natural key: re-granting updates the
// existing row instead of inserting a second one.
//
// Fields:
//  ID          – primary key identifier.
//  KeyName     – owning key name.
//  UserPubkey  – requester's canonical hex public key.
//  Description – optional human label.
//  CreatedAt   – timestamp of creation.
//  UpdatedAt   – timestamp of last update.
//  RevokedAt   – revocation timestamp; once set the conditions are inert.
//  LastUsedAt  – last time the signing side used this grant.
//  Conditions  – the signing conditions owned by this grant.
type KeyUser struct {
	ID          uint64             // key_users.id
	KeyName     string             // key_users.key_name
	UserPubkey  string             // key_users.user_pubkey
	Description *string            // key_users.description (nullable)
	CreatedAt   time.Time          // key_users.created_at
	UpdatedAt   time.Time          // key_users.updated_at
	RevokedAt   *time.Time         // key_users.revoked_at (nullable)
	LastUsedAt  *time.Time         // key_users.last_used_at (nullable)
	Conditions  []SigningCondition // signing_conditions rows
}

// Active reports whether the grant is in force.
func (u *KeyUser) Active() bool { return u.RevokedAt == nil }

// SigningCondition is one concrete permitted (method, kind) pair of a
// grant.  Content is a matcher placeholder that grants materialized from
// policies leave empty.
type SigningCondition struct {
	ID        uint64  // signing_conditions.id
	KeyUserID uint64  // signing_conditions.key_user_id
	Method    *string // signing_conditions.method (nullable)
	Kind      *string // signing_conditions.kind (nullable)
	Content   *string // signing_conditions.content (nullable)
	Allowed   *bool   // signing_conditions.allowed (nullable)
}
