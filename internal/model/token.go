package model

import "time"

// Token is a bearer credential stored in the `tokens` table.  Token holds
// the canonical 64-character hex value; clients usually see it prefixed
// with the key's npub ("npub1...#<token>").  A token references its policy
// and the grant created on redemption but owns neither of them.
//
// Fields:
//  ID         – primary key identifier.
//  KeyName    – owning key name.
//  Token      – canonical token value (unique).
//  ClientName – label of the client the token was issued for.
//  CreatedBy  – hex pubkey of the admin that issued the token.
//  PolicyID   – optional bound policy.
//  KeyUserID  – grant created when the token was redeemed.
//  CreatedAt  – timestamp of creation.
//  UpdatedAt  – timestamp of last update.
//  ExpiresAt  – optional absolute expiry.
//  DeletedAt  – revocation timestamp.
//  RedeemedAt – last redemption timestamp.
type Token struct {
	ID         uint64     // tokens.id
	KeyName    string     // tokens.key_name
	Token      string     // tokens.token
	ClientName string     // tokens.client_name
	CreatedBy  string     // tokens.created_by
	PolicyID   *uint64    // tokens.policy_id (nullable)
	KeyUserID  *uint64    // tokens.key_user_id (nullable)
	CreatedAt  time.Time  // tokens.created_at
	UpdatedAt  time.Time  // tokens.updated_at
	ExpiresAt  *time.Time // tokens.expires_at (nullable)
	DeletedAt  *time.Time // tokens.deleted_at (nullable)
	RedeemedAt *time.Time // tokens.redeemed_at (nullable)
}

// Revoked reports whether the token has been revoked (soft-deleted).
func (t *Token) Revoked() bool { return t.DeletedAt != nil }

// Expired reports whether the token carries an expiry that lies before now.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}
