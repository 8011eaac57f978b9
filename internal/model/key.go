package model

import "time"

// Key represents a signing identity held by the bunker.  It corresponds
// to a row in the `signing_keys` table.  Keys are never removed; deleting
// a key only stamps DeletedAt so the row stays available for audit.
//
// Fields:
//  ID        – primary key identifier.
//  Name      – unique human handle used by every admin command.
//  Pubkey    – lowercase hex x-only public key (64 chars).
//  CreatedAt – timestamp of creation.
//  UpdatedAt – timestamp of last update.
//  DeletedAt – soft-delete timestamp (nil while the key is live).
type Key struct {
	ID        uint64     // signing_keys.id
	Name      string     // signing_keys.key_name
	Pubkey    string     // signing_keys.pubkey
	CreatedAt time.Time  // signing_keys.created_at
	UpdatedAt time.Time  // signing_keys.updated_at
	DeletedAt *time.Time // signing_keys.deleted_at (nullable)
}

// Deleted reports whether the key has been soft-deleted.
func (k *Key) Deleted() bool { return k.DeletedAt != nil }
