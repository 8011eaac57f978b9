package repository

// This file implements persistence for signing keys.  Keys are addressed by
// name; deletion only stamps deleted_at and also revokes the key's tokens
// in the same transaction.

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/bunker-admin/internal/model"
)

const keyColumns = "id, key_name, pubkey, created_at, updated_at, deleted_at"

// KeyRepo encapsulates all database queries related to signing keys.
type KeyRepo struct {
	db *sql.DB
}

// NewKeyRepo constructs a KeyRepo with the provided DB handle.
func NewKeyRepo(db *sql.DB) *KeyRepo {
	return &KeyRepo{db: db}
}

func scanKey(s rowScanner) (*model.Key, error) {
	var (
		k       model.Key
		deleted sql.NullTime
	)
	if err := s.Scan(&k.ID, &k.Name, &k.Pubkey, &k.CreatedAt, &k.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	k.DeletedAt = timePtr(deleted)
	return &k, nil
}

// UpsertKey inserts a key or, when the name already exists, overwrites its
// public key and clears deleted_at.  This is how a deleted name is reused.
func (r *KeyRepo) UpsertKey(ctx context.Context, name, pubkey string, at time.Time) (*model.Key, error) {
	const q = `INSERT INTO signing_keys (key_name, pubkey, created_at, updated_at)
	           VALUES (?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE pubkey = VALUES(pubkey), deleted_at = NULL, updated_at = VALUES(updated_at)`
	if _, err := r.db.ExecContext(ctx, q, name, pubkey, at.UTC(), at.UTC()); err != nil {
		return nil, err
	}
	return r.GetKey(ctx, name)
}

// GetKey fetches a key by name, deleted or not.  It returns ErrNotFound
// if no row exists.
func (r *KeyRepo) GetKey(ctx context.Context, name string) (*model.Key, error) {
	q := "SELECT " + keyColumns + " FROM signing_keys WHERE key_name = ? LIMIT 1"
	k, err := scanKey(r.db.QueryRowContext(ctx, q, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return k, err
}

// ListKeys returns every key ordered by name.
func (r *KeyRepo) ListKeys(ctx context.Context) ([]*model.Key, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+keyColumns+" FROM signing_keys ORDER BY key_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// SoftDeleteKey stamps deleted_at on a live key and soft-deletes all of its
// still-active tokens.  It returns the number of tokens revoked, or
// ErrNotFound when no live key with that name exists.
func (r *KeyRepo) SoftDeleteKey(ctx context.Context, name string, at time.Time) (int64, error) {
	var revoked int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		revoked, err = softDeleteKeyTx(ctx, tx, name, at)
		return err
	})
	return revoked, err
}

func softDeleteKeyTx(ctx context.Context, tx *sql.Tx, name string, at time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE signing_keys SET deleted_at = ?, updated_at = ? WHERE key_name = ? AND deleted_at IS NULL`,
		at.UTC(), at.UTC(), name)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	// Tokens are key-scoped and must not outlive their key.
	res, err = tx.ExecContext(ctx,
		`UPDATE tokens SET deleted_at = ?, updated_at = ? WHERE key_name = ? AND deleted_at IS NULL`,
		at.UTC(), at.UTC(), name)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RotateKey moves a live key's identity to a new key in a single
// transaction: the new key row is inserted, every active grant of the old
// key is copied (conditions included) onto the new key, and the old key is
// soft-deleted together with its tokens.  A grant already present on the
// new name for the same requester is re-activated and takes the copied
// conditions.  Tokens are not transferred.  It returns the number of
// grants copied.  A taken new name yields ErrConflict; a missing or deleted
// old key yields ErrNotFound.
func (r *KeyRepo) RotateKey(ctx context.Context, oldName string, next *model.Key, at time.Time) (int, error) {
	var copied int
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO signing_keys (key_name, pubkey, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			next.Name, next.Pubkey, at.UTC(), at.UTC())
		if err != nil {
			if isDuplicate(err) {
				return ErrConflict
			}
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		next.ID = uint64(id)
		next.CreatedAt, next.UpdatedAt = at.UTC(), at.UTC()

		users, err := selectKeyUsers(ctx, tx,
			"WHERE key_name = ? AND revoked_at IS NULL ORDER BY id", oldName)
		if err != nil {
			return err
		}
		for _, u := range users {
			// Grants may already exist on the new name; merge like SaveGrant.
			res, err := tx.ExecContext(ctx,
				`INSERT INTO key_users (key_name, user_pubkey, description, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?)
				 ON DUPLICATE KEY UPDATE
				   id = LAST_INSERT_ID(id),
				   revoked_at = NULL,
				   description = COALESCE(VALUES(description), description),
				   updated_at = VALUES(updated_at)`,
				next.Name, u.UserPubkey, nullString(u.Description), at.UTC(), at.UTC())
			if err != nil {
				return err
			}
			newID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM signing_conditions WHERE key_user_id = ?`, newID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO signing_conditions (key_user_id, method, kind, content, allowed)
				 SELECT ?, method, kind, content, allowed FROM signing_conditions WHERE key_user_id = ? ORDER BY id`,
				newID, u.ID); err != nil {
				return err
			}
			copied++
		}

		_, err = softDeleteKeyTx(ctx, tx, oldName, at)
		return err
	})
	if err != nil {
		return 0, err
	}
	return copied, nil
}
