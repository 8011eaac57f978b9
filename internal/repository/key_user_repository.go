package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/bunker-admin/internal/model"
)

const keyUserColumns = "id, key_name, user_pubkey, description, created_at, updated_at, revoked_at, last_used_at"

// GrantInput describes the desired state of one grant: the (KeyName,
// UserPubkey) row must exist, be active, and own exactly Conditions.
// A nil Description keeps whatever description the row already has.
type GrantInput struct {
	KeyName     string
	UserPubkey  string
	Description *string
	Conditions  []model.SigningCondition
	At          time.Time
}

// KeyUserRepo persists grants (key_users) and their signing conditions.
type KeyUserRepo struct {
	db *sql.DB
}

// NewKeyUserRepo constructs a KeyUserRepo with the provided DB handle.
func NewKeyUserRepo(db *sql.DB) *KeyUserRepo {
	return &KeyUserRepo{db: db}
}

func scanKeyUser(s rowScanner) (*model.KeyUser, error) {
	var (
		u                     model.KeyUser
		desc                  sql.NullString
		revokedAt, lastUsedAt sql.NullTime
	)
	if err := s.Scan(&u.ID, &u.KeyName, &u.UserPubkey, &desc, &u.CreatedAt, &u.UpdatedAt, &revokedAt, &lastUsedAt); err != nil {
		return nil, err
	}
	u.Description = stringPtr(desc)
	u.RevokedAt = timePtr(revokedAt)
	u.LastUsedAt = timePtr(lastUsedAt)
	return &u, nil
}

// selectKeyUsers runs a key_users query with the given WHERE/ORDER tail.
func selectKeyUsers(ctx context.Context, q querier, tail string, args ...any) ([]*model.KeyUser, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+keyUserColumns+" FROM key_users "+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.KeyUser
	for rows.Next() {
		u, err := scanKeyUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// loadConditions attaches the signing conditions of each grant.
func loadConditions(ctx context.Context, q querier, users []*model.KeyUser) error {
	if len(users) == 0 {
		return nil
	}
	byID := make(map[uint64]*model.KeyUser, len(users))
	args := make([]any, 0, len(users))
	for _, u := range users {
		byID[u.ID] = u
		u.Conditions = []model.SigningCondition{}
		args = append(args, u.ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(users)), ",")
	rows, err := q.QueryContext(ctx,
		`SELECT id, key_user_id, method, kind, content, allowed
		 FROM signing_conditions WHERE key_user_id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c                     model.SigningCondition
			method, kind, content sql.NullString
			allowed               sql.NullBool
		)
		if err := rows.Scan(&c.ID, &c.KeyUserID, &method, &kind, &content, &allowed); err != nil {
			return err
		}
		c.Method = stringPtr(method)
		c.Kind = stringPtr(kind)
		c.Content = stringPtr(content)
		c.Allowed = boolPtr(allowed)
		if u := byID[c.KeyUserID]; u != nil {
			u.Conditions = append(u.Conditions, c)
		}
	}
	return rows.Err()
}

// SaveGrant upserts the grant identified by (KeyName, UserPubkey) and
// replaces its entire condition set, all in one transaction.  Re-granting
// always clears revoked_at.  Concurrent grants for the same pair serialize
// on the unique key.
func (r *KeyUserRepo) SaveGrant(ctx context.Context, in GrantInput) (*model.KeyUser, error) {
	var out *model.KeyUser
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		// LAST_INSERT_ID(id) makes the existing row's id available on update.
		res, err := tx.ExecContext(ctx,
			`INSERT INTO key_users (key_name, user_pubkey, description, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE
			   id = LAST_INSERT_ID(id),
			   revoked_at = NULL,
			   description = COALESCE(VALUES(description), description),
			   updated_at = VALUES(updated_at)`,
			in.KeyName, in.UserPubkey, nullString(in.Description), in.At.UTC(), in.At.UTC())
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM signing_conditions WHERE key_user_id = ?`, id); err != nil {
			return err
		}
		for _, c := range in.Conditions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO signing_conditions (key_user_id, method, kind, content, allowed) VALUES (?, ?, ?, ?, ?)`,
				id, nullString(c.Method), nullString(c.Kind), nullString(c.Content), nullBool(c.Allowed)); err != nil {
				return err
			}
		}

		out, err = scanKeyUser(tx.QueryRowContext(ctx,
			"SELECT "+keyUserColumns+" FROM key_users WHERE id = ?", id))
		if err != nil {
			return err
		}
		return loadConditions(ctx, tx, []*model.KeyUser{out})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetKeyUser fetches the grant of userPubkey on keyName with its conditions.
func (r *KeyUserRepo) GetKeyUser(ctx context.Context, keyName, userPubkey string) (*model.KeyUser, error) {
	return r.getOne(ctx, "WHERE key_name = ? AND user_pubkey = ? LIMIT 1", keyName, userPubkey)
}

// GetKeyUserByID fetches a grant by id with its conditions.
func (r *KeyUserRepo) GetKeyUserByID(ctx context.Context, id uint64) (*model.KeyUser, error) {
	return r.getOne(ctx, "WHERE id = ?", id)
}

func (r *KeyUserRepo) getOne(ctx context.Context, tail string, args ...any) (*model.KeyUser, error) {
	u, err := scanKeyUser(r.db.QueryRowContext(ctx, "SELECT "+keyUserColumns+" FROM key_users "+tail, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadConditions(ctx, r.db, []*model.KeyUser{u}); err != nil {
		return nil, err
	}
	return u, nil
}

// ListKeyUsersByKey returns every grant on keyName, revoked ones included.
func (r *KeyUserRepo) ListKeyUsersByKey(ctx context.Context, keyName string) ([]*model.KeyUser, error) {
	users, err := selectKeyUsers(ctx, r.db, "WHERE key_name = ? ORDER BY id", keyName)
	if err != nil {
		return nil, err
	}
	return users, loadConditions(ctx, r.db, users)
}

// ListKeyUsersByPubkey returns every grant held by userPubkey across all
// keys, most recently updated first.
func (r *KeyUserRepo) ListKeyUsersByPubkey(ctx context.Context, userPubkey string) ([]*model.KeyUser, error) {
	return selectKeyUsers(ctx, r.db, "WHERE user_pubkey = ? ORDER BY updated_at DESC, id DESC", userPubkey)
}

// RevokeKeyUser stamps revoked_at on an active grant.  It returns
// ErrNotFound when no active grant has that id.
func (r *KeyUserRepo) RevokeKeyUser(ctx context.Context, id uint64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE key_users SET revoked_at = ?, updated_at = ? WHERE id = ? AND revoked_at IS NULL`,
		at.UTC(), at.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateKeyUserDescription overwrites the description of a grant.
func (r *KeyUserRepo) UpdateKeyUserDescription(ctx context.Context, id uint64, description string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE key_users SET description = ?, updated_at = ? WHERE id = ?`,
		description, at.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
