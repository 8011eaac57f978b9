package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/bunker-admin/internal/model"
)

const tokenColumns = "id, key_name, token, client_name, created_by, policy_id, key_user_id, created_at, updated_at, expires_at, deleted_at, redeemed_at"

// TokenRepo persists bearer tokens.  Tokens are looked up either by id or
// by their canonical 64-char hex value.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

func scanToken(s rowScanner) (*model.Token, error) {
	var (
		t                          model.Token
		policyID, keyUserID        sql.NullInt64
		expires, deleted, redeemed sql.NullTime
	)
	if err := s.Scan(&t.ID, &t.KeyName, &t.Token, &t.ClientName, &t.CreatedBy, &policyID, &keyUserID,
		&t.CreatedAt, &t.UpdatedAt, &expires, &deleted, &redeemed); err != nil {
		return nil, err
	}
	t.PolicyID = uint64Ptr(policyID)
	t.KeyUserID = uint64Ptr(keyUserID)
	t.ExpiresAt = timePtr(expires)
	t.DeletedAt = timePtr(deleted)
	t.RedeemedAt = timePtr(redeemed)
	return &t, nil
}

// CreateToken inserts a token row and fills in t.ID.  A duplicate token
// value yields ErrConflict.
func (r *TokenRepo) CreateToken(ctx context.Context, t *model.Token) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO tokens (key_name, token, client_name, created_by, policy_id, created_at, updated_at, expires_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		t.KeyName, t.Token, t.ClientName, t.CreatedBy, nullUint64(t.PolicyID),
		t.CreatedAt.UTC(), t.UpdatedAt.UTC(), nullTime(t.ExpiresAt))
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
	t.ID = uint64(id)
	return nil
}

// GetTokenByID fetches a token regardless of its revocation state.
func (r *TokenRepo) GetTokenByID(ctx context.Context, id uint64) (*model.Token, error) {
	return r.getOne(ctx, "WHERE id=?", id)
}

// GetTokenByValue fetches a token by its canonical value.
func (r *TokenRepo) GetTokenByValue(ctx context.Context, value string) (*model.Token, error) {
	return r.getOne(ctx, "WHERE token=? LIMIT 1", value)
}

func (r *TokenRepo) getOne(ctx context.Context, tail string, args ...any) (*model.Token, error) {
	t, err := scanToken(r.DB.QueryRowContext(ctx, "SELECT "+tokenColumns+" FROM tokens "+tail, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTokensByKey returns every token of keyName, newest first.
func (r *TokenRepo) ListTokensByKey(ctx context.Context, keyName string) ([]*model.Token, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE key_name=? ORDER BY id DESC", keyName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SoftDeleteToken revokes a live token.  ErrNotFound means no live token
// with that id exists.
func (r *TokenRepo) SoftDeleteToken(ctx context.Context, id uint64, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE tokens SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL",
		at.UTC(), at.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTokenRedeemed records the grant produced by redeeming the token.
func (r *TokenRepo) MarkTokenRedeemed(ctx context.Context, id, keyUserID uint64, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE tokens SET key_user_id=?, redeemed_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL",
		keyUserID, at.UTC(), at.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
