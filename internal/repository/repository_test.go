package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bunker-admin/internal/model"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func strp(s string) *string { return &s }

func TestSoftDeleteKeyRevokesTokens(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE signing_keys SET deleted_at")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "k1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE tokens SET deleted_at")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "k1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := NewKeyRepo(db).SoftDeleteKey(context.Background(), "k1", testNow)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestSoftDeleteKeyNotLiveRollsBack(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE signing_keys SET deleted_at")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := NewKeyRepo(db).SoftDeleteKey(context.Background(), "k1", testNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetKeyMissing(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("FROM signing_keys WHERE key_name = ?")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewKeyRepo(db).GetKey(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRotateKeyDuplicateName(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO signing_keys")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	_, err := NewKeyRepo(db).RotateKey(context.Background(), "old", &model.Key{Name: "new", Pubkey: "pk"}, testNow)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRotateKeyCopiesActiveGrants(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO signing_keys")).
		WithArgs("new", "pk2", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery(q("FROM key_users WHERE key_name = ? AND revoked_at IS NULL")).
		WithArgs("old").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "key_name", "user_pubkey", "description", "created_at", "updated_at", "revoked_at", "last_used_at"}).
			AddRow(3, "old", "u1", "laptop", testNow, testNow, nil, nil))
	mock.ExpectExec(q("INSERT INTO key_users")).
		WithArgs("new", "u1", "laptop", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectExec(q("DELETE FROM signing_conditions WHERE key_user_id = ?")).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("INSERT INTO signing_conditions (key_user_id, method, kind, content, allowed)")).
		WithArgs(int64(9), uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("UPDATE signing_keys SET deleted_at")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "old").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE tokens SET deleted_at")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	next := &model.Key{Name: "new", Pubkey: "pk2"}
	copied, err := NewKeyRepo(db).RotateKey(context.Background(), "old", next, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, copied)
	assert.EqualValues(t, 7, next.ID)
}

func TestRotateKeyMergesExistingGrant(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO signing_keys")).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery(q("FROM key_users WHERE key_name = ? AND revoked_at IS NULL")).
		WithArgs("old").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "key_name", "user_pubkey", "description", "created_at", "updated_at", "revoked_at", "last_used_at"}).
			AddRow(3, "old", "u1", nil, testNow, testNow, nil, nil))
	// The upsert hits the existing (new, u1) row, which keeps id 5.
	mock.ExpectExec(q("ON DUPLICATE KEY UPDATE")).
		WithArgs("new", "u1", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(5, 2))
	mock.ExpectExec(q("DELETE FROM signing_conditions WHERE key_user_id = ?")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(q("INSERT INTO signing_conditions (key_user_id, method, kind, content, allowed)")).
		WithArgs(int64(5), uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE signing_keys SET deleted_at")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE tokens SET deleted_at")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	copied, err := NewKeyRepo(db).RotateKey(context.Background(), "old", &model.Key{Name: "new", Pubkey: "pk2"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, copied)
}

func TestCreatePolicyInsertsRulesInOrder(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO policies")).
		WithArgs("signing-policy", nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q("INSERT INTO policy_rules")).
		WithArgs(uint64(1), 0, "sign_event", "1", int64(100), int64(0)).
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec(q("INSERT INTO policy_rules")).
		WithArgs(uint64(1), 1, "nip04_encrypt", nil, nil, int64(0)).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectCommit()

	limit := int64(100)
	p := &model.Policy{
		Name:      "signing-policy",
		CreatedAt: testNow,
		UpdatedAt: testNow,
		Rules: []model.PolicyRule{
			{Position: 0, Method: "sign_event", Kind: strp("1"), MaxUsageCount: &limit},
			{Position: 1, Method: "nip04_encrypt"},
		},
	}
	require.NoError(t, NewPolicyRepo(db).CreatePolicy(context.Background(), p))
	assert.EqualValues(t, 1, p.ID)
	assert.EqualValues(t, 10, p.Rules[0].ID)
	assert.EqualValues(t, 11, p.Rules[1].ID)
}

func TestCreatePolicyDuplicateName(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO policies")).
		WillReturnError(&mysql.MySQLError{Number: 1062})
	mock.ExpectRollback()

	err := NewPolicyRepo(db).CreatePolicy(context.Background(), &model.Policy{Name: "dup"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetPolicyLoadsRules(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("FROM policies WHERE id = ?")).
		WithArgs(uint64(4)).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "description", "expires_at", "created_at", "updated_at", "deleted_at"}).
			AddRow(4, "p", nil, nil, testNow, testNow, testNow))
	mock.ExpectQuery(q("FROM policy_rules WHERE policy_id IN (?)")).
		WithArgs(uint64(4)).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "policy_id", "position", "method", "kind", "max_usage_count", "current_usage_count"}).
			AddRow(1, 4, 0, "sign_event", "0", nil, 0))

	p, err := NewPolicyRepo(db).GetPolicy(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, p.Deleted())
	require.Len(t, p.Rules, 1)
	require.NotNil(t, p.Rules[0].Kind)
	assert.Equal(t, "0", *p.Rules[0].Kind)
	assert.Nil(t, p.Rules[0].MaxUsageCount)
}

func TestSaveGrantReplacesConditions(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO key_users")).
		WithArgs("k1", "u1", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(5, 2))
	mock.ExpectExec(q("DELETE FROM signing_conditions WHERE key_user_id = ?")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(q("INSERT INTO signing_conditions")).
		WithArgs(int64(5), "sign_event", "1", nil, true).
		WillReturnResult(sqlmock.NewResult(20, 1))
	mock.ExpectQuery(q("FROM key_users WHERE id = ?")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "key_name", "user_pubkey", "description", "created_at", "updated_at", "revoked_at", "last_used_at"}).
			AddRow(5, "k1", "u1", nil, testNow, testNow, nil, nil))
	mock.ExpectQuery(q("FROM signing_conditions WHERE key_user_id IN (?)")).
		WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "key_user_id", "method", "kind", "content", "allowed"}).
			AddRow(20, 5, "sign_event", "1", nil, true))
	mock.ExpectCommit()

	allowed := true
	u, err := NewKeyUserRepo(db).SaveGrant(context.Background(), GrantInput{
		KeyName:    "k1",
		UserPubkey: "u1",
		Conditions: []model.SigningCondition{{Method: strp("sign_event"), Kind: strp("1"), Allowed: &allowed}},
		At:         testNow,
	})
	require.NoError(t, err)
	assert.True(t, u.Active())
	require.Len(t, u.Conditions, 1)
	assert.Equal(t, "1", *u.Conditions[0].Kind)
}

func TestRevokeKeyUserAlreadyRevoked(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q("UPDATE key_users SET revoked_at")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewKeyUserRepo(db).RevokeKeyUser(context.Background(), 5, testNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateTokenDuplicate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q("INSERT INTO tokens")).
		WillReturnError(&mysql.MySQLError{Number: 1062})

	err := NewTokenRepo(db).CreateToken(context.Background(), &model.Token{KeyName: "k1", Token: "abc"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetTokenByValue(t *testing.T) {
	db, mock := newMock(t)
	cols := []string{"id", "key_name", "token", "client_name", "created_by", "policy_id", "key_user_id",
		"created_at", "updated_at", "expires_at", "deleted_at", "redeemed_at"}
	mock.ExpectQuery(q("FROM tokens WHERE token=?")).
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, "k1", "abc", "app", "admin", 2, nil, testNow, testNow, nil, nil, nil))
	mock.ExpectQuery(q("FROM tokens WHERE token=?")).
		WithArgs("zzz").
		WillReturnRows(sqlmock.NewRows(cols))

	repo := NewTokenRepo(db)
	tok, err := repo.GetTokenByValue(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, tok.PolicyID)
	assert.EqualValues(t, 2, *tok.PolicyID)
	assert.Nil(t, tok.KeyUserID)
	assert.False(t, tok.Revoked())

	_, err = repo.GetTokenByValue(context.Background(), "zzz")
	assert.ErrorIs(t, err, ErrNotFound)
}
