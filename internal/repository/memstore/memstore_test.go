package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bunker-admin/internal/model"
	"github.com/iliyamo/bunker-admin/internal/repository"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }

func TestReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.UpsertKey(ctx, "k1", "pk", now)
	require.NoError(t, err)

	k, err := s.GetKey(ctx, "k1")
	require.NoError(t, err)
	k.Pubkey = "mutated"

	again, err := s.GetKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "pk", again.Pubkey)
}

func TestSaveGrantUpsertsByPair(t *testing.T) {
	ctx := context.Background()
	s := New()
	yes := true
	in := repository.GrantInput{
		KeyName: "k1", UserPubkey: "u1", Description: strp("laptop"), At: now,
		Conditions: []model.SigningCondition{{Method: strp("sign_event"), Kind: strp("1"), Allowed: &yes}},
	}
	first, err := s.SaveGrant(ctx, in)
	require.NoError(t, err)
	require.NoError(t, s.RevokeKeyUser(ctx, first.ID, now))

	in.Description = nil
	in.Conditions = nil
	second, err := s.SaveGrant(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Active())
	assert.Equal(t, "laptop", *second.Description)
	assert.Empty(t, second.Conditions)
}

func TestRotateKeyFailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.UpsertKey(ctx, "old", "pk1", now)
	require.NoError(t, err)
	_, err = s.UpsertKey(ctx, "taken", "pk2", now)
	require.NoError(t, err)

	_, err = s.RotateKey(ctx, "old", &model.Key{Name: "taken", Pubkey: "pk3"}, now)
	assert.ErrorIs(t, err, repository.ErrConflict)

	old, err := s.GetKey(ctx, "old")
	require.NoError(t, err)
	assert.False(t, old.Deleted())

	_, err = s.RotateKey(ctx, "missing", &model.Key{Name: "fresh", Pubkey: "pk3"}, now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.GetKey(ctx, "fresh")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListKeyUsersByPubkeyMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.SaveGrant(ctx, repository.GrantInput{KeyName: "a", UserPubkey: "u1", At: now})
	require.NoError(t, err)
	_, err = s.SaveGrant(ctx, repository.GrantInput{KeyName: "b", UserPubkey: "u1", At: now.Add(time.Minute)})
	require.NoError(t, err)
	_, err = s.SaveGrant(ctx, repository.GrantInput{KeyName: "c", UserPubkey: "u1", At: now.Add(time.Minute)})
	require.NoError(t, err)

	users, err := s.ListKeyUsersByPubkey(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "c", users[0].KeyName)
	assert.Equal(t, "b", users[1].KeyName)
	assert.Equal(t, "a", users[2].KeyName)
}
