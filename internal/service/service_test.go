package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/keystore"
	"github.com/iliyamo/bunker-admin/internal/model"
	"github.com/iliyamo/bunker-admin/internal/repository/memstore"
)

const (
	hexAlice = "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e"
	hexBob   = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
)

type recorder struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (r *recorder) Publish(_ context.Context, ev model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type env struct {
	store    *memstore.Store
	keyring  *keystore.Keyring
	vault    *keystore.FileVault
	events   *recorder
	keys     *KeyService
	policies *PolicyService
	grants   *GrantService
	tokens   *TokenService

	now time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:   memstore.New(),
		keyring: keystore.NewKeyring(),
		vault:   keystore.NewFileVault(t.TempDir(), 10),
		events:  &recorder{},
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	log := zap.NewNop()
	e.keys = NewKeyService(e.store, e.vault, e.keyring, e.events, log)
	e.policies = NewPolicyService(e.store, e.events, log)
	e.grants = NewGrantService(e.store, e.policies, e.events, log)
	e.tokens = NewTokenService(e.store, e.store, e.policies, e.grants, e.events, log)

	clock := func() time.Time { return e.now }
	e.keys.now = clock
	e.policies.now = clock
	e.grants.now = clock
	e.tokens.now = clock
	return e
}

func (e *env) advance(d time.Duration) { e.now = e.now.Add(d) }

func (e *env) policy(t *testing.T, name string, rules ...RuleInput) *model.Policy {
	t.Helper()
	p, err := e.policies.CreatePolicy(context.Background(), PolicyInput{Name: name, Rules: rules})
	require.NoError(t, err)
	return p
}

func (e *env) key(t *testing.T, name, pubkey string) *model.Key {
	t.Helper()
	k, err := e.keys.CreateOrReviveKey(context.Background(), name, pubkey)
	require.NoError(t, err)
	return k
}

func strp(s string) *string { return &s }

func intp(n int) *int { return &n }
