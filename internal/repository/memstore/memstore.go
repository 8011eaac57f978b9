// Package memstore is an in-memory implementation of the bunker-admin
// stores.  It mirrors the MySQL repositories, including their unique
// constraints and guarded soft-delete updates, and is used by tests and by
// STORE_DRIVER=memory deployments.  Every read returns a copy.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/bunker-admin/internal/model"
	"github.com/iliyamo/bunker-admin/internal/repository"
)

type grantKey struct {
	keyName    string
	userPubkey string
}

// Store holds every table behind a single mutex.
type Store struct {
	mu sync.Mutex

	keys      map[string]*model.Key
	policies  map[uint64]*model.Policy
	keyUsers  map[uint64]*model.KeyUser
	grantsIdx map[grantKey]uint64
	tokens    map[uint64]*model.Token
	tokenIdx  map[string]uint64

	keySeq, policySeq, ruleSeq, keyUserSeq, condSeq, tokenSeq uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		keys:      make(map[string]*model.Key),
		policies:  make(map[uint64]*model.Policy),
		keyUsers:  make(map[uint64]*model.KeyUser),
		grantsIdx: make(map[grantKey]uint64),
		tokens:    make(map[uint64]*model.Token),
		tokenIdx:  make(map[string]uint64),
	}
}

// ---- keys ----

func (s *Store) UpsertKey(_ context.Context, name, pubkey string, at time.Time) (*model.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at = at.UTC()
	if k, ok := s.keys[name]; ok {
		k.Pubkey = pubkey
		k.DeletedAt = nil
		k.UpdatedAt = at
		return copyKey(k), nil
	}
	s.keySeq++
	k := &model.Key{ID: s.keySeq, Name: name, Pubkey: pubkey, CreatedAt: at, UpdatedAt: at}
	s.keys[name] = k
	return copyKey(k), nil
}

func (s *Store) GetKey(_ context.Context, name string) (*model.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyKey(k), nil
}

func (s *Store) ListKeys(_ context.Context) ([]*model.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Key, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, copyKey(k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SoftDeleteKey(_ context.Context, name string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.softDeleteKeyLocked(name, at.UTC())
}

func (s *Store) softDeleteKeyLocked(name string, at time.Time) (int64, error) {
	k, ok := s.keys[name]
	if !ok || k.DeletedAt != nil {
		return 0, repository.ErrNotFound
	}
	k.DeletedAt = timeRef(at)
	k.UpdatedAt = at

	var revoked int64
	for _, t := range s.tokens {
		if t.KeyName == name && t.DeletedAt == nil {
			t.DeletedAt = timeRef(at)
			t.UpdatedAt = at
			revoked++
		}
	}
	return revoked, nil
}

// RotateKey validates every precondition before mutating anything so a
// failed rotation leaves the store untouched.
func (s *Store) RotateKey(_ context.Context, oldName string, next *model.Key, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at = at.UTC()
	if _, taken := s.keys[next.Name]; taken {
		return 0, repository.ErrConflict
	}
	old, ok := s.keys[oldName]
	if !ok || old.DeletedAt != nil {
		return 0, repository.ErrNotFound
	}

	s.keySeq++
	next.ID = s.keySeq
	next.CreatedAt, next.UpdatedAt, next.DeletedAt = at, at, nil
	s.keys[next.Name] = copyKey(next)

	var sources []*model.KeyUser
	for _, u := range s.keyUsers {
		if u.KeyName == oldName && u.RevokedAt == nil {
			sources = append(sources, u)
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })

	for _, u := range sources {
		gk := grantKey{next.Name, u.UserPubkey}
		nu, ok := s.keyUsers[s.grantsIdx[gk]]
		if !ok {
			s.keyUserSeq++
			nu = &model.KeyUser{ID: s.keyUserSeq, KeyName: next.Name, UserPubkey: u.UserPubkey, CreatedAt: at}
			s.keyUsers[nu.ID] = nu
			s.grantsIdx[gk] = nu.ID
		}
		nu.RevokedAt = nil
		nu.UpdatedAt = at
		if u.Description != nil {
			nu.Description = copyString(u.Description)
		}
		nu.Conditions = make([]model.SigningCondition, 0, len(u.Conditions))
		for _, c := range u.Conditions {
			s.condSeq++
			c = copyCondition(c)
			c.ID, c.KeyUserID = s.condSeq, nu.ID
			nu.Conditions = append(nu.Conditions, c)
		}
	}

	if _, err := s.softDeleteKeyLocked(oldName, at); err != nil {
		return 0, err
	}
	return len(sources), nil
}

// ---- policies ----

func (s *Store) CreatePolicy(_ context.Context, p *model.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.policies {
		if existing.Name == p.Name {
			return repository.ErrConflict
		}
	}
	s.policySeq++
	p.ID = s.policySeq
	for i := range p.Rules {
		s.ruleSeq++
		p.Rules[i].ID = s.ruleSeq
		p.Rules[i].PolicyID = p.ID
	}
	s.policies[p.ID] = copyPolicy(p)
	return nil
}

func (s *Store) GetPolicy(_ context.Context, id uint64) (*model.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyPolicy(p), nil
}

func (s *Store) ListPolicies(_ context.Context) ([]*model.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Policy
	for _, p := range s.policies {
		if p.DeletedAt == nil {
			out = append(out, copyPolicy(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SoftDeletePolicy(_ context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if !ok || p.DeletedAt != nil {
		return repository.ErrNotFound
	}
	p.DeletedAt = timeRef(at.UTC())
	p.UpdatedAt = at.UTC()
	return nil
}

// ---- grants ----

// SaveGrant performs the upsert and the condition replacement under one
// lock acquisition.
func (s *Store) SaveGrant(_ context.Context, in repository.GrantInput) (*model.KeyUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := in.At.UTC()
	gk := grantKey{in.KeyName, in.UserPubkey}
	u, ok := s.keyUsers[s.grantsIdx[gk]]
	if !ok {
		s.keyUserSeq++
		u = &model.KeyUser{ID: s.keyUserSeq, KeyName: in.KeyName, UserPubkey: in.UserPubkey, CreatedAt: at}
		s.keyUsers[u.ID] = u
		s.grantsIdx[gk] = u.ID
	}
	u.RevokedAt = nil
	u.UpdatedAt = at
	if in.Description != nil {
		u.Description = copyString(in.Description)
	}

	u.Conditions = make([]model.SigningCondition, 0, len(in.Conditions))
	for _, c := range in.Conditions {
		s.condSeq++
		c = copyCondition(c)
		c.ID, c.KeyUserID = s.condSeq, u.ID
		u.Conditions = append(u.Conditions, c)
	}
	return copyKeyUser(u, true), nil
}

func (s *Store) GetKeyUser(_ context.Context, keyName, userPubkey string) (*model.KeyUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.keyUsers[s.grantsIdx[grantKey{keyName, userPubkey}]]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyKeyUser(u, true), nil
}

func (s *Store) GetKeyUserByID(_ context.Context, id uint64) (*model.KeyUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.keyUsers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyKeyUser(u, true), nil
}

func (s *Store) ListKeyUsersByKey(_ context.Context, keyName string) ([]*model.KeyUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.KeyUser
	for _, u := range s.keyUsers {
		if u.KeyName == keyName {
			out = append(out, copyKeyUser(u, true))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListKeyUsersByPubkey(_ context.Context, userPubkey string) ([]*model.KeyUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.KeyUser
	for _, u := range s.keyUsers {
		if u.UserPubkey == userPubkey {
			out = append(out, copyKeyUser(u, false))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) RevokeKeyUser(_ context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.keyUsers[id]
	if !ok || u.RevokedAt != nil {
		return repository.ErrNotFound
	}
	u.RevokedAt = timeRef(at.UTC())
	u.UpdatedAt = at.UTC()
	return nil
}

func (s *Store) UpdateKeyUserDescription(_ context.Context, id uint64, description string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.keyUsers[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Description = &description
	u.UpdatedAt = at.UTC()
	return nil
}

// ---- tokens ----

func (s *Store) CreateToken(_ context.Context, t *model.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.tokenIdx[t.Token]; dup {
		return repository.ErrConflict
	}
	s.tokenSeq++
	t.ID = s.tokenSeq
	s.tokens[t.ID] = copyToken(t)
	s.tokenIdx[t.Token] = t.ID
	return nil
}

func (s *Store) GetTokenByID(_ context.Context, id uint64) (*model.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyToken(t), nil
}

func (s *Store) GetTokenByValue(_ context.Context, value string) (*model.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[s.tokenIdx[value]]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyToken(t), nil
}

func (s *Store) ListTokensByKey(_ context.Context, keyName string) ([]*model.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Token
	for _, t := range s.tokens {
		if t.KeyName == keyName {
			out = append(out, copyToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) SoftDeleteToken(_ context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok || t.DeletedAt != nil {
		return repository.ErrNotFound
	}
	t.DeletedAt = timeRef(at.UTC())
	t.UpdatedAt = at.UTC()
	return nil
}

func (s *Store) MarkTokenRedeemed(_ context.Context, id, keyUserID uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok || t.DeletedAt != nil {
		return repository.ErrNotFound
	}
	t.KeyUserID = &keyUserID
	t.RedeemedAt = timeRef(at.UTC())
	t.UpdatedAt = at.UTC()
	return nil
}
