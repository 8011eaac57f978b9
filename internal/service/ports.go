package service

import (
	"context"
	"time"

	"github.com/iliyamo/bunker-admin/internal/model"
	"github.com/iliyamo/bunker-admin/internal/repository"
)

// KeyStore persists signing keys.  Implemented by repository.KeyRepo and
// memstore.Store.
type KeyStore interface {
	UpsertKey(ctx context.Context, name, pubkey string, at time.Time) (*model.Key, error)
	GetKey(ctx context.Context, name string) (*model.Key, error)
	ListKeys(ctx context.Context) ([]*model.Key, error)
	SoftDeleteKey(ctx context.Context, name string, at time.Time) (int64, error)
	RotateKey(ctx context.Context, oldName string, next *model.Key, at time.Time) (int, error)
}

// PolicyStore persists policies with their rules.
type PolicyStore interface {
	CreatePolicy(ctx context.Context, p *model.Policy) error
	GetPolicy(ctx context.Context, id uint64) (*model.Policy, error)
	ListPolicies(ctx context.Context) ([]*model.Policy, error)
	SoftDeletePolicy(ctx context.Context, id uint64, at time.Time) error
}

// GrantStore persists grants and their signing conditions.
type GrantStore interface {
	SaveGrant(ctx context.Context, in repository.GrantInput) (*model.KeyUser, error)
	GetKeyUser(ctx context.Context, keyName, userPubkey string) (*model.KeyUser, error)
	GetKeyUserByID(ctx context.Context, id uint64) (*model.KeyUser, error)
	ListKeyUsersByKey(ctx context.Context, keyName string) ([]*model.KeyUser, error)
	ListKeyUsersByPubkey(ctx context.Context, userPubkey string) ([]*model.KeyUser, error)
	RevokeKeyUser(ctx context.Context, id uint64, at time.Time) error
	UpdateKeyUserDescription(ctx context.Context, id uint64, description string, at time.Time) error
}

// TokenStore persists bearer tokens.
type TokenStore interface {
	CreateToken(ctx context.Context, t *model.Token) error
	GetTokenByID(ctx context.Context, id uint64) (*model.Token, error)
	GetTokenByValue(ctx context.Context, value string) (*model.Token, error)
	ListTokensByKey(ctx context.Context, keyName string) ([]*model.Token, error)
	SoftDeleteToken(ctx context.Context, id uint64, at time.Time) error
	MarkTokenRedeemed(ctx context.Context, id, keyUserID uint64, at time.Time) error
}

// Vault keeps encrypted nsec strings at rest.
type Vault interface {
	Seal(name, nsec, passphrase string) error
	Open(name, passphrase string) (string, error)
}

// Keyring holds unlocked secrets in memory.
type Keyring interface {
	Load(name string, secret []byte) error
	Unlocked(name string) bool
	Unload(name string)
}

// EventPublisher delivers audit events.  Failures never fail the command.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.AuditEvent) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.AuditEvent) error { return nil }
