package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/keystore"
	"github.com/iliyamo/bunker-admin/internal/model"
	"github.com/iliyamo/bunker-admin/internal/repository"
	"github.com/iliyamo/bunker-admin/internal/utils"
)

// KeyInfo is a key row decorated with its npub and keyring state.
type KeyInfo struct {
	Name      string
	Pubkey    string
	Npub      *string
	Locked    bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Rotation is the outcome of RotateKey.
type Rotation struct {
	Name         string
	Npub         string
	GrantsCopied int
}

// KeyService is the identity registry.  Besides the key rows it owns the
// lifecycle of the encrypted secret (vault) and the unlocked secret
// (keyring).
type KeyService struct {
	base
	keys    KeyStore
	vault   Vault
	keyring Keyring
}

func NewKeyService(keys KeyStore, vault Vault, keyring Keyring, events EventPublisher, log *zap.Logger) *KeyService {
	return &KeyService{base: newBase(events, log), keys: keys, vault: vault, keyring: keyring}
}

// CreateOrReviveKey upserts the key row by name.  A soft-deleted row is
// revived with the new public key.
func (s *KeyService) CreateOrReviveKey(ctx context.Context, name, pubkeyHex string) (*model.Key, error) {
	if name == "" || pubkeyHex == "" {
		return nil, fmt.Errorf("%w: name and pubkey required", ErrInvalidParams)
	}
	now := s.now()
	k, err := s.keys.UpsertKey(ctx, name, pubkeyHex, now)
	if err != nil {
		s.log.Error("upsert key", zap.String("key", name), zap.Error(err))
		return nil, err
	}
	s.log.Info("key saved", zap.String("key", name))
	s.emit(ctx, now, model.AuditEvent{Type: model.EventKeyCreated, KeyName: name})
	return k, nil
}

// SoftDelete marks a live key deleted and revokes its live tokens.  It
// returns the number of tokens revoked.
func (s *KeyService) SoftDelete(ctx context.Context, name string) (int64, error) {
	k, err := s.Lookup(ctx, name)
	if err != nil {
		return 0, err
	}
	if k.Deleted() {
		return 0, fmt.Errorf("key '%s' %w", name, ErrAlreadyDeleted)
	}

	now := s.now()
	revoked, err := s.keys.SoftDeleteKey(ctx, name, now)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// lost a race with another delete
		return 0, fmt.Errorf("key '%s' %w", name, ErrAlreadyDeleted)
	case err != nil:
		s.log.Error("soft delete key", zap.String("key", name), zap.Error(err))
		return 0, err
	}
	if s.keyring != nil {
		s.keyring.Unload(name)
	}
	s.log.Info("key deleted", zap.String("key", name), zap.Int64("tokens_revoked", revoked))
	s.emit(ctx, now, model.AuditEvent{Type: model.EventKeyDeleted, KeyName: name})
	return revoked, nil
}

// Lookup returns the key row, deleted or not.
func (s *KeyService) Lookup(ctx context.Context, name string) (*model.Key, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: keyName required", ErrInvalidParams)
	}
	k, err := s.keys.GetKey(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("key '%s' %w", name, ErrNotFound)
	}
	return k, err
}

// Describe is Lookup plus npub and lock state.
func (s *KeyService) Describe(ctx context.Context, name string) (*KeyInfo, error) {
	k, err := s.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.info(k), nil
}

// ListKeys returns every key row, deleted ones included.
func (s *KeyService) ListKeys(ctx context.Context) ([]*KeyInfo, error) {
	keys, err := s.keys.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*KeyInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.info(k))
	}
	return out, nil
}

func (s *KeyService) info(k *model.Key) *KeyInfo {
	ki := &KeyInfo{
		Name:      k.Name,
		Pubkey:    k.Pubkey,
		Locked:    s.keyring == nil || !s.keyring.Unlocked(k.Name),
		CreatedAt: k.CreatedAt,
		UpdatedAt: k.UpdatedAt,
		DeletedAt: k.DeletedAt,
	}
	if npub, err := utils.EncodeNpub(k.Pubkey); err == nil {
		ki.Npub = &npub
	}
	return ki
}

// CreateKey imports nsec (or generates a fresh key when nsec is empty),
// seals it under passphrase, unlocks it and records the key row.  It
// returns the key's npub.
func (s *KeyService) CreateKey(ctx context.Context, name, passphrase, nsec string) (string, error) {
	if name == "" || passphrase == "" {
		return "", fmt.Errorf("%w: keyName and passphrase required", ErrInvalidParams)
	}

	var (
		secret []byte
		err    error
	)
	if nsec != "" {
		if secret, err = utils.DecodeNsec(nsec); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
	} else if secret, err = keystore.GenerateSecret(); err != nil {
		return "", err
	}

	npub, err := s.seal(name, passphrase, secret)
	if err != nil {
		return "", err
	}
	pub, err := keystore.PublicKeyHex(secret)
	if err != nil {
		return "", err
	}
	if _, err := s.CreateOrReviveKey(ctx, name, pub); err != nil {
		return "", err
	}
	return npub, nil
}

// seal writes secret to the vault, loads it into the keyring and returns
// its npub.
func (s *KeyService) seal(name, passphrase string, secret []byte) (string, error) {
	encoded, err := utils.EncodeNsec(secret)
	if err != nil {
		return "", err
	}
	if err := s.vault.Seal(name, encoded, passphrase); err != nil {
		if errors.Is(err, keystore.ErrInvalidName) {
			return "", fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
		return "", fmt.Errorf("seal key '%s': %w", name, err)
	}
	if err := s.keyring.Load(name, secret); err != nil {
		return "", err
	}
	pub, err := keystore.PublicKeyHex(secret)
	if err != nil {
		return "", err
	}
	return utils.EncodeNpub(pub)
}

// RotateKey replaces a live key with a freshly generated one.  Active
// grants move to the new key; tokens do not.  The store applies the row
// changes in one transaction; a failed rotation may leave a vault entry for
// newName behind, which the next attempt overwrites.
func (s *KeyService) RotateKey(ctx context.Context, oldName, newName, passphrase string) (*Rotation, error) {
	if oldName == "" || newName == "" || passphrase == "" {
		return nil, fmt.Errorf("%w: oldKeyName, newKeyName, and passphrase required", ErrInvalidParams)
	}
	old, err := s.Lookup(ctx, oldName)
	if err != nil {
		return nil, err
	}
	if old.Deleted() {
		return nil, fmt.Errorf("key '%s' %w", oldName, ErrAlreadyDeleted)
	}
	if _, err := s.keys.GetKey(ctx, newName); err == nil {
		return nil, fmt.Errorf("key '%s' %w", newName, ErrConflict)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	secret, err := keystore.GenerateSecret()
	if err != nil {
		return nil, err
	}
	pub, err := keystore.PublicKeyHex(secret)
	if err != nil {
		return nil, err
	}
	encoded, err := utils.EncodeNsec(secret)
	if err != nil {
		return nil, err
	}
	if err := s.vault.Seal(newName, encoded, passphrase); err != nil {
		if errors.Is(err, keystore.ErrInvalidName) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
		return nil, fmt.Errorf("seal key '%s': %w", newName, err)
	}

	now := s.now()
	copied, err := s.keys.RotateKey(ctx, oldName, &model.Key{Name: newName, Pubkey: pub}, now)
	switch {
	case errors.Is(err, repository.ErrConflict):
		return nil, fmt.Errorf("key '%s' %w", newName, ErrConflict)
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("key '%s' %w", oldName, ErrAlreadyDeleted)
	case err != nil:
		s.log.Error("rotate key", zap.String("from", oldName), zap.String("to", newName), zap.Error(err))
		return nil, err
	}

	if err := s.keyring.Load(newName, secret); err != nil {
		return nil, err
	}
	s.keyring.Unload(oldName)

	npub, err := utils.EncodeNpub(pub)
	if err != nil {
		return nil, err
	}
	s.log.Info("key rotated", zap.String("from", oldName), zap.String("to", newName), zap.Int("grants_copied", copied))
	s.emit(ctx, now, model.AuditEvent{Type: model.EventKeyRotated, KeyName: newName, Detail: "rotated from " + oldName})
	return &Rotation{Name: newName, Npub: npub, GrantsCopied: copied}, nil
}

// UnlockKey decrypts the vault entry for name and loads it into the
// keyring.
func (s *KeyService) UnlockKey(ctx context.Context, name, passphrase string) error {
	if name == "" || passphrase == "" {
		return fmt.Errorf("%w: keyName and passphrase required", ErrInvalidParams)
	}
	encoded, err := s.vault.Open(name, passphrase)
	switch {
	case errors.Is(err, keystore.ErrNoSuchKey):
		return fmt.Errorf("key '%s' %w", name, ErrNotFound)
	case errors.Is(err, keystore.ErrInvalidName):
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	case err != nil:
		return err
	}
	secret, err := utils.DecodeNsec(encoded)
	if err != nil {
		return fmt.Errorf("key '%s' vault entry is corrupt: %w", name, err)
	}
	if err := s.keyring.Load(name, secret); err != nil {
		return err
	}
	now := s.now()
	s.log.Info("key unlocked", zap.String("key", name))
	s.emit(ctx, now, model.AuditEvent{Type: model.EventKeyUnlocked, KeyName: name})
	return nil
}
