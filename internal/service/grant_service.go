package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/model"
	"github.com/iliyamo/bunker-admin/internal/repository"
	"github.com/iliyamo/bunker-admin/internal/utils"
)

// GrantService materializes policies into per-requester grants.  A grant
// is a snapshot: later changes to the policy never reach it.
type GrantService struct {
	base
	grants   GrantStore
	policies *PolicyService
}

func NewGrantService(grants GrantStore, policies *PolicyService, events EventPublisher, log *zap.Logger) *GrantService {
	return &GrantService{base: newBase(events, log), grants: grants, policies: policies}
}

// maxRequesterLen matches key_users.user_pubkey.
const maxRequesterLen = 191

func normalizeRequester(pubkey string) (string, error) {
	if pubkey == "" {
		return "", fmt.Errorf("%w: userPubkey required", ErrInvalidParams)
	}
	hex, err := utils.NormalizePublicKey(pubkey)
	if err != nil {
		return "", fmt.Errorf("%w: invalid npub format: %w", ErrInvalidParams, err)
	}
	if len(hex) > maxRequesterLen {
		return "", fmt.Errorf("%w: userPubkey longer than %d characters", ErrInvalidParams, maxRequesterLen)
	}
	return hex, nil
}

// Grant stamps the rules of policyID onto (keyName, requester).  The grant
// row is upserted and re-activated, and its condition set is replaced with
// one allowed condition per rule, in a single store call.  A nil
// description keeps the existing one.
func (s *GrantService) Grant(ctx context.Context, keyName, requester string, policyID uint64, description *string) (*model.KeyUser, error) {
	if keyName == "" {
		return nil, fmt.Errorf("%w: keyName required", ErrInvalidParams)
	}
	pubkey, err := normalizeRequester(requester)
	if err != nil {
		return nil, err
	}
	p, err := s.policies.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if description != nil && strings.TrimSpace(*description) == "" {
		description = nil
	}

	conds := make([]model.SigningCondition, 0, len(p.Rules))
	for _, r := range p.Rules {
		method, allowed := r.Method, true
		var kind *string
		if r.Kind != nil {
			k := *r.Kind
			kind = &k
		}
		conds = append(conds, model.SigningCondition{Method: &method, Kind: kind, Allowed: &allowed})
	}

	now := s.now()
	u, err := s.grants.SaveGrant(ctx, repository.GrantInput{
		KeyName:     keyName,
		UserPubkey:  pubkey,
		Description: description,
		Conditions:  conds,
		At:          now,
	})
	if err != nil {
		s.log.Error("save grant", zap.String("key", keyName), zap.String("user", pubkey), zap.Error(err))
		return nil, err
	}
	s.log.Info("permission granted",
		zap.String("key", keyName), zap.String("user", pubkey),
		zap.Uint64("policy_id", policyID), zap.Int("conditions", len(conds)))
	s.emit(ctx, now, model.AuditEvent{
		Type: model.EventGrantCreated, KeyName: keyName, UserPubkey: pubkey, PolicyID: u64(policyID),
	})
	return u, nil
}

// Get returns the grant of requester on keyName with its conditions.
func (s *GrantService) Get(ctx context.Context, keyName, requester string) (*model.KeyUser, error) {
	if keyName == "" {
		return nil, fmt.Errorf("%w: keyName required", ErrInvalidParams)
	}
	pubkey, err := normalizeRequester(requester)
	if err != nil {
		return nil, err
	}
	u, err := s.grants.GetKeyUser(ctx, keyName, pubkey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("permission for user on key '%s' %w", keyName, ErrNotFound)
	}
	return u, err
}

// Revoke stamps revoked_at on the grant.  Conditions are kept but are
// inert from then on.
func (s *GrantService) Revoke(ctx context.Context, keyName, requester string) error {
	u, err := s.Get(ctx, keyName, requester)
	if err != nil {
		return err
	}
	return s.revoke(ctx, u)
}

// RevokeByID revokes a grant addressed by id.
func (s *GrantService) RevokeByID(ctx context.Context, id uint64) error {
	u, err := s.grants.GetKeyUserByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("key user with id '%d' %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return s.revoke(ctx, u)
}

func (s *GrantService) revoke(ctx context.Context, u *model.KeyUser) error {
	if !u.Active() {
		return fmt.Errorf("permission for user on key '%s' %w", u.KeyName, ErrAlreadyRevoked)
	}
	now := s.now()
	err := s.grants.RevokeKeyUser(ctx, u.ID, now)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("permission for user on key '%s' %w", u.KeyName, ErrAlreadyRevoked)
	case err != nil:
		s.log.Error("revoke grant", zap.Uint64("key_user_id", u.ID), zap.Error(err))
		return err
	}
	s.log.Info("permission revoked", zap.String("key", u.KeyName), zap.String("user", u.UserPubkey))
	s.emit(ctx, now, model.AuditEvent{Type: model.EventGrantRevoked, KeyName: u.KeyName, UserPubkey: u.UserPubkey})
	return nil
}

// Rename sets the description of one of requester's grants.  With keyName
// the grant on that key is used; without it the most recently updated
// grant of the requester is chosen.
func (s *GrantService) Rename(ctx context.Context, requester, description, keyName string) (*model.KeyUser, error) {
	if description == "" {
		return nil, fmt.Errorf("%w: userPubkey and description required", ErrInvalidParams)
	}
	pubkey, err := normalizeRequester(requester)
	if err != nil {
		return nil, err
	}

	var target *model.KeyUser
	if keyName != "" {
		target, err = s.Get(ctx, keyName, pubkey)
		if err != nil {
			return nil, err
		}
	} else {
		all, err := s.grants.ListKeyUsersByPubkey(ctx, pubkey)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return nil, fmt.Errorf("key user %w", ErrNotFound)
		}
		target = all[0]
	}

	now := s.now()
	if err := s.grants.UpdateKeyUserDescription(ctx, target.ID, description, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("key user %w", ErrNotFound)
		}
		return nil, err
	}
	target.Description = &description
	target.UpdatedAt = now
	s.log.Info("key user renamed", zap.Uint64("key_user_id", target.ID))
	s.emit(ctx, now, model.AuditEvent{Type: model.EventGrantRenamed, KeyName: target.KeyName, UserPubkey: pubkey})
	return target, nil
}

// ListForKey returns every grant on keyName, revoked ones included.
func (s *GrantService) ListForKey(ctx context.Context, keyName string) ([]*model.KeyUser, error) {
	if keyName == "" {
		return nil, fmt.Errorf("%w: keyName required", ErrInvalidParams)
	}
	return s.grants.ListKeyUsersByKey(ctx, keyName)
}
