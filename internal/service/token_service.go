package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/model"
	"github.com/iliyamo/bunker-admin/internal/repository"
	"github.com/iliyamo/bunker-admin/internal/utils"
)

// Validation reasons, checked in this order.
const (
	ReasonNotFound = "not found"
	ReasonRevoked  = "revoked"
	ReasonExpired  = "expired"
)

// Validation is the outcome of TokenService.Validate.  The remaining
// fields are only set when Valid is true.
type Validation struct {
	Valid      bool
	Reason     string
	KeyName    string
	ClientName string
	ExpiresAt  *time.Time
	Redeemed   bool
}

// IssuedToken is returned by Issue.  Token is the display string.
type IssuedToken struct {
	ID    uint64
	Token string
}

// TokenDetail is a token joined with the names it references.
type TokenDetail struct {
	*model.Token
	Display    string
	PolicyName *string
	RedeemedBy *string
}

// TokenService manages bearer tokens from issue to revocation.
type TokenService struct {
	base
	tokens   TokenStore
	keys     KeyStore
	policies *PolicyService
	grants   *GrantService
}

func NewTokenService(tokens TokenStore, keys KeyStore, policies *PolicyService, grants *GrantService, events EventPublisher, log *zap.Logger) *TokenService {
	return &TokenService{base: newBase(events, log), tokens: tokens, keys: keys, policies: policies, grants: grants}
}

// Issue creates a token for keyName bound to policyID.  ttlHours, when
// non-nil, sets an absolute expiry relative to now.  A soft-deleted key
// yields ErrDeleted.
func (s *TokenService) Issue(ctx context.Context, keyName, clientName string, policyID uint64, createdBy string, ttlHours *int) (*IssuedToken, error) {
	if keyName == "" || clientName == "" {
		return nil, fmt.Errorf("%w: keyName, clientName, and policyId required", ErrInvalidParams)
	}
	if ttlHours != nil && *ttlHours <= 0 {
		return nil, fmt.Errorf("%w: ttlHours must be a positive number", ErrInvalidParams)
	}
	if len(createdBy) > maxRequesterLen {
		return nil, fmt.Errorf("%w: createdBy longer than %d characters", ErrInvalidParams, maxRequesterLen)
	}
	if _, err := s.policies.GetPolicy(ctx, policyID); err != nil {
		return nil, err
	}
	// A key with no row may live on another node; a soft-deleted one is gone.
	k, err := s.keys.GetKey(ctx, keyName)
	switch {
	case err == nil && k.Deleted():
		return nil, fmt.Errorf("key '%s' %w", keyName, ErrDeleted)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		s.log.Error("load key", zap.String("key", keyName), zap.Error(err))
		return nil, err
	}

	value, err := utils.NewTokenValue()
	if err != nil {
		return nil, err
	}
	now := s.now()
	t := &model.Token{
		KeyName:    keyName,
		Token:      value,
		ClientName: clientName,
		CreatedBy:  createdBy,
		PolicyID:   u64(policyID),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if ttlHours != nil {
		exp := now.Add(time.Duration(*ttlHours) * time.Hour)
		t.ExpiresAt = &exp
	}
	if err := s.tokens.CreateToken(ctx, t); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("token %w", ErrConflict)
		}
		s.log.Error("create token", zap.String("key", keyName), zap.Error(err))
		return nil, err
	}
	s.log.Info("token issued", zap.Uint64("token_id", t.ID), zap.String("key", keyName), zap.String("client", clientName))
	s.emit(ctx, now, model.AuditEvent{
		Type: model.EventTokenIssued, KeyName: keyName, TokenID: u64(t.ID), PolicyID: u64(policyID), Actor: createdBy,
	})
	return &IssuedToken{ID: t.ID, Token: s.display(ctx, t)}, nil
}

// display composes "npub#token" when the owning key resolves.
func (s *TokenService) display(ctx context.Context, t *model.Token) string {
	var npub *string
	if k, err := s.keys.GetKey(ctx, t.KeyName); err == nil {
		if n, err := utils.EncodeNpub(k.Pubkey); err == nil {
			npub = &n
		}
	}
	return utils.ComposeTokenString(npub, t.Token)
}

func (s *TokenService) byID(ctx context.Context, id uint64) (*model.Token, error) {
	t, err := s.tokens.GetTokenByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("token with id '%d' %w", id, ErrNotFound)
	}
	return t, err
}

// Revoke soft-deletes a live token.
func (s *TokenService) Revoke(ctx context.Context, id uint64) error {
	t, err := s.byID(ctx, id)
	if err != nil {
		return err
	}
	if t.Revoked() {
		return fmt.Errorf("token with id '%d' %w", id, ErrAlreadyRevoked)
	}
	now := s.now()
	err = s.tokens.SoftDeleteToken(ctx, id, now)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("token with id '%d' %w", id, ErrAlreadyRevoked)
	case err != nil:
		s.log.Error("revoke token", zap.Uint64("token_id", id), zap.Error(err))
		return err
	}
	s.log.Info("token revoked", zap.Uint64("token_id", id))
	s.emit(ctx, now, model.AuditEvent{Type: model.EventTokenRevoked, KeyName: t.KeyName, TokenID: u64(id)})
	return nil
}

// Describe returns the token with its policy name and the description of
// the grant that redeemed it.  Dangling references are left empty.
func (s *TokenService) Describe(ctx context.Context, id uint64) (*TokenDetail, error) {
	t, err := s.byID(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &TokenDetail{Token: t, Display: s.display(ctx, t)}
	if t.PolicyID != nil {
		if p, err := s.policies.lookup(ctx, *t.PolicyID); err == nil {
			name := p.Name
			d.PolicyName = &name
		}
	}
	if t.KeyUserID != nil {
		if u, err := s.grants.grants.GetKeyUserByID(ctx, *t.KeyUserID); err == nil {
			d.RedeemedBy = u.Description
		}
	}
	return d, nil
}

// Validate reports whether tokenString is usable.  Unknown, revoked and
// expired tokens are negative results, not errors.
func (s *TokenService) Validate(ctx context.Context, tokenString string) (*Validation, error) {
	t, err := s.resolve(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	return s.check(t), nil
}

// resolve looks up the canonical value behind tokenString; an unknown
// token yields (nil, nil).
func (s *TokenService) resolve(ctx context.Context, tokenString string) (*model.Token, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: token required", ErrInvalidParams)
	}
	_, raw := utils.SplitTokenString(tokenString)
	t, err := s.tokens.GetTokenByValue(ctx, raw)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return t, err
}

func (s *TokenService) check(t *model.Token) *Validation {
	switch {
	case t == nil:
		return &Validation{Reason: ReasonNotFound}
	case t.Revoked():
		return &Validation{Reason: ReasonRevoked}
	case t.Expired(s.now()):
		return &Validation{Reason: ReasonExpired}
	}
	return &Validation{
		Valid:      true,
		KeyName:    t.KeyName,
		ClientName: t.ClientName,
		ExpiresAt:  t.ExpiresAt,
		Redeemed:   t.RedeemedAt != nil,
	}
}

// Redeem grants the token's policy to requester on the token's key, using
// the client name as the grant description, and records the redemption.
// Redeeming again re-grants and refreshes redeemed_at.
func (s *TokenService) Redeem(ctx context.Context, tokenString, requester string) (*model.KeyUser, error) {
	if requester == "" {
		return nil, fmt.Errorf("%w: token and userPubkey required", ErrInvalidParams)
	}
	t, err := s.resolve(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	v := s.check(t)
	switch v.Reason {
	case ReasonNotFound:
		return nil, fmt.Errorf("token %w", ErrNotFound)
	case ReasonRevoked, ReasonExpired:
		return nil, fmt.Errorf("token %s: %w", v.Reason, ErrDeleted)
	}
	if t.PolicyID == nil {
		return nil, fmt.Errorf("%w: token has no policy", ErrInvalidParams)
	}

	client := t.ClientName
	u, err := s.grants.Grant(ctx, t.KeyName, requester, *t.PolicyID, &client)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.tokens.MarkTokenRedeemed(ctx, t.ID, u.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("token revoked: %w", ErrDeleted)
		}
		return nil, err
	}
	s.log.Info("token redeemed", zap.Uint64("token_id", t.ID), zap.Uint64("key_user_id", u.ID))
	s.emit(ctx, now, model.AuditEvent{
		Type: model.EventTokenRedeemed, KeyName: t.KeyName, TokenID: u64(t.ID), UserPubkey: u.UserPubkey,
	})
	return u, nil
}

// ListForKey returns every token of keyName, newest first, with display
// strings composed.
func (s *TokenService) ListForKey(ctx context.Context, keyName string) ([]*TokenDetail, error) {
	if keyName == "" {
		return nil, fmt.Errorf("%w: keyName required", ErrInvalidParams)
	}
	tokens, err := s.tokens.ListTokensByKey(ctx, keyName)
	if err != nil {
		return nil, err
	}
	out := make([]*TokenDetail, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, &TokenDetail{Token: t, Display: s.display(ctx, t)})
	}
	return out, nil
}
