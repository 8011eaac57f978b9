package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/model"
	"github.com/iliyamo/bunker-admin/internal/repository"
)

// maxMethodLen matches policy_rules.method.
const maxMethodLen = 64

// RuleInput is one requested policy rule.  Kind may be nil, a string or a
// JSON number; it is normalized with model.NormalizeKind.
type RuleInput struct {
	Method        string
	Kind          any
	MaxUsageCount *int64
}

// PolicyInput describes a policy to create.
type PolicyInput struct {
	Name        string
	Description *string
	ExpiresAt   *time.Time
	Rules       []RuleInput
}

type policyDoc struct {
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Rules       []struct {
		Method   *string     `json:"method"`
		Kind     any         `json:"kind"`
		UseCount json.Number `json:"use_count"`
	} `json:"rules"`
}

// ParsePolicyJSON decodes the create_new_policy document.  Numbers are
// decoded with UseNumber so large kinds keep their exact digits.
func ParsePolicyJSON(raw string) (PolicyInput, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var doc policyDoc
	if err := dec.Decode(&doc); err != nil {
		return PolicyInput{}, fmt.Errorf("%w: policy json: %v", ErrInvalidParams, err)
	}

	in := PolicyInput{Name: doc.Name, Description: doc.Description, ExpiresAt: doc.ExpiresAt}
	for i, r := range doc.Rules {
		rule := RuleInput{Kind: r.Kind}
		if r.Method != nil {
			rule.Method = *r.Method
		}
		if r.UseCount != "" {
			n, err := r.UseCount.Int64()
			if err != nil || n < 0 {
				return PolicyInput{}, fmt.Errorf("%w: rules[%d].use_count must be a non-negative integer", ErrInvalidParams, i)
			}
			rule.MaxUsageCount = &n
		}
		in.Rules = append(in.Rules, rule)
	}
	return in, nil
}

// PolicyService is the policy catalog.
type PolicyService struct {
	base
	policies PolicyStore
}

func NewPolicyService(policies PolicyStore, events EventPublisher, log *zap.Logger) *PolicyService {
	return &PolicyService{base: newBase(events, log), policies: policies}
}

// CreatePolicy stores the policy and its rules.  Rules keep their input
// order; a missing method defaults to model.DefaultMethod.
func (s *PolicyService) CreatePolicy(ctx context.Context, in PolicyInput) (*model.Policy, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: policy name required", ErrInvalidParams)
	}

	now := s.now()
	p := &model.Policy{
		Name:        name,
		Description: in.Description,
		ExpiresAt:   in.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
		Rules:       make([]model.PolicyRule, 0, len(in.Rules)),
	}
	for i, r := range in.Rules {
		kind, err := model.NormalizeKind(r.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: rules[%d]: %w", ErrInvalidParams, i, err)
		}
		method := strings.TrimSpace(r.Method)
		if method == "" {
			method = model.DefaultMethod
		}
		if len(method) > maxMethodLen {
			return nil, fmt.Errorf("%w: rules[%d]: method longer than %d characters", ErrInvalidParams, i, maxMethodLen)
		}
		p.Rules = append(p.Rules, model.PolicyRule{
			Position:      i,
			Method:        method,
			Kind:          kind,
			MaxUsageCount: r.MaxUsageCount,
		})
	}

	if err := s.policies.CreatePolicy(ctx, p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("policy '%s' %w", name, ErrConflict)
		}
		s.log.Error("create policy", zap.String("policy", name), zap.Error(err))
		return nil, err
	}
	s.log.Info("policy created", zap.Uint64("policy_id", p.ID), zap.Int("rules", len(p.Rules)))
	s.emit(ctx, now, model.AuditEvent{Type: model.EventPolicyCreated, PolicyID: u64(p.ID)})
	return p, nil
}

// GetPolicy returns a live policy with its rules.
func (s *PolicyService) GetPolicy(ctx context.Context, id uint64) (*model.Policy, error) {
	p, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Deleted() {
		return nil, fmt.Errorf("policy with id '%d' %w", id, ErrDeleted)
	}
	return p, nil
}

func (s *PolicyService) lookup(ctx context.Context, id uint64) (*model.Policy, error) {
	p, err := s.policies.GetPolicy(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("policy with id '%d' %w", id, ErrNotFound)
	}
	return p, err
}

// SoftDeletePolicy marks a live policy deleted.  Grants already
// materialized from it are unaffected.
func (s *PolicyService) SoftDeletePolicy(ctx context.Context, id uint64) error {
	p, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if p.Deleted() {
		return fmt.Errorf("policy with id '%d' %w", id, ErrAlreadyDeleted)
	}
	now := s.now()
	err = s.policies.SoftDeletePolicy(ctx, id, now)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("policy with id '%d' %w", id, ErrAlreadyDeleted)
	case err != nil:
		s.log.Error("soft delete policy", zap.Uint64("policy_id", id), zap.Error(err))
		return err
	}
	s.log.Info("policy deleted", zap.Uint64("policy_id", id))
	s.emit(ctx, now, model.AuditEvent{Type: model.EventPolicyDeleted, PolicyID: u64(id)})
	return nil
}

// ListPolicies returns every live policy.
func (s *PolicyService) ListPolicies(ctx context.Context) ([]*model.Policy, error) {
	return s.policies.ListPolicies(ctx)
}
