package admin

import (
	"time"

	"github.com/iliyamo/bunker-admin/internal/model"
	"github.com/iliyamo/bunker-admin/internal/service"
)

// okPayload is the result of commands that return nothing else.
var okPayload = []string{"ok"}

type KeyPayload struct {
	Name      string     `json:"name"`
	Npub      *string    `json:"npub"`
	Pubkey    string     `json:"pubkey"`
	Locked    bool       `json:"locked"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at"`
}

func keyPayload(k *service.KeyInfo) KeyPayload {
	return KeyPayload{
		Name:      k.Name,
		Npub:      k.Npub,
		Pubkey:    k.Pubkey,
		Locked:    k.Locked,
		CreatedAt: k.CreatedAt,
		UpdatedAt: k.UpdatedAt,
		DeletedAt: k.DeletedAt,
	}
}

type RulePayload struct {
	ID                uint64  `json:"id"`
	Method            string  `json:"method"`
	Kind              *string `json:"kind"`
	MaxUsageCount     *int64  `json:"max_usage_count"`
	CurrentUsageCount int64   `json:"current_usage_count"`
}

type PolicyPayload struct {
	ID          uint64        `json:"id"`
	Name        string        `json:"name"`
	Description *string       `json:"description"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ExpiresAt   *time.Time    `json:"expires_at"`
	Rules       []RulePayload `json:"rules"`
}

func policyPayload(p *model.Policy) PolicyPayload {
	out := PolicyPayload{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		ExpiresAt:   p.ExpiresAt,
		Rules:       make([]RulePayload, 0, len(p.Rules)),
	}
	for _, r := range p.Rules {
		out.Rules = append(out.Rules, RulePayload{
			ID:                r.ID,
			Method:            r.Method,
			Kind:              r.Kind,
			MaxUsageCount:     r.MaxUsageCount,
			CurrentUsageCount: r.CurrentUsageCount,
		})
	}
	return out
}

// GrantPayload is returned by grant_permission and redeem_token.
type GrantPayload struct {
	ID          uint64    `json:"id"`
	KeyName     string    `json:"key_name"`
	UserPubkey  string    `json:"user_pubkey"`
	CreatedAt   time.Time `json:"created_at"`
	Description *string   `json:"description"`
}

func grantPayload(u *model.KeyUser) GrantPayload {
	return GrantPayload{
		ID:          u.ID,
		KeyName:     u.KeyName,
		UserPubkey:  u.UserPubkey,
		CreatedAt:   u.CreatedAt,
		Description: u.Description,
	}
}

type ConditionPayload struct {
	ID      uint64  `json:"id"`
	Method  *string `json:"method"`
	Kind    *string `json:"kind"`
	Content *string `json:"content"`
	Allowed *bool   `json:"allowed"`
}

// PermissionPayload is a grant with its full condition set.
type PermissionPayload struct {
	ID                uint64             `json:"id"`
	KeyName           string             `json:"key_name"`
	UserPubkey        string             `json:"user_pubkey"`
	Active            bool               `json:"active"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	RevokedAt         *time.Time         `json:"revoked_at"`
	LastUsedAt        *time.Time         `json:"last_used_at"`
	Description       *string            `json:"description"`
	SigningConditions []ConditionPayload `json:"signing_conditions"`
}

func permissionPayload(u *model.KeyUser) PermissionPayload {
	out := PermissionPayload{
		ID:                u.ID,
		KeyName:           u.KeyName,
		UserPubkey:        u.UserPubkey,
		Active:            u.Active(),
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
		RevokedAt:         u.RevokedAt,
		LastUsedAt:        u.LastUsedAt,
		Description:       u.Description,
		SigningConditions: make([]ConditionPayload, 0, len(u.Conditions)),
	}
	for _, c := range u.Conditions {
		out.SigningConditions = append(out.SigningConditions, ConditionPayload{
			ID: c.ID, Method: c.Method, Kind: c.Kind, Content: c.Content, Allowed: c.Allowed,
		})
	}
	return out
}

type TokenPayload struct {
	ID         uint64     `json:"id"`
	KeyName    string     `json:"key_name"`
	Token      string     `json:"token"`
	ClientName string     `json:"client_name"`
	CreatedBy  string     `json:"created_by"`
	PolicyID   *uint64    `json:"policy_id"`
	PolicyName *string    `json:"policy_name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	DeletedAt  *time.Time `json:"deleted_at"`
	RedeemedAt *time.Time `json:"redeemed_at"`
	RedeemedBy *string    `json:"redeemed_by,omitempty"`
}

func tokenPayload(d *service.TokenDetail) TokenPayload {
	return TokenPayload{
		ID:         d.ID,
		KeyName:    d.KeyName,
		Token:      d.Display,
		ClientName: d.ClientName,
		CreatedBy:  d.CreatedBy,
		PolicyID:   d.PolicyID,
		PolicyName: d.PolicyName,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		ExpiresAt:  d.ExpiresAt,
		DeletedAt:  d.DeletedAt,
		RedeemedAt: d.RedeemedAt,
		RedeemedBy: d.RedeemedBy,
	}
}

// ValidationPayload mirrors service.Validation; only valid and reason are
// set for a negative result.
type ValidationPayload struct {
	Valid      bool       `json:"valid"`
	Reason     string     `json:"reason,omitempty"`
	KeyName    string     `json:"key_name,omitempty"`
	ClientName string     `json:"client_name,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Redeemed   *bool      `json:"redeemed,omitempty"`
}

func validationPayload(v *service.Validation) ValidationPayload {
	if !v.Valid {
		return ValidationPayload{Reason: v.Reason}
	}
	redeemed := v.Redeemed
	return ValidationPayload{
		Valid:      true,
		KeyName:    v.KeyName,
		ClientName: v.ClientName,
		ExpiresAt:  v.ExpiresAt,
		Redeemed:   &redeemed,
	}
}

type unlockPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
