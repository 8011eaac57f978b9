package memstore

import (
	"time"

	"github.com/iliyamo/bunker-admin/internal/model"
)

func timeRef(t time.Time) *time.Time { return &t }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyInt64(n *int64) *int64 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func copyUint64(n *uint64) *uint64 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func copyKey(k *model.Key) *model.Key {
	c := *k
	c.DeletedAt = copyTime(k.DeletedAt)
	return &c
}

func copyPolicy(p *model.Policy) *model.Policy {
	c := *p
	c.Description = copyString(p.Description)
	c.ExpiresAt = copyTime(p.ExpiresAt)
	c.DeletedAt = copyTime(p.DeletedAt)
	c.Rules = make([]model.PolicyRule, len(p.Rules))
	for i, r := range p.Rules {
		r.Kind = copyString(r.Kind)
		r.MaxUsageCount = copyInt64(r.MaxUsageCount)
		c.Rules[i] = r
	}
	return &c
}

func copyCondition(c model.SigningCondition) model.SigningCondition {
	c.Method = copyString(c.Method)
	c.Kind = copyString(c.Kind)
	c.Content = copyString(c.Content)
	c.Allowed = copyBool(c.Allowed)
	return c
}

// copyKeyUser copies a grant; withConditions mirrors the MySQL repository,
// which only loads conditions on single-grant reads and per-key listings.
func copyKeyUser(u *model.KeyUser, withConditions bool) *model.KeyUser {
	c := *u
	c.Description = copyString(u.Description)
	c.RevokedAt = copyTime(u.RevokedAt)
	c.LastUsedAt = copyTime(u.LastUsedAt)
	c.Conditions = nil
	if withConditions {
		c.Conditions = make([]model.SigningCondition, len(u.Conditions))
		for i, sc := range u.Conditions {
			c.Conditions[i] = copyCondition(sc)
		}
	}
	return &c
}

func copyToken(t *model.Token) *model.Token {
	c := *t
	c.PolicyID = copyUint64(t.PolicyID)
	c.KeyUserID = copyUint64(t.KeyUserID)
	c.ExpiresAt = copyTime(t.ExpiresAt)
	c.DeletedAt = copyTime(t.DeletedAt)
	c.RedeemedAt = copyTime(t.RedeemedAt)
	return &c
}
