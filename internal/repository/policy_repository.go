package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/bunker-admin/internal/model"
)

const policyColumns = "id, name, description, expires_at, created_at, updated_at, deleted_at"

// PolicyRepo persists policies and their rules.
type PolicyRepo struct {
	db *sql.DB
}

// NewPolicyRepo constructs a PolicyRepo with the provided DB handle.
func NewPolicyRepo(db *sql.DB) *PolicyRepo {
	return &PolicyRepo{db: db}
}

func scanPolicy(s rowScanner) (*model.Policy, error) {
	var (
		p                  model.Policy
		desc               sql.NullString
		expires, deletedAt sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.Name, &desc, &expires, &p.CreatedAt, &p.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	p.Description = stringPtr(desc)
	p.ExpiresAt = timePtr(expires)
	p.DeletedAt = timePtr(deletedAt)
	return &p, nil
}

// CreatePolicy inserts the policy and all of its rules in one transaction.
// On success p.ID, timestamps and every rule's ID are populated.  A name
// that is already taken yields ErrConflict.
func (r *PolicyRepo) CreatePolicy(ctx context.Context, p *model.Policy) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO policies (name, description, expires_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			p.Name, nullString(p.Description), nullTime(p.ExpiresAt), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
		if err != nil {
			if isDuplicate(err) {
				return ErrConflict
			}
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		p.ID = uint64(id)

		for i := range p.Rules {
			rule := &p.Rules[i]
			rule.PolicyID = p.ID
			res, err := tx.ExecContext(ctx,
				`INSERT INTO policy_rules (policy_id, position, method, kind, max_usage_count, current_usage_count)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				p.ID, rule.Position, rule.Method, nullString(rule.Kind), nullInt64(rule.MaxUsageCount), rule.CurrentUsageCount)
			if err != nil {
				return err
			}
			ruleID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			rule.ID = uint64(ruleID)
		}
		return nil
	})
}

// GetPolicy fetches a policy with its rules, including soft-deleted
// policies.  It returns ErrNotFound if no row exists.
func (r *PolicyRepo) GetPolicy(ctx context.Context, id uint64) (*model.Policy, error) {
	p, err := scanPolicy(r.db.QueryRowContext(ctx,
		"SELECT "+policyColumns+" FROM policies WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rules, err := r.rulesFor(ctx, []uint64{p.ID})
	if err != nil {
		return nil, err
	}
	p.Rules = rules[p.ID]
	return p, nil
}

// ListPolicies returns live policies ordered by id, each with its rules.
func (r *PolicyRepo) ListPolicies(ctx context.Context) ([]*model.Policy, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+policyColumns+" FROM policies WHERE deleted_at IS NULL ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out []*model.Policy
		ids []uint64
	)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	rules, err := r.rulesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range out {
		p.Rules = rules[p.ID]
	}
	return out, nil
}

// rulesFor loads the rules of the given policies grouped by policy id and
// ordered by their original position.
func (r *PolicyRepo) rulesFor(ctx context.Context, ids []uint64) (map[uint64][]model.PolicyRule, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, policy_id, position, method, kind, max_usage_count, current_usage_count
		 FROM policy_rules WHERE policy_id IN (`+placeholders+`) ORDER BY policy_id, position, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uint64][]model.PolicyRule, len(ids))
	for rows.Next() {
		var (
			rule  model.PolicyRule
			kind  sql.NullString
			limit sql.NullInt64
		)
		if err := rows.Scan(&rule.ID, &rule.PolicyID, &rule.Position, &rule.Method, &kind, &limit, &rule.CurrentUsageCount); err != nil {
			return nil, err
		}
		rule.Kind = stringPtr(kind)
		rule.MaxUsageCount = int64Ptr(limit)
		out[rule.PolicyID] = append(out[rule.PolicyID], rule)
	}
	return out, rows.Err()
}

// SoftDeletePolicy stamps deleted_at on a live policy.  It returns
// ErrNotFound when no live policy has that id.  Grants already
// materialized from the policy are left untouched.
func (r *PolicyRepo) SoftDeletePolicy(ctx context.Context, id uint64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE policies SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		at.UTC(), at.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
