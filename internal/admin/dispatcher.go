// Package admin routes admin commands (a method name plus ordered string
// params) to the services.  The HTTP and AMQP transports share one
// Dispatcher so both expose the exact same command set.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/keystore"
	"github.com/iliyamo/bunker-admin/internal/service"
)

// Request is one admin command.  Caller is the hex pubkey of the
// authenticated admin; it becomes the actor of emitted audit events and
// the creator of issued tokens.
type Request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
	Caller string   `json:"caller,omitempty"`
}

// Services bundles the service layer the dispatcher drives.
type Services struct {
	Keys     *service.KeyService
	Policies *service.PolicyService
	Grants   *service.GrantService
	Tokens   *service.TokenService
}

type handlerFunc func(ctx context.Context, req Request) (any, error)

type command struct {
	required int
	run      handlerFunc
}

// Dispatcher executes admin commands.
type Dispatcher struct {
	svc      Services
	log      *zap.Logger
	commands map[string]command

	// OnPolicyDeleted, when set, runs after a successful delete_policy.
	OnPolicyDeleted func(ctx context.Context, id uint64)
}

func NewDispatcher(svc Services, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{svc: svc, log: log}
	d.commands = map[string]command{
		"ping": {0, d.ping},

		"create_new_key": {2, d.createNewKey},
		"unlock_key":     {2, d.unlockKey},
		"get_key":        {1, d.getKey},
		"get_keys":       {0, d.getKeys},
		"delete_key":     {1, d.deleteKey},
		"rotate_key":     {3, d.rotateKey},

		"create_new_policy": {1, d.createNewPolicy},
		"get_policy":        {1, d.getPolicy},
		"get_policies":      {0, d.getPolicies},
		"delete_policy":     {1, d.deletePolicy},

		"grant_permission":  {3, d.grantPermission},
		"revoke_permission": {2, d.revokePermission},
		"revoke_user":       {1, d.revokeUser},
		"get_permissions":   {2, d.getPermissions},
		"get_key_users":     {1, d.getKeyUsers},
		"rename_key_user":   {2, d.renameKeyUser},

		"create_new_token": {3, d.createNewToken},
		"get_token":        {1, d.getToken},
		"get_tokens":       {1, d.getTokens},
		"revoke_token":     {1, d.revokeToken},
		"validate_token":   {1, d.validateToken},
		"redeem_token":     {2, d.redeemToken},
	}
	return d
}

// Methods lists the supported command names in sorted order.
func (d *Dispatcher) Methods() []string {
	out := make([]string, 0, len(d.commands))
	for m := range d.commands {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs req and returns the JSON-ready payload.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (any, error) {
	start := time.Now()
	cmd, ok := d.commands[req.Method]
	if !ok {
		CommandsTotal.WithLabelValues("unknown", KindInvalidParams).Inc()
		return nil, fmt.Errorf("%w: unknown command '%s'", service.ErrInvalidParams, req.Method)
	}
	if len(req.Params) < cmd.required {
		CommandsTotal.WithLabelValues(req.Method, KindInvalidParams).Inc()
		return nil, fmt.Errorf("%w: %s expects %d params, got %d", service.ErrInvalidParams, req.Method, cmd.required, len(req.Params))
	}
	if req.Caller != "" {
		ctx = service.WithActor(ctx, req.Caller)
	}

	out, err := cmd.run(ctx, req)
	CommandDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := ErrorKind(err)
		CommandsTotal.WithLabelValues(req.Method, kind).Inc()
		if kind == KindInternal {
			d.log.Error("admin command failed", zap.String("method", req.Method), zap.String("request_id", req.ID), zap.Error(err))
		} else {
			d.log.Debug("admin command rejected", zap.String("method", req.Method), zap.String("kind", kind), zap.Error(err))
		}
		return nil, err
	}
	CommandsTotal.WithLabelValues(req.Method, "ok").Inc()
	return out, nil
}

func param(p []string, i int) string {
	if i < len(p) {
		return p[i]
	}
	return ""
}

func optional(p []string, i int) *string {
	if i < len(p) && strings.TrimSpace(p[i]) != "" {
		v := p[i]
		return &v
	}
	return nil
}

func parseID(raw, name string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a positive integer", service.ErrInvalidParams, name)
	}
	return id, nil
}

func (d *Dispatcher) ping(context.Context, Request) (any, error) { return "ok", nil }

func (d *Dispatcher) createNewKey(ctx context.Context, req Request) (any, error) {
	npub, err := d.svc.Keys.CreateKey(ctx, param(req.Params, 0), param(req.Params, 1), param(req.Params, 2))
	if err != nil {
		return nil, err
	}
	return map[string]string{"npub": npub}, nil
}

// unlockKey reports wrong passphrases in the payload rather than as an
// error so the caller can tell them apart from a missing key.
func (d *Dispatcher) unlockKey(ctx context.Context, req Request) (any, error) {
	err := d.svc.Keys.UnlockKey(ctx, param(req.Params, 0), param(req.Params, 1))
	switch {
	case err == nil:
		return unlockPayload{Success: true}, nil
	case errors.Is(err, keystore.ErrBadPassphrase):
		return unlockPayload{Error: err.Error()}, nil
	default:
		return nil, err
	}
}

func (d *Dispatcher) getKey(ctx context.Context, req Request) (any, error) {
	k, err := d.svc.Keys.Describe(ctx, param(req.Params, 0))
	if err != nil {
		return nil, err
	}
	return keyPayload(k), nil
}

func (d *Dispatcher) getKeys(ctx context.Context, _ Request) (any, error) {
	keys, err := d.svc.Keys.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]KeyPayload, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyPayload(k))
	}
	return out, nil
}

func (d *Dispatcher) deleteKey(ctx context.Context, req Request) (any, error) {
	if _, err := d.svc.Keys.SoftDelete(ctx, param(req.Params, 0)); err != nil {
		return nil, err
	}
	return okPayload, nil
}

func (d *Dispatcher) rotateKey(ctx context.Context, req Request) (any, error) {
	r, err := d.svc.Keys.RotateKey(ctx, param(req.Params, 0), param(req.Params, 1), param(req.Params, 2))
	if err != nil {
		return nil, err
	}
	return map[string]any{"name": r.Name, "npub": r.Npub, "grants_copied": r.GrantsCopied}, nil
}

func (d *Dispatcher) createNewPolicy(ctx context.Context, req Request) (any, error) {
	in, err := service.ParsePolicyJSON(param(req.Params, 0))
	if err != nil {
		return nil, err
	}
	p, err := d.svc.Policies.CreatePolicy(ctx, in)
	if err != nil {
		return nil, err
	}
	return policyPayload(p), nil
}

func (d *Dispatcher) getPolicy(ctx context.Context, req Request) (any, error) {
	id, err := parseID(param(req.Params, 0), "policyId")
	if err != nil {
		return nil, err
	}
	p, err := d.svc.Policies.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	return policyPayload(p), nil
}

func (d *Dispatcher) getPolicies(ctx context.Context, _ Request) (any, error) {
	list, err := d.svc.Policies.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PolicyPayload, 0, len(list))
	for _, p := range list {
		out = append(out, policyPayload(p))
	}
	return out, nil
}

func (d *Dispatcher) deletePolicy(ctx context.Context, req Request) (any, error) {
	id, err := parseID(param(req.Params, 0), "policyId")
	if err != nil {
		return nil, err
	}
	if err := d.svc.Policies.SoftDeletePolicy(ctx, id); err != nil {
		return nil, err
	}
	if d.OnPolicyDeleted != nil {
		d.OnPolicyDeleted(ctx, id)
	}
	return okPayload, nil
}

func (d *Dispatcher) grantPermission(ctx context.Context, req Request) (any, error) {
	id, err := parseID(param(req.Params, 2), "policyId")
	if err != nil {
		return nil, err
	}
	u, err := d.svc.Grants.Grant(ctx, param(req.Params, 0), param(req.Params, 1), id, optional(req.Params, 3))
	if err != nil {
		return nil, err
	}
	return grantPayload(u), nil
}

func (d *Dispatcher) revokePermission(ctx context.Context, req Request) (any, error) {
	if err := d.svc.Grants.Revoke(ctx, param(req.Params, 0), param(req.Params, 1)); err != nil {
		return nil, err
	}
	return okPayload, nil
}

func (d *Dispatcher) revokeUser(ctx context.Context, req Request) (any, error) {
	id, err := parseID(param(req.Params, 0), "keyUserId")
	if err != nil {
		return nil, err
	}
	if err := d.svc.Grants.RevokeByID(ctx, id); err != nil {
		return nil, err
	}
	return okPayload, nil
}

func (d *Dispatcher) getPermissions(ctx context.Context, req Request) (any, error) {
	u, err := d.svc.Grants.Get(ctx, param(req.Params, 0), param(req.Params, 1))
	if err != nil {
		return nil, err
	}
	return permissionPayload(u), nil
}

func (d *Dispatcher) getKeyUsers(ctx context.Context, req Request) (any, error) {
	users, err := d.svc.Grants.ListForKey(ctx, param(req.Params, 0))
	if err != nil {
		return nil, err
	}
	out := make([]PermissionPayload, 0, len(users))
	for _, u := range users {
		out = append(out, permissionPayload(u))
	}
	return out, nil
}

func (d *Dispatcher) renameKeyUser(ctx context.Context, req Request) (any, error) {
	if _, err := d.svc.Grants.Rename(ctx, param(req.Params, 0), param(req.Params, 1), param(req.Params, 2)); err != nil {
		return nil, err
	}
	return okPayload, nil
}

func (d *Dispatcher) createNewToken(ctx context.Context, req Request) (any, error) {
	id, err := parseID(param(req.Params, 2), "policyId")
	if err != nil {
		return nil, err
	}
	var ttl *int
	if raw := optional(req.Params, 3); raw != nil {
		n, err := strconv.Atoi(strings.TrimSpace(*raw))
		if err != nil {
			return nil, fmt.Errorf("%w: ttlHours must be an integer", service.ErrInvalidParams)
		}
		ttl = &n
	}
	issued, err := d.svc.Tokens.Issue(ctx, param(req.Params, 0), param(req.Params, 1), id, req.Caller, ttl)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": issued.ID, "token": issued.Token}, nil
}

func (d *Dispatcher) getToken(ctx context.Context, req Request) (any, error) {
	id, err := parseID(param(req.Params, 0), "tokenId")
	if err != nil {
		return nil, err
	}
	t, err := d.svc.Tokens.Describe(ctx, id)
	if err != nil {
		return nil, err
	}
	return tokenPayload(t), nil
}

func (d *Dispatcher) getTokens(ctx context.Context, req Request) (any, error) {
	list, err := d.svc.Tokens.ListForKey(ctx, param(req.Params, 0))
	if err != nil {
		return nil, err
	}
	out := make([]TokenPayload, 0, len(list))
	for _, t := range list {
		out = append(out, tokenPayload(t))
	}
	return out, nil
}

func (d *Dispatcher) revokeToken(ctx context.Context, req Request) (any, error) {
	id, err := parseID(param(req.Params, 0), "tokenId")
	if err != nil {
		return nil, err
	}
	if err := d.svc.Tokens.Revoke(ctx, id); err != nil {
		return nil, err
	}
	return okPayload, nil
}

func (d *Dispatcher) validateToken(ctx context.Context, req Request) (any, error) {
	v, err := d.svc.Tokens.Validate(ctx, param(req.Params, 0))
	if err != nil {
		return nil, err
	}
	return validationPayload(v), nil
}

func (d *Dispatcher) redeemToken(ctx context.Context, req Request) (any, error) {
	u, err := d.svc.Tokens.Redeem(ctx, param(req.Params, 0), param(req.Params, 1))
	if err != nil {
		return nil, err
	}
	return grantPayload(u), nil
}
