package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/keystore"
	"github.com/iliyamo/bunker-admin/internal/repository/memstore"
	"github.com/iliyamo/bunker-admin/internal/service"
	"github.com/iliyamo/bunker-admin/internal/utils"
)

const adminHex = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	store := memstore.New()
	log := zap.NewNop()
	events := service.NopPublisher{}
	keys := service.NewKeyService(store, keystore.NewFileVault(t.TempDir(), 10), keystore.NewKeyring(), events, log)
	policies := service.NewPolicyService(store, events, log)
	grants := service.NewGrantService(store, policies, events, log)
	tokens := service.NewTokenService(store, store, policies, grants, events, log)
	return NewDispatcher(Services{Keys: keys, Policies: policies, Grants: grants, Tokens: tokens}, log)
}

func call(t *testing.T, d *Dispatcher, method string, params ...string) (any, error) {
	t.Helper()
	return d.Dispatch(context.Background(), Request{ID: "1", Method: method, Params: params, Caller: adminHex})
}

func mustCall(t *testing.T, d *Dispatcher, method string, params ...string) any {
	t.Helper()
	out, err := call(t, d, method, params...)
	require.NoError(t, err, method)
	return out
}

func TestPing(t *testing.T) {
	d := newDispatcher(t)
	assert.Equal(t, "ok", mustCall(t, d, "ping"))
}

func TestDispatchRejectsBadRequests(t *testing.T) {
	d := newDispatcher(t)

	_, err := call(t, d, "drop_tables")
	assert.ErrorIs(t, err, service.ErrInvalidParams)

	_, err = call(t, d, "grant_permission", "k1", adminHex)
	assert.ErrorIs(t, err, service.ErrInvalidParams)

	_, err = call(t, d, "get_policy", "abc")
	assert.ErrorIs(t, err, service.ErrInvalidParams)

	_, err = call(t, d, "create_new_token", "k1", "app", "1", "soon")
	assert.ErrorIs(t, err, service.ErrInvalidParams)
}

func TestDispatchCountsOutcomes(t *testing.T) {
	d := newDispatcher(t)
	before := testutil.ToFloat64(CommandsTotal.WithLabelValues("get_policy", KindNotFound))
	_, err := call(t, d, "get_policy", "404")
	require.ErrorIs(t, err, service.ErrNotFound)
	assert.Equal(t, before+1, testutil.ToFloat64(CommandsTotal.WithLabelValues("get_policy", KindNotFound)))
}

func TestKeyCommands(t *testing.T) {
	d := newDispatcher(t)

	out := mustCall(t, d, "create_new_key", "k1", "hunter2")
	npub := out.(map[string]string)["npub"]
	assert.Regexp(t, "^npub1", npub)

	k := mustCall(t, d, "get_key", "k1").(KeyPayload)
	assert.Equal(t, npub, *k.Npub)
	assert.False(t, k.Locked)

	unlocked := mustCall(t, d, "unlock_key", "k1", "wrong").(unlockPayload)
	assert.False(t, unlocked.Success)
	assert.NotEmpty(t, unlocked.Error)
	unlocked = mustCall(t, d, "unlock_key", "k1", "hunter2").(unlockPayload)
	assert.True(t, unlocked.Success)

	_, err := call(t, d, "unlock_key", "nope", "hunter2")
	assert.ErrorIs(t, err, service.ErrNotFound)

	rot := mustCall(t, d, "rotate_key", "k1", "k2", "hunter2").(map[string]any)
	assert.Equal(t, "k2", rot["name"])

	keys := mustCall(t, d, "get_keys").([]KeyPayload)
	assert.Len(t, keys, 2)

	assert.Equal(t, okPayload, mustCall(t, d, "delete_key", "k2"))
	_, err = call(t, d, "delete_key", "k2")
	assert.ErrorIs(t, err, service.ErrAlreadyDeleted)
}

func TestPermissionAndTokenFlow(t *testing.T) {
	d := newDispatcher(t)
	mustCall(t, d, "create_new_key", "k1", "pw")

	p := mustCall(t, d, "create_new_policy", `{"name":"signing","rules":[{"method":"sign_event","kind":1},{"kind":"4"}]}`).(PolicyPayload)
	require.Len(t, p.Rules, 2)
	pid := strconv.FormatUint(p.ID, 10)

	alice := "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e"
	g := mustCall(t, d, "grant_permission", "k1", alice, pid, "laptop").(GrantPayload)
	assert.Equal(t, alice, g.UserPubkey)

	perm := mustCall(t, d, "get_permissions", "k1", alice).(PermissionPayload)
	assert.True(t, perm.Active)
	assert.Len(t, perm.SigningConditions, 2)

	assert.Equal(t, okPayload, mustCall(t, d, "rename_key_user", alice, "desktop", "k1"))
	users := mustCall(t, d, "get_key_users", "k1").([]PermissionPayload)
	require.Len(t, users, 1)
	assert.Equal(t, "desktop", *users[0].Description)

	assert.Equal(t, okPayload, mustCall(t, d, "revoke_permission", "k1", alice))
	_, err := call(t, d, "revoke_user", fmt.Sprint(g.ID))
	assert.ErrorIs(t, err, service.ErrAlreadyRevoked)

	issued := mustCall(t, d, "create_new_token", "k1", "my app", pid, "24").(map[string]any)
	token := issued["token"].(string)
	tid := fmt.Sprint(issued["id"])

	v := mustCall(t, d, "validate_token", token).(ValidationPayload)
	assert.True(t, v.Valid)
	assert.Equal(t, "k1", v.KeyName)

	bobNpub, err := utils.EncodeNpub(adminHex)
	require.NoError(t, err)
	redeemed := mustCall(t, d, "redeem_token", token, bobNpub).(GrantPayload)
	assert.Equal(t, adminHex, redeemed.UserPubkey)

	detail := mustCall(t, d, "get_token", tid).(TokenPayload)
	assert.Equal(t, token, detail.Token)
	assert.Equal(t, adminHex, detail.CreatedBy)
	require.NotNil(t, detail.RedeemedBy)
	assert.Equal(t, "my app", *detail.RedeemedBy)

	list := mustCall(t, d, "get_tokens", "k1").([]TokenPayload)
	assert.Len(t, list, 1)

	assert.Equal(t, okPayload, mustCall(t, d, "revoke_token", tid))
	v = mustCall(t, d, "validate_token", token).(ValidationPayload)
	assert.False(t, v.Valid)
	assert.Equal(t, service.ReasonRevoked, v.Reason)
}

func TestDeletePolicyRunsHook(t *testing.T) {
	d := newDispatcher(t)
	var purged []uint64
	d.OnPolicyDeleted = func(_ context.Context, id uint64) { purged = append(purged, id) }

	p := mustCall(t, d, "create_new_policy", `{"name":"p","rules":[]}`).(PolicyPayload)
	pid := strconv.FormatUint(p.ID, 10)
	mustCall(t, d, "delete_policy", pid)
	assert.Equal(t, []uint64{p.ID}, purged)

	_, err := call(t, d, "delete_policy", pid)
	assert.ErrorIs(t, err, service.ErrAlreadyDeleted)
	assert.Len(t, purged, 1)

	_, err = call(t, d, "get_policy", pid)
	assert.ErrorIs(t, err, service.ErrDeleted)
}

func TestNegativeValidationPayloadShape(t *testing.T) {
	raw, err := json.Marshal(validationPayload(&service.Validation{Reason: service.ReasonNotFound}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"valid":false,"reason":"not found"}`, string(raw))
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: x", service.ErrInvalidParams), KindInvalidParams},
		{fmt.Errorf("key 'a' %w", service.ErrNotFound), KindNotFound},
		{fmt.Errorf("key 'a' %w", service.ErrDeleted), KindDeleted},
		{fmt.Errorf("a %w", service.ErrAlreadyDeleted), KindAlreadyDeleted},
		{fmt.Errorf("a %w", service.ErrAlreadyRevoked), KindAlreadyRevoked},
		{fmt.Errorf("a %w", service.ErrConflict), KindConflict},
		{fmt.Errorf("dial tcp: connection refused"), KindInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ErrorKind(c.err), c.err.Error())
	}
	assert.Equal(t, "internal error", PublicMessage(fmt.Errorf("boom")))
	assert.Equal(t, "key 'a' not found", PublicMessage(fmt.Errorf("key 'a' %w", service.ErrNotFound)))
}
