package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/admin"
	"github.com/iliyamo/bunker-admin/internal/config"
	"github.com/iliyamo/bunker-admin/internal/handler"
	"github.com/iliyamo/bunker-admin/internal/keystore"
	"github.com/iliyamo/bunker-admin/internal/middleware"
	"github.com/iliyamo/bunker-admin/internal/repository/memstore"
	"github.com/iliyamo/bunker-admin/internal/service"
	"github.com/iliyamo/bunker-admin/internal/utils"
)

const (
	adminHex = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
	password = "correct horse"
)

type api struct {
	e     *echo.Echo
	token string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	hash, err := utils.HashPassword(password, 4)
	require.NoError(t, err)
	cfg := config.Config{JWTSecret: "secret", AccessTTLMin: 5, AdminPubkey: adminHex, AdminPasswordHash: hash}

	log := zap.NewNop()
	store := memstore.New()
	events := service.NopPublisher{}
	keys := service.NewKeyService(store, keystore.NewFileVault(t.TempDir(), 10), keystore.NewKeyring(), events, log)
	policies := service.NewPolicyService(store, events, log)
	grants := service.NewGrantService(store, policies, events, log)
	tokens := service.NewTokenService(store, store, policies, grants, events, log)
	d := admin.NewDispatcher(admin.Services{Keys: keys, Policies: policies, Grants: grants, Tokens: tokens}, log)

	auth, err := handler.NewAuthHandler(cfg, log)
	require.NoError(t, err)

	e := echo.New()
	e.Use(middleware.RequestLogger(log))
	RegisterRoutes(e)
	RegisterAPI(e, Deps{
		JWTSecret: cfg.JWTSecret,
		Auth:      auth,
		Admin:     handler.NewAdminHandler(d),
		Cache:     middleware.NewResponseCache(config.CacheConfig{}, nil, log),
		Log:       log,
	})
	return &api{e: e}
}

func (a *api) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if a.token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+a.token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func (a *api) login(t *testing.T) {
	t.Helper()
	npub, err := utils.EncodeNpub(adminHex)
	require.NoError(t, err)
	rec := a.do(t, http.MethodPost, "/v1/auth/login", `{"pubkey":"`+npub+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Access struct {
			Token string `json:"token"`
		} `json:"access"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	a.token = resp.Access.Token
}

type rpcResult struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
	Kind   string          `json:"kind"`
}

func (a *api) rpc(t *testing.T, method string, params ...string) (int, rpcResult) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"id": "r1", "method": method, "params": params})
	require.NoError(t, err)
	rec := a.do(t, http.MethodPost, "/v1/admin/rpc", string(body))
	var out rpcResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = a.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodPost, "/v1/auth/login", `{"pubkey":"`+adminHex+`","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/auth/login", `{"pubkey":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRPCRequiresAuth(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodPost, "/v1/admin/rpc", `{"method":"ping"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRPCStatusMapping(t *testing.T) {
	a := newAPI(t)
	a.login(t)

	code, out := a.rpc(t, "ping")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "r1", out.ID)
	assert.JSONEq(t, `"ok"`, string(out.Result))

	code, out = a.rpc(t, "no_such_command")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, admin.KindInvalidParams, out.Kind)

	code, out = a.rpc(t, "get_policy", "12")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "policy with id '12' not found", out.Error)

	code, out = a.rpc(t, "create_new_policy", `{"name":"p","rules":[{"kind":1}]}`)
	require.Equal(t, http.StatusOK, code, out.Error)
	code, _ = a.rpc(t, "create_new_policy", `{"name":"p","rules":[]}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = a.rpc(t, "delete_policy", "1")
	assert.Equal(t, http.StatusOK, code)
	code, _ = a.rpc(t, "get_policy", "1")
	assert.Equal(t, http.StatusGone, code)
	code, _ = a.rpc(t, "delete_policy", "1")
	assert.Equal(t, http.StatusConflict, code)
}

func TestRESTAliasesAndValidate(t *testing.T) {
	a := newAPI(t)
	a.login(t)

	code, out := a.rpc(t, "create_new_key", "k1", "pw")
	require.Equal(t, http.StatusOK, code, out.Error)
	code, out = a.rpc(t, "create_new_policy", `{"name":"p","rules":[{"kind":1}]}`)
	require.Equal(t, http.StatusOK, code, out.Error)
	code, out = a.rpc(t, "create_new_token", "k1", "app", "1")
	require.Equal(t, http.StatusOK, code, out.Error)
	var issued struct {
		ID    uint64 `json:"id"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(out.Result, &issued))

	rec := a.do(t, http.MethodGet, "/v1/keys/k1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"k1"`)

	rec = a.do(t, http.MethodGet, "/v1/policies/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/v1/policies/x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/tokens/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), issued.Token)

	rec = a.do(t, http.MethodGet, "/v1/keys/k1/users/"+adminHex, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	a.token = ""
	rec = a.do(t, http.MethodPost, "/v1/tokens/validate", `{"token":"`+issued.Token+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":true`)

	rec = a.do(t, http.MethodPost, "/v1/tokens/validate", `{"token":"unknown"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":false,"reason":"not found"}`, rec.Body.String())
}
