package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bunker-admin/internal/admin"
	"github.com/iliyamo/bunker-admin/internal/middleware"
)

// commandTimeout bounds one admin command.  Rotation re-encrypts a key, so
// this leaves room for a slow scrypt work factor.
const commandTimeout = 30 * time.Second

// AdminHandler exposes the admin dispatcher over HTTP.
type AdminHandler struct {
	D *admin.Dispatcher
}

func NewAdminHandler(d *admin.Dispatcher) *AdminHandler { return &AdminHandler{D: d} }

type rpcReq struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type rpcResp struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

func (h *AdminHandler) dispatch(c echo.Context, id, method string, params []string) (any, error) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), commandTimeout)
	defer cancel()
	return h.D.Dispatch(ctx, admin.Request{
		ID:     id,
		Method: method,
		Params: params,
		Caller: middleware.AdminPubkey(c),
	})
}

// RPC runs one command: {id, method, params} -> {id, result} or {id, error}.
func (h *AdminHandler) RPC(c echo.Context) error {
	var req rpcReq
	if err := c.Bind(&req); err != nil || req.Method == "" {
		return c.JSON(http.StatusBadRequest, rpcResp{ID: req.ID, Error: "invalid body", Kind: admin.KindInvalidParams})
	}
	out, err := h.dispatch(c, req.ID, req.Method, req.Params)
	if err != nil {
		return c.JSON(StatusFor(err), rpcResp{ID: req.ID, Error: admin.PublicMessage(err), Kind: admin.ErrorKind(err)})
	}
	return c.JSON(http.StatusOK, rpcResp{ID: req.ID, Result: out})
}

func (h *AdminHandler) respond(c echo.Context, method string, params ...string) error {
	out, err := h.dispatch(c, c.Response().Header().Get(echo.HeaderXRequestID), method, params)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// GetKey handles GET /v1/keys/:name.
func (h *AdminHandler) GetKey(c echo.Context) error {
	return h.respond(c, "get_key", c.Param("name"))
}

// GetPolicy handles GET /v1/policies/:id.
func (h *AdminHandler) GetPolicy(c echo.Context) error {
	return h.respond(c, "get_policy", c.Param("id"))
}

// GetToken handles GET /v1/tokens/:id.
func (h *AdminHandler) GetToken(c echo.Context) error {
	return h.respond(c, "get_token", c.Param("id"))
}

// GetPermissions handles GET /v1/keys/:name/users/:pubkey.
func (h *AdminHandler) GetPermissions(c echo.Context) error {
	return h.respond(c, "get_permissions", c.Param("name"), c.Param("pubkey"))
}

type validateReq struct {
	Token string `json:"token"`
}

// ValidateToken handles the public POST /v1/tokens/validate.
func (h *AdminHandler) ValidateToken(c echo.Context) error {
	var req validateReq
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}
	return h.respond(c, "validate_token", req.Token)
}
