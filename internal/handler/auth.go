package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/config"
	"github.com/iliyamo/bunker-admin/internal/middleware"
	"github.com/iliyamo/bunker-admin/internal/utils"
)

// AuthHandler issues admin access tokens.  There is a single admin
// identity, configured by ADMIN_PUBKEY and ADMIN_PASSWORD_HASH.
type AuthHandler struct {
	Cfg         config.Config
	adminPubkey string
	log         *zap.Logger
}

// NewAuthHandler normalizes the configured admin pubkey (hex or npub).
func NewAuthHandler(cfg config.Config, log *zap.Logger) (*AuthHandler, error) {
	pub, err := utils.NormalizePublicKey(strings.TrimSpace(cfg.AdminPubkey))
	if err != nil {
		return nil, err
	}
	return &AuthHandler{Cfg: cfg, adminPubkey: pub, log: log}, nil
}

type loginReq struct {
	Pubkey   string `json:"pubkey"`
	Password string `json:"password"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type adminPart struct {
	Pubkey string `json:"pubkey"`
	Role   string `json:"role"`
}

type loginResp struct {
	Admin  adminPart `json:"admin"`
	Access tokenPart `json:"access"`
}

// Login verifies the admin credentials and returns an access token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.Pubkey) == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "pubkey/password required"})
	}
	pub, err := utils.NormalizePublicKey(strings.TrimSpace(req.Pubkey))
	if err != nil || pub != h.adminPubkey || !utils.VerifyPassword(h.Cfg.AdminPasswordHash, req.Password) {
		middleware.Logger(c, h.log).Info("admin login rejected", zap.String("pubkey", req.Pubkey))
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, pub, middleware.RoleAdmin, h.Cfg.AccessTTLMin)
	if err != nil {
		middleware.Logger(c, h.log).Error("issue access token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(http.StatusOK, loginResp{
		Admin:  adminPart{Pubkey: pub, Role: middleware.RoleAdmin},
		Access: tokenPart{Token: access.Token, Expires: access.Exp},
	})
}
