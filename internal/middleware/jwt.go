// Package middleware holds the echo middleware of the admin API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bunker-admin/internal/utils"
)

// Context keys set by JWTAuth.
const (
	CtxAdminPubkey = "admin_pubkey"
	CtxRole        = "role"
)

// RoleAdmin is the only role an access token is issued with today.
const RoleAdmin = "ADMIN"

// JWTAuth validates a Bearer access token and stores the admin's hex pubkey
// and role in the echo context.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(CtxAdminPubkey, claims.Subject)
			c.Set(CtxRole, claims.Role)
			return next(c)
		}
	}
}

// AdminPubkey returns the authenticated admin, or "" on public routes.
func AdminPubkey(c echo.Context) string {
	if v, ok := c.Get(CtxAdminPubkey).(string); ok {
		return v
	}
	return ""
}
