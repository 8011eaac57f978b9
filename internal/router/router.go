// Package router registers the HTTP routes of the admin API.
package router

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/config"
	"github.com/iliyamo/bunker-admin/internal/handler"
	"github.com/iliyamo/bunker-admin/internal/middleware"
)

// Deps carries what the routes need.  Redis may be nil.
type Deps struct {
	JWTSecret string
	Auth      *handler.AuthHandler
	Admin     *handler.AdminHandler
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     *middleware.ResponseCache
	Log       *zap.Logger
}

// RegisterRoutes registers the unauthenticated probes.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", handler.Metrics)
}

// RegisterAPI registers login, the admin RPC endpoint, the REST read
// aliases and public token validation.
func RegisterAPI(e *echo.Echo, d Deps) {
	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log)

	e.POST("/v1/auth/login", d.Auth.Login, limit)
	e.POST("/v1/tokens/validate", d.Admin.ValidateToken, limit)

	g := e.Group("/v1", middleware.JWTAuth(d.JWTSecret), middleware.RequireRole(middleware.RoleAdmin))
	g.POST("/admin/rpc", d.Admin.RPC)
	g.GET("/keys/:name", d.Admin.GetKey)
	g.GET("/keys/:name/users/:pubkey", d.Admin.GetPermissions)
	g.GET("/policies/:id", d.Admin.GetPolicy, d.Cache.Middleware())
	g.GET("/tokens/:id", d.Admin.GetToken)
}

// PolicyPath is the cached path of a policy, used to purge it.
func PolicyPath(id uint64) string {
	return "/v1/policies/" + strconv.FormatUint(id, 10)
}
