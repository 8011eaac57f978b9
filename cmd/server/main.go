package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/admin"
	"github.com/iliyamo/bunker-admin/internal/config"
	"github.com/iliyamo/bunker-admin/internal/handler"
	"github.com/iliyamo/bunker-admin/internal/keystore"
	"github.com/iliyamo/bunker-admin/internal/logger"
	"github.com/iliyamo/bunker-admin/internal/middleware"
	"github.com/iliyamo/bunker-admin/internal/queue"
	"github.com/iliyamo/bunker-admin/internal/router"
	"github.com/iliyamo/bunker-admin/internal/service"
	"github.com/iliyamo/bunker-admin/internal/utils"
)

func main() {
	envFile := pflag.String("env-file", "", "dotenv file loaded before reading the environment")
	hashPassword := pflag.String("hash-password", "", "print a bcrypt hash for ADMIN_PASSWORD_HASH and exit")
	pflag.Parse()

	if *hashPassword != "" {
		hash, err := utils.HashPassword(*hashPassword, 12)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(hash)
		return
	}
	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Fatalf("load env file: %v", err)
	}

	cfg := config.Load()
	zl := logger.NewLogger(cfg.LogLevel, cfg.Env)
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStores(cfg, zl)
	if err != nil {
		return err
	}
	defer closeStore()

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.AMQPEnabled {
		events = queue.NewAuditPublisher(cfg.RabbitURL, zl.Named("audit"))
	}

	vault := keystore.NewFileVault(cfg.KeystoreDir, cfg.ScryptWorkFactor)
	keyring := keystore.NewKeyring()
	keys := service.NewKeyService(st.keys, vault, keyring, events, zl.Named("keys"))
	policies := service.NewPolicyService(st.policies, events, zl.Named("policies"))
	grants := service.NewGrantService(st.grants, policies, events, zl.Named("grants"))
	tokens := service.NewTokenService(st.tokens, st.keys, policies, grants, events, zl.Named("tokens"))
	dispatcher := admin.NewDispatcher(admin.Services{Keys: keys, Policies: policies, Grants: grants, Tokens: tokens}, zl.Named("admin"))

	rdb := config.NewRedisClient()
	if rdb == nil {
		zl.Warn("redis unavailable; rate limiting and caching disabled")
	} else {
		defer rdb.Close()
	}
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, zl.Named("cache"))
	dispatcher.OnPolicyDeleted = func(ctx context.Context, id uint64) {
		cache.Purge(ctx, router.PolicyPath(id))
	}

	if cfg.AMQPEnabled {
		go queue.NewRPCServer(cfg.RabbitURL, dispatcher, zl.Named("rpc")).Run(ctx)
		go queue.NewAuditConsumer(cfg.RabbitURL, cfg.AuditLogPath, zl.Named("audit-consumer")).Run(ctx)
	}

	auth, err := handler.NewAuthHandler(cfg, zl.Named("auth"))
	if err != nil {
		return fmt.Errorf("ADMIN_PUBKEY: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger(zl.Named("http")))
	router.RegisterRoutes(e)
	router.RegisterAPI(e, router.Deps{
		JWTSecret: cfg.JWTSecret,
		Auth:      auth,
		Admin:     handler.NewAdminHandler(dispatcher),
		Redis:     rdb,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     cache,
		Log:       zl.Named("ratelimit"),
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		zl.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
