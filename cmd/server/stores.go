package main

import (
	"go.uber.org/zap"

	"github.com/iliyamo/bunker-admin/internal/config"
	"github.com/iliyamo/bunker-admin/internal/database"
	"github.com/iliyamo/bunker-admin/internal/repository"
	"github.com/iliyamo/bunker-admin/internal/repository/memstore"
	"github.com/iliyamo/bunker-admin/internal/service"
)

type stores struct {
	keys     service.KeyStore
	policies service.PolicyStore
	grants   service.GrantStore
	tokens   service.TokenStore
}

// openStores selects the backing store from STORE_DRIVER.  The returned
// func releases it.
func openStores(cfg config.Config, zl *zap.Logger) (stores, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		zl.Warn("using in-memory store; state is lost on restart")
		m := memstore.New()
		return stores{keys: m, policies: m, grants: m, tokens: m}, func() {}, nil
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return stores{}, nil, err
	}
	if err := database.Migrate(db, zl.Named("migrate")); err != nil {
		_ = db.Close()
		return stores{}, nil, err
	}
	return stores{
		keys:     repository.NewKeyRepo(db),
		policies: repository.NewPolicyRepo(db),
		grants:   repository.NewKeyUserRepo(db),
		tokens:   repository.NewTokenRepo(db),
	}, func() { _ = db.Close() }, nil
}
