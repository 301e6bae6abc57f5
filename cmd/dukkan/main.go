// dukkan serves the storefront API: catalog, carts, checkout with WhatsApp
// handoff, the loyalty program and the back-office.
//
// State is kept in memory unless a MySQL DSN is configured, in which case
// catalog, orders, loyalty and notifications are persisted there. Carts
// always live in memory.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dukkan-app/dukkan/internal/api"
	"github.com/dukkan-app/dukkan/internal/config"
	"github.com/dukkan-app/dukkan/internal/ops"
	"github.com/dukkan-app/dukkan/internal/push"
	"github.com/dukkan-app/dukkan/internal/server"
	"github.com/dukkan-app/dukkan/internal/store"
	"github.com/dukkan-app/dukkan/internal/store/sqlstore"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		log.Fatalf("dukkan: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	flags, err := server.ParseFlags("dukkan", args)
	if err != nil {
		return err
	}

	srv := server.New(flags, nil)
	logger := srv.Logger

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	if cfg.EnsureSecret() {
		logger.Warn("jwt_secret not set, generated a random one; back-office tokens will not survive a restart")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	memStore := store.New()
	memStore.SeedDefaults()
	if flags.SeedFile != "" {
		data, err := os.ReadFile(flags.SeedFile)
		if err != nil {
			return fmt.Errorf("reading seed file: %w", err)
		}
		if err := memStore.LoadState(data); err != nil {
			return fmt.Errorf("loading seed data: %w", err)
		}
		logger.Info("loaded seed data", "file", flags.SeedFile)
	}

	var backend store.Backend = memStore
	opsDeps := ops.Deps{State: memStore}
	if cfg.Database.DSN != "" {
		db, err := sqlstore.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		sqlStore := sqlstore.New(db)
		if err := sqlStore.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to mysql: %w", err)
		}
		if err := sqlStore.Migrate(ctx); err != nil {
			return err
		}
		if cfg.Database.Seed {
			seeded, err := sqlStore.Seed(ctx, memStore)
			if err != nil {
				return err
			}
			if seeded {
				logger.Info("seeded empty database with catalog fixtures")
			}
		}
		backend = sqlStore
		opsDeps = ops.Deps{Health: sqlStore}
		logger.Info("using mysql backend")
	}

	settings := config.NewSettings(cfg)
	pushClient := push.NewClient(push.Config{
		URL:        cfg.Push.URL,
		AppID:      cfg.Push.AppID,
		APIKey:     cfg.Push.APIKey,
		Segments:   cfg.Push.Segments,
		Logger:     logger,
		MaxRetries: cfg.Push.MaxRetries,
		RetryDelay: cfg.Push.RetryDelay.Duration,
	})
	if !pushClient.Enabled() {
		logger.Warn("push gateway not configured, notifications cannot be sent")
	}
	auth := api.NewAuthenticator(cfg.JWTSecret, cfg.AdminPassword, cfg.StatsPassword, cfg.TokenTTL.Duration)

	apiHandler := api.NewHandler(api.Deps{
		Store:    backend,
		Carts:    memStore,
		Config:   cfg,
		Settings: settings,
		Push:     pushClient,
		Auth:     auth,
		Mw:       srv.Middleware(),
		Logger:   logger,
	})
	apiHandler.Routes(srv.Router)

	// Operations control plane
	opsDeps.Mw = srv.Middleware()
	opsDeps.Push = pushClient
	opsDeps.Settings = settings
	opsDeps.Initial = settings.Get()
	opsDeps.Require = auth.Require(api.RoleAdmin)
	ops.NewHandler(opsDeps).Routes(srv.Router)

	logger.Info("dukkan ready",
		"port", flags.Port,
		"store", cfg.StoreNameEn,
		"open", settings.IsOpen(),
	)
	return srv.Serve(ctx)
}
