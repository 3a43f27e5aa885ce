package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/probeworks/probemeter/internal/config"
	"github.com/probeworks/probemeter/internal/httpapi"
	apimw "github.com/probeworks/probemeter/internal/httpapi/middleware"
	"github.com/probeworks/probemeter/internal/ledger"
	"github.com/probeworks/probemeter/internal/logging"
	"github.com/probeworks/probemeter/internal/notify"
	"github.com/probeworks/probemeter/internal/probe"
	"github.com/probeworks/probemeter/internal/repo"
	"github.com/probeworks/probemeter/internal/repo/postgres"
	"github.com/probeworks/probemeter/internal/repo/sqlite"
	"github.com/probeworks/probemeter/internal/scheduler"
	"github.com/probeworks/probemeter/internal/service"
	"github.com/probeworks/probemeter/internal/sink"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.New(cfg.LogDir)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store repo.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			log.Fatal(err)
		}
		defer pg.Close()
		store = pg
		logger.Info("storage_postgres")
	} else {
		sq, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			log.Fatal(err)
		}
		defer sq.Close()
		store = sq
		logger.Info("storage_sqlite", zap.String("path", cfg.SQLitePath))
	}

	var notifier notify.Notifier
	if wh := notify.NewWebhook(cfg.WebhookURL); wh != nil {
		notifier = wh
	}

	lg := ledger.New(store, logger, notifier)
	sk := sink.New(store)
	svc := service.New(store, lg, logger)
	prober := probe.NewProber(cfg.HTTPTimeout, cfg.PortTimeout)

	engine := scheduler.New(
		logger, store, store, lg, sk, prober,
		cfg.Tick, cfg.MinInterval, cfg.Concurrency, cfg.PauseFile,
	)
	go engine.Run(ctx)

	api := httpapi.NewServer(logger, svc, cfg.PauseFile)
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	router := api.Router(keys, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst)

	logger.Info("api_listen", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		log.Fatal(err)
	}
}
