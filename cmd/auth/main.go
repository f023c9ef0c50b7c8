package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Skotchmaster/shop_auth/internal/config"
	"github.com/Skotchmaster/shop_auth/internal/db"
	"github.com/Skotchmaster/shop_auth/internal/events"
	"github.com/Skotchmaster/shop_auth/internal/hash"
	"github.com/Skotchmaster/shop_auth/internal/httpserver"
	"github.com/Skotchmaster/shop_auth/internal/jobs"
	"github.com/Skotchmaster/shop_auth/internal/logging"
	"github.com/Skotchmaster/shop_auth/internal/metrics"
	"github.com/Skotchmaster/shop_auth/internal/repo"
	"github.com/Skotchmaster/shop_auth/internal/service"
	"github.com/Skotchmaster/shop_auth/internal/tokens"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("auth service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.IntoContext(ctx, logger)

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DBDriver, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			logger.Warn("db close", "error", err)
		}
	}()
	if err := db.Migrate(gdb); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	publisher, closeEvents := buildPublisher(ctx, cfg, logger)
	defer closeEvents()

	minter, err := tokens.NewMinter(tokens.Settings{
		Secret:    []byte(cfg.JWT.SecretKey),
		Issuer:    cfg.JWT.Issuer,
		Audience:  cfg.JWT.Audience,
		AccessTTL: cfg.JWT.AccessTTL(),
	}, nil)
	if err != nil {
		return err
	}

	store := repo.New(gdb, cfg.JWT.RefreshTTL())
	svc, err := service.New(store, minter, hash.NewBcrypt(0),
		service.WithEvents(publisher),
		service.WithMetrics(m),
		service.WithReuseDetection(cfg.ReuseDetection),
	)
	if err != nil {
		return err
	}

	cleanup := jobs.NewTokenCleanup(store, cfg.CleanupInterval, cfg.TokenRetention, m)
	go cleanup.Run(ctx)

	e := httpserver.New(&httpserver.Deps{
		AuthHandler: &httpserver.AuthHTTP{Svc: svc},
		Metrics:     m,
		Logger:      logger,
		Ready: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("auth service listening", "addr", cfg.HTTPAddr)
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return e.Shutdown(shutdownCtx)
}

// buildPublisher wires the configured event sinks. Sinks that fail to start are skipped.
func buildPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) (events.Publisher, func()) {
	var (
		sinks   events.Multi
		closers []func() error
	)
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, kp)
		closers = append(closers, kp.Close)
	}
	if cfg.ESURL != "" {
		x, err := events.NewESIndexer(events.ESConfig{
			URL:      cfg.ESURL,
			User:     cfg.ESUser,
			Password: cfg.ESPassword,
			Index:    cfg.ESIndex,
		})
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = x.Ping(pingCtx)
			cancel()
		}
		if err != nil {
			logger.Warn("elasticsearch audit sink disabled", "error", err)
		} else {
			sinks = append(sinks, x)
		}
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("event sink close", "error", err)
			}
		}
	}
	if len(sinks) == 0 {
		return events.Nop{}, closeAll
	}
	return sinks, closeAll
}
