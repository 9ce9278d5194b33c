package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fractiverse/internal/api"
	"fractiverse/internal/app"
	"fractiverse/internal/config"
	"fractiverse/internal/logger"
	"fractiverse/internal/observe"
	"fractiverse/internal/repository/postgres"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		logger.Log.WithError(err).Fatal("Server exited with error")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appConfig, err := config.LoadConfig()
	if err != nil {
		return err
	}

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "fractiverse",
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Log.WithError(err).Warn("Failed to flush telemetry")
		}
	}()

	logger.Log.Info("Initializing database...")
	database, err := postgres.NewPostgresDB(ctx, appConfig.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	cfg := app.NewConfig(database, appConfig)
	if cfg.LLM == nil {
		logger.Log.Warn("No LLM credential configured, chat completions will return 500")
	}

	server := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           api.NewRouter(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Log.WithFields(logrus.Fields{
			"port":            appConfig.Server.Port,
			"model":           appConfig.LLM.Model,
			"cost_model":      appConfig.Quota.CostModel,
			"min_cost":        appConfig.Quota.MinCost,
			"remote_identity": cfg.UsesRemoteIdentity(),
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
