package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresuchdata/batchsync/internal/api"
	"github.com/andresuchdata/batchsync/internal/app"
	"github.com/andresuchdata/batchsync/internal/config"
	"github.com/andresuchdata/batchsync/internal/repository/postgres"
	"github.com/andresuchdata/batchsync/internal/scheduler"
	"github.com/andresuchdata/batchsync/pkg/logger"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()

	logger.Configure(cfg.Log.Level, cfg.Log.Format)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	if cfg.Database.Enabled {
		if err := postgres.Migrate(ctx, cfg.Database); err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to migrate database")
		}
	}

	application, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer application.Close()

	// Reports cached by a previous deployment may describe another bucket or prefix.
	if err := application.Service.FlushStatusCache(ctx); err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to flush status cache")
	}

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched, err = scheduler.New(application.Service, cfg.Schedule.Cron)
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to configure schedule")
		}
		sched.Start()
	}

	router := api.NewRouter(&api.Services{Transfer: application.Service}, cfg.Server.AllowedOrigins)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info().Msg("Shutting down server...")

	// A transfer in flight gets a grace period before the process exits.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Log.Warn().Err(err).Msg("Scheduled transfer still running at shutdown")
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Log.Info().Msg("Server exiting")
}
