package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/wimi-app/wimi/internal/app"
	"github.com/wimi-app/wimi/internal/config"
	"github.com/wimi-app/wimi/internal/logger"
)

func main() {
	cfg := config.Load()

	flush := logger.Init(logger.Options{
		IsDev:     cfg.IsDevelopment(),
		SentryDSN: cfg.SentryDSN,
		File:      cfg.LogFile,
	})
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		flush()
		os.Exit(1)
	}
	defer func() {
		closeErr := app.Close()
		if closeErr != nil {
			slog.Error("failed to close app", "error", closeErr)
		}
	}()

	app.Scheduler.Start()
	slog.Info("worker starting", "env", cfg.AppEnv, "db_driver", cfg.DBDriver, "redis", cfg.RedisURL != "")

	if cfg.RestoreOnBoot {
		err = app.ScheduleService.Restore(ctx)
		if err != nil {
			slog.Error("failed to restore participant jobs", "error", err)
		}
	}

	<-ctx.Done()
	slog.Info("worker shutting down")
}
