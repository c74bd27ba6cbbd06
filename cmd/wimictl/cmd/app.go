package cmd

import (
	"context"
	"log/slog"

	"github.com/wimi-app/wimi/internal/app"
	"github.com/wimi-app/wimi/internal/config"
	"github.com/wimi-app/wimi/internal/logger"
)

// withApp runs fn against a fully wired app. The scheduler is never started,
// so nothing fires in the CLI process.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg := config.Load()

	flush := logger.Init(logger.Options{IsDev: cfg.IsDevelopment(), SentryDSN: cfg.SentryDSN})
	defer flush()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("failed to close app", "error", closeErr)
		}
	}()

	return fn(a)
}
