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

	cl "tycoon/internal/cli"
	"tycoon/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLevel(cfg.LogLevel)}))
	client := cl.NewClient(cfg.APIBaseURL)
	// A pass can take as long as the server's pass timeout.
	client.HTTP.Timeout = 0

	if cfg.RunOnce {
		if err := settle(ctx, client, cfg, logger); err != nil {
			logger.Error("settlement failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.SettleEvery)
	defer ticker.Stop()

	logger.Info("worker started", "settle_every", cfg.SettleEvery.String(), "api", cfg.APIBaseURL)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := settle(ctx, client, cfg, logger); err != nil {
				logger.Error("settlement failed", "err", err)
			}
		}
	}
}

func settle(ctx context.Context, client *cl.Client, cfg config.WorkerConfig, logger *slog.Logger) error {
	report, err := client.RunSettlement(ctx, cfg.InternalToken)
	if err != nil {
		var apiErr *cl.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			logger.Info("settlement pass already running, skipping tick")
			return nil
		}
		return err
	}
	logger.Info("settlement pass complete",
		"scanned", report.Scanned,
		"settled", report.Settled,
		"failed", report.Failed,
		"minor", report.Minor,
		"catastrophic", report.Catastrophic,
		"shutdowns", report.Shutdowns,
		"duration", report.Duration.String(),
		"timed_out", report.TimedOut,
	)
	return nil
}
