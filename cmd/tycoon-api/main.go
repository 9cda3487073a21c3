package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tycoon/internal/api"
	"tycoon/internal/auth"
	"tycoon/internal/catalog"
	"tycoon/internal/config"
	"tycoon/internal/db"
	"tycoon/internal/domain"
	"tycoon/internal/emergency"
	"tycoon/internal/game"
	"tycoon/internal/ledger"
	"tycoon/internal/notify"
	"tycoon/internal/store"
	"tycoon/internal/store/memstore"
	"tycoon/internal/store/pgstore"
	"tycoon/internal/store/sqlitestore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.APIConfig, logger *slog.Logger) error {
	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return err
	}

	st, led, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	signer, err := auth.NewSigner(cfg.JWTSecret)
	if err != nil {
		return err
	}

	board := emergency.NewBoard(emergency.WithLogger(logger))
	go board.Run(ctx, time.Minute)

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer notifier.Close()

	deps := game.Deps{
		Store:          st,
		Catalog:        cat,
		Board:          board,
		Ledger:         led,
		Notifier:       notifier,
		StarterBalance: cfg.StarterBalance,
	}
	gameSvc := game.NewService(deps, logger)
	settler := game.NewSettler(deps, game.NewRiskGenerator(game.NewRandRoller(cfg.RiskSeed)), game.SettlerConfig{
		PageSize:    cfg.SettlePageSize,
		Parallel:    cfg.SettleParallel,
		PassTimeout: cfg.SettlePassTimeout,
	}, logger)

	server := api.New(cfg, logger, signer, gameSvc, settler)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("tycoon api listening", "addr", cfg.Addr, "store", cfg.Store, "catalog_types", len(cat.IDs()))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// openStore returns the configured store and the ledger that goes with it.
// The database backends keep wallets in the same database so debits commit
// with the investment row.
func openStore(ctx context.Context, cfg config.APIConfig) (store.Store, domain.Ledger, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("db migrate: %w", err)
		}
		st := pgstore.New(pool)
		return st, st, pool.Close, nil
	case config.StoreSQLite:
		st, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, st, func() { _ = st.Close() }, nil
	default:
		return memstore.New(), ledger.NewMemory(), func() {}, nil
	}
}

func buildNotifier(cfg config.APIConfig, logger *slog.Logger) (*notify.Async, error) {
	targets := notify.Fanout{notify.NewLog(logger)}
	if strings.TrimSpace(cfg.DiscordToken) != "" {
		d, err := notify.NewDiscord(cfg.DiscordToken)
		if err != nil {
			return nil, err
		}
		d.Recipient = discordRecipient
		targets = append(targets, d)
	}
	return notify.NewAsync(targets, cfg.NotifyQueue, 4, cfg.NotifyTimeout, logger), nil
}

// discordRecipient accepts owner ids that are Discord user snowflakes.
func discordRecipient(ownerID string) (string, bool) {
	if ownerID == "" {
		return "", false
	}
	for _, r := range ownerID {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return ownerID, true
}
