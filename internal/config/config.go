package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

type APIConfig struct {
	Addr           string `env:"TYCOON_API_ADDR" envDefault:":8080"`
	LogLevel       string `env:"TYCOON_LOG_LEVEL" envDefault:"info"`
	Store          string `env:"TYCOON_STORE" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	SQLitePath     string `env:"TYCOON_SQLITE_PATH" envDefault:"tycoon.db"`
	CatalogFile    string `env:"TYCOON_CATALOG_FILE"`
	JWTSecret      string `env:"TYCOON_JWT_SECRET"`
	InternalToken  string `env:"TYCOON_INTERNAL_TOKEN"`
	StarterBalance int64  `env:"TYCOON_STARTER_BALANCE" envDefault:"5000"`
	RiskSeed       int64  `env:"TYCOON_RISK_SEED"`

	SettlePageSize    int           `env:"TYCOON_SETTLE_PAGE_SIZE" envDefault:"200"`
	SettleParallel    int           `env:"TYCOON_SETTLE_PARALLEL" envDefault:"8"`
	SettlePassTimeout time.Duration `env:"TYCOON_SETTLE_PASS_TIMEOUT" envDefault:"10m"`

	NotifyTimeout time.Duration `env:"TYCOON_NOTIFY_TIMEOUT" envDefault:"5s"`
	NotifyQueue   int           `env:"TYCOON_NOTIFY_QUEUE" envDefault:"256"`
	DiscordToken  string        `env:"TYCOON_DISCORD_TOKEN"`
}

type WorkerConfig struct {
	LogLevel      string        `env:"TYCOON_LOG_LEVEL" envDefault:"info"`
	APIBaseURL    string        `env:"TYCOON_API_BASE_URL" envDefault:"http://localhost:8080"`
	InternalToken string        `env:"TYCOON_INTERNAL_TOKEN"`
	SettleEvery   time.Duration `env:"TYCOON_SETTLE_EVERY" envDefault:"30m"`
	RunOnce       bool          `env:"TYCOON_WORKER_RUN_ONCE"`
}

type CLIConfig struct {
	APIBaseURL string `env:"TYC_API_BASE_URL" envDefault:"http://localhost:8080"`
	JWTSecret  string `env:"TYCOON_JWT_SECRET"`
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)

	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case StoreSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return cfg, fmt.Errorf("TYCOON_SQLITE_PATH is required for the sqlite store")
		}
	case StoreMemory:
	default:
		return cfg, fmt.Errorf("TYCOON_STORE must be postgres, sqlite or memory, got %q", cfg.Store)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return cfg, fmt.Errorf("TYCOON_JWT_SECRET is required")
	}
	if strings.TrimSpace(cfg.InternalToken) == "" {
		return cfg, fmt.Errorf("TYCOON_INTERNAL_TOKEN is required")
	}
	if cfg.StarterBalance < 0 {
		return cfg, fmt.Errorf("TYCOON_STARTER_BALANCE must be >= 0")
	}
	if cfg.SettlePageSize <= 0 || cfg.SettleParallel <= 0 {
		return cfg, fmt.Errorf("settlement page size and parallelism must be > 0")
	}
	if cfg.NotifyQueue <= 0 {
		cfg.NotifyQueue = 256
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if strings.TrimSpace(cfg.InternalToken) == "" {
		return cfg, fmt.Errorf("TYCOON_INTERNAL_TOKEN is required")
	}
	if cfg.SettleEvery < time.Minute {
		cfg.SettleEvery = time.Minute
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	var cfg CLIConfig
	_ = env.Parse(&cfg)
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	return cfg
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything
// else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
