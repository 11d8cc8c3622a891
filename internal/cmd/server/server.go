// Package server parses reflex server flags and composes the demo
// entrypoint.
package server

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/louisbranch/reflex/internal/app/counter"
	entrypoint "github.com/louisbranch/reflex/internal/platform/cmd"
	"github.com/louisbranch/reflex/internal/reflex"
	"github.com/louisbranch/reflex/internal/server"
	"github.com/louisbranch/reflex/internal/session"
	"github.com/louisbranch/reflex/internal/storage/bbolt"
	"github.com/louisbranch/reflex/internal/storage/sqlite"
)

const serviceName = "reflex"

// Config holds reflex server command configuration.
type Config struct {
	HTTPAddr        string        `env:"REFLEX_HTTP_ADDR"         envDefault:":8080"`
	SessionTokenKey string        `env:"REFLEX_SESSION_TOKEN_KEY"`
	SessionTokenTTL time.Duration `env:"REFLEX_SESSION_TOKEN_TTL" envDefault:"720h"`
	StorageDriver   string        `env:"REFLEX_STORAGE_DRIVER"    envDefault:"memory"`
	StoragePath     string        `env:"REFLEX_STORAGE_PATH"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "reflex HTTP listen address")
	fs.StringVar(&cfg.StorageDriver, "storage-driver", cfg.StorageDriver, "session storage driver: memory, sqlite, or bbolt")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "session storage file path for sqlite/bbolt")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the demo counter application and serves it until the context
// ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, serviceName, func(ctx context.Context) error {
		store, cleanup, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer cleanup()

		registry := reflex.NewRegistry()
		counter.Register(registry)
		renderer := counter.Renderer()

		dispatcher, err := reflex.NewDispatcher(registry, store, renderer)
		if err != nil {
			return fmt.Errorf("init dispatcher: %w", err)
		}

		if cfg.SessionTokenKey == "" {
			return fmt.Errorf("REFLEX_SESSION_TOKEN_KEY is required")
		}

		srv, err := server.NewServer(server.Config{
			HTTPAddr:        cfg.HTTPAddr,
			SessionTokenKey: []byte(cfg.SessionTokenKey),
			SessionTokenTTL: cfg.SessionTokenTTL,
		}, dispatcher, renderer, store)
		if err != nil {
			return fmt.Errorf("init reflex server: %w", err)
		}

		if err := srv.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serve reflex: %w", err)
		}
		return nil
	})
}

func openStore(cfg Config) (session.Store, func(), error) {
	switch cfg.StorageDriver {
	case "", "memory":
		return session.NewMemoryStore(), func() {}, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.StoragePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "bbolt":
		store, err := bbolt.Open(cfg.StoragePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
