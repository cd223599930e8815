// Command eea-keys provisions and disables API keys in the configured store.
//
//	eea-keys create -plan standard -limit 120
//	eea-keys disable -key eea_live_...
//	eea-keys disable -hash 3f9a...
//
// Store settings come from the same EEA_ environment and EEA_CONFIG file
// as the service. The signing secret is not needed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/eea/internal/adapters/kv"
	"github.com/okian/eea/internal/adapters/kv/backend"
	"github.com/okian/eea/internal/config"
	"github.com/okian/eea/internal/domain/tenancy"
)

var errUsage = errors.New("usage: eea-keys <create|disable|enable> [flags]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadStoreConfig(ctx)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Backend == config.BackendMemory {
		_, _ = fmt.Fprintln(os.Stderr, "warning: memory backend keys vanish when this command exits; set EEA_STORE__BACKEND")
	}
	store, err := backend.Open(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	if err := run(ctx, os.Args[1:], store, os.Stdout); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// loadStoreConfig reads store settings, tolerating a missing signing secret.
func loadStoreConfig(ctx context.Context) (config.StoreConfig, error) {
	if os.Getenv(config.EnvPrefix+"SIGNING_SECRET") == "" {
		_ = os.Setenv(config.EnvPrefix+"SIGNING_SECRET", "unused-by-eea-keys")
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return config.StoreConfig{}, err
	}
	return cfg.Store, nil
}

func run(ctx context.Context, args []string, store kv.Store, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	registry := tenancy.New(store)

	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("create", flag.ContinueOnError)
		fs.SetOutput(out)
		plan := fs.String("plan", "standard", "Plan label stored with the key")
		limit := fs.Int("limit", 0, "Requests per minute; 0 uses the service default")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		raw, entry, err := registry.Provision(ctx, *plan, *limit)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "key_id:  %s\napi_key: %s\nplan:    %s\nlimit:   %d/min\n",
			entry.KeyID, raw, entry.Plan, entry.RateLimitPerMin)
		_, _ = fmt.Fprintln(out, "store the api_key now; only its hash is kept")
		return nil

	case "disable", "enable":
		fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
		fs.SetOutput(out)
		rawKey := fs.String("key", "", "Raw API key")
		keyHash := fs.String("hash", "", "Hex SHA-256 of the API key")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		h := *keyHash
		if *rawKey != "" {
			h = tenancy.HashKey(*rawKey)
		}
		if h == "" {
			return fmt.Errorf("%w: -key or -hash is required", errUsage)
		}
		status := tenancy.StatusDisabled
		if args[0] == "enable" {
			status = tenancy.StatusActive
		}
		entry, err := registry.SetStatus(ctx, h, status)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "%s is now %s\n", entry.KeyID, entry.Status)
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}
