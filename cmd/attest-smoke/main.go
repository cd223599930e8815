package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/eea/internal/smoke"
	"github.com/okian/eea/pkg/logger"
)

const defaultRunTimeout = 10 * time.Minute

func main() {
	var (
		baseURL = flag.String("url", "http://localhost:8080", "Base URL of the service")
		apiKey  = flag.String("key", os.Getenv("EEA_API_KEY"), "API key sent as x-api-key (default $EEA_API_KEY)")
		events  = flag.Int("events", smoke.DefaultEvents, "Number of distinct events to mint")
		workers = flag.Int("workers", smoke.DefaultWorkers, "Number of concurrent workers")
		rps     = flag.Float64("rps", smoke.DefaultRPS, "Requests per second across all workers, 0 for unlimited")
		timeout = flag.Duration("timeout", smoke.DefaultTimeout, "HTTP request timeout")
		seed    = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Generator seed; reuse it to replay a batch")
		secret  = flag.String("secret", os.Getenv("EEA_SIGNING_SECRET"), "Signing secret for local signature checks (default $EEA_SIGNING_SECRET)")
		schema  = flag.String("schema-version", "1.0.0", "Schema version the service signs with")
		format  = flag.String("log-format", "text", "Log format: text or json")
	)
	flag.Parse()

	if err := logger.InitWith(os.Stderr, *format); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	runner, err := smoke.New(smoke.Config{
		BaseURL:       *baseURL,
		APIKey:        *apiKey,
		Events:        *events,
		Workers:       *workers,
		RPS:           *rps,
		Timeout:       *timeout,
		Seed:          *seed,
		Secret:        *secret,
		SchemaVersion: *schema,
	}, smoke.WithLogger(logger.Named("smoke")))
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	stats, err := runner.Run(ctx)
	fmt.Printf("seed=%d minted=%d idempotent=%d fetched=%d signatures_valid=%d rate_limited=%d failed=%d mismatches=%d duration=%s\n",
		*seed, stats.Minted, stats.IdempotentHits, stats.Fetched, stats.SignaturesValid,
		stats.RateLimited, stats.Failed, len(stats.Mismatches), stats.Duration.Round(time.Millisecond))
	for _, m := range stats.Mismatches {
		fmt.Println("  " + m)
	}
	if err != nil {
		_, _ = os.Stderr.WriteString("smoke run failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
