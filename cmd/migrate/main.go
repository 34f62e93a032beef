// Command migrate applies the embedded PostgreSQL schema migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"wallet-ledger/config"
	pgStorage "wallet-ledger/internal/adapter/storage/postgres"
	"wallet-ledger/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (defaults to ./config.yaml when present)")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall migration timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	applied, err := pgStorage.NewMigrator(pool, log).Up(ctx)
	if err != nil {
		log.Error().Err(err).Strs("applied", applied).Msg("Migration failed")
		pool.Close()
		os.Exit(1)
	}

	log.Info().
		Int("count", len(applied)).
		Str("versions", strings.Join(applied, ",")).
		Msg("Migrations complete")
}
