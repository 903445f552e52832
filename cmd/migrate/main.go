package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"pointledger/internal/config"
	"pointledger/internal/logger"
	"pointledger/internal/repository"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	if err := cfg.RequirePostgres("migrations"); err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Error: migration command is required")
		fmt.Println("Usage: go run ./cmd/migrate [command]")
		fmt.Println("Commands: up, down, status, redo")
		os.Exit(1)
	}

	command := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := repository.RunMigrations(ctx, cfg.DSN(), command, log); err != nil {
		log.Fatal().Err(err).Str("command", command).Msg("migration error")
	}

	log.Info().Str("command", command).Msg("migration finished successfully")
}
