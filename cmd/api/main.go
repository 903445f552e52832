package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pointledger/internal/infrastructure"
	"pointledger/internal/logger"
)

func main() {
	_ = godotenv.Load()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap")
	}
	defer cleanup()

	log.Info().Msg("point ledger starting")
	if err := app.Run(ctx); err != nil {
		log.Error().Err(err).Msg("point ledger stopped with error")
		cleanup()
		os.Exit(1)
	}
	log.Info().Msg("point ledger stopped")
}
