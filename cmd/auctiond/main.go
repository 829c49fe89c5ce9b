package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gavel-io/gavel/internal/auction/engine"
	"github.com/gavel-io/gavel/internal/auction/repository"
	"github.com/gavel-io/gavel/internal/auction/service"
	"github.com/gavel-io/gavel/internal/auction/session"
	"github.com/gavel-io/gavel/internal/purse"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	db, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := repository.EnsureSchema(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema")
	}

	// Default bidding rules for sessions created without explicit rules
	rules, err := loadDefaultRules(getEnv("AUCTION_RULES_FILE", "config/auction_rules.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load auction rules")
	}

	repo := repository.NewRepository(db)
	sessionApp := session.NewApp(repo)
	purseApp := purse.NewApp(repo)
	eng := engine.New(repo, sessionApp, purseApp, repo, clockwork.NewRealClock())

	// Re-arm any sessions that were mid-round when the last process died
	if err := eng.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to recover sessions")
	}

	svc := service.NewService(eng, sessionApp, purseApp, rules)
	server := setupServer(svc)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("auction engine listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("auction engine shutdown complete")
}
