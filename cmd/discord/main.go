package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"jamroom/internal/config"
	"jamroom/internal/discord"
	"jamroom/internal/logging"
	"jamroom/internal/storage"
	"jamroom/internal/version"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Setup(cfg.LogLevel, cfg.LogPath)
	log.Info().Str("app", version.AppName).Str("version", version.AppVersion).Msg("starting")

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open datastore")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close datastore")
		}
	}()

	bot, err := discord.NewBot(cfg, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bot")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bot.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("bot exited with error")
	}
	log.Info().Msg("goodbye")
}
