package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	DiscordToken      string `env:"DISCORD_TOKEN,required"`
	StoragePath       string `env:"STORAGE_PATH" envDefault:"datastore.json"`
	CacheDir          string `env:"CACHE_DIR" envDefault:"cache"`
	LogPath           string `env:"LOG_PATH"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	InitSlashCommands bool   `env:"INIT_SLASH_COMMANDS" envDefault:"true"`
}

func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, falling back to system environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, nil
}
