package main

import (
	"fmt"

	"github.com/docopt/docopt-go"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the environment layer under the command line flags. Flags win
// when both are set.
type Config struct {
	ApiUrl     string `env:"NOTIFY_API_URL" env-default:"https://api.chirpwire.com"`
	ChannelUrl string `env:"NOTIFY_CHANNEL_URL" env-default:"wss://channel.chirpwire.com/notifications"`
	Jwt        string `env:"NOTIFY_JWT"`
	// CacheDir is where the badger page cache lives. Empty keeps the cache
	// in memory for the life of the command.
	CacheDir string `env:"NOTIFY_CACHE_DIR"`
}

func LoadConfig(opts docopt.Opts) (*Config, error) {
	var config Config
	if err := cleanenv.ReadEnv(&config); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		config.ApiUrl = apiUrl
	}
	if channelUrl, err := opts.String("--channel_url"); err == nil && channelUrl != "" {
		config.ChannelUrl = channelUrl
	}
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		config.Jwt = jwt
	}

	if config.Jwt == "" {
		return nil, fmt.Errorf("config: a session JWT is required (--jwt or NOTIFY_JWT)")
	}
	return &config, nil
}
