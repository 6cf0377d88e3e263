package main

import (
	"testing"

	"github.com/docopt/docopt-go"
	"github.com/go-playground/assert/v2"
)

func TestLoadConfigDefaults(t *testing.T) {
	opts := docopt.Opts{
		"--jwt": "flag-jwt",
	}

	config, err := LoadConfig(opts)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.ApiUrl, "https://api.chirpwire.com")
	assert.Equal(t, config.ChannelUrl, "wss://channel.chirpwire.com/notifications")
	assert.Equal(t, config.Jwt, "flag-jwt")
	assert.Equal(t, config.CacheDir, "")
}

func TestLoadConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("NOTIFY_API_URL", "https://env.example.com")
	t.Setenv("NOTIFY_CHANNEL_URL", "wss://env.example.com/notifications")
	t.Setenv("NOTIFY_JWT", "env-jwt")
	t.Setenv("NOTIFY_CACHE_DIR", "/tmp/notify-cache")

	config, err := LoadConfig(docopt.Opts{})
	assert.Equal(t, err, nil)
	assert.Equal(t, config.ApiUrl, "https://env.example.com")
	assert.Equal(t, config.Jwt, "env-jwt")
	assert.Equal(t, config.CacheDir, "/tmp/notify-cache")

	config, err = LoadConfig(docopt.Opts{
		"--api_url": "https://flag.example.com",
		"--jwt":     "flag-jwt",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, config.ApiUrl, "https://flag.example.com")
	assert.Equal(t, config.ChannelUrl, "wss://env.example.com/notifications")
	assert.Equal(t, config.Jwt, "flag-jwt")
}

func TestLoadConfigRequiresJwt(t *testing.T) {
	t.Setenv("NOTIFY_JWT", "")
	_, err := LoadConfig(docopt.Opts{})
	assert.Equal(t, err != nil, true)
}

func TestQueryFromOpts(t *testing.T) {
	query := queryFromOpts(docopt.Opts{
		"--page":   "2",
		"--size":   "50",
		"--unseen": true,
	})
	assert.Equal(t, query.PageNumber, 2)
	assert.Equal(t, query.PageSize, 50)
	assert.Equal(t, query.UnseenOnly, true)

	defaults := queryFromOpts(docopt.Opts{})
	assert.Equal(t, defaults.PageNumber, 0)
	assert.Equal(t, defaults.PageSize, 20)
	assert.Equal(t, defaults.UnseenOnly, false)
}
