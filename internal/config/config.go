// Package config loads agent configuration from LEASH_-prefixed
// environment variables. Command-line flags layer on top of it.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds process-wide agent configuration.
type Config struct {
	// Endpoint is the controller's channel endpoint.
	Endpoint string `envconfig:"ENDPOINT" default:"wss://control.leashnet.io/agent"`

	// ConnectTimeout bounds how long establishing the channel may take,
	// including dial retries.
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`

	// Debug enables event-level logging to stderr.
	Debug bool `envconfig:"DEBUG" default:"false"`
}

// Load reads configuration from the environment, filling in defaults
// for anything unset.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("leash", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
