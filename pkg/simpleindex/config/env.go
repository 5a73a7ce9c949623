package config

import (
	"fmt"
	"io"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv applies environment variable overrides. Only variables that are
// set change the configuration; see the env tags on ServerConfig.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// Usage writes the environment variables the server understands.
func Usage(w io.Writer) {
	var cfg ServerConfig
	cleanenv.FUsage(w, &cfg, nil)()
}
