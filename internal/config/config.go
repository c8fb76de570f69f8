package config

import (
	"github.com/caarlos0/env/v11"

	"savanna-sms/internal/config/configs"
)

// Config aggregates all configuration sections for the platform. Fields are
// populated from environment variables using the caarlos0/env library; the
// nested structs are tagged with envPrefix so their fields are parsed with
// the given prefix. Both the API server and the worker load the same Config.
type Config struct {
	// Env specifies the deployment environment (e.g. prod, dev).
	Env string `env:"ENV" envDefault:"prod"`

	// HTTP holds configuration for the API server (HTTP_ prefix).
	HTTP configs.HTTP `envPrefix:"HTTP_"`

	// Log configures the structured logger (LOG_ prefix).
	Log configs.Logger `envPrefix:"LOG_"`

	// Psql configures the PostgreSQL connection (PSQL_ prefix).
	Psql configs.Postgres `envPrefix:"PSQL_"`

	// Redis configures the shared counter store backing the rate limiter
	// (REDIS_ prefix).
	Redis configs.Redis `envPrefix:"REDIS_"`

	// AMQP configures the work queue broker (AMQP_ prefix).
	AMQP configs.AMQP `envPrefix:"AMQP_"`

	// Gateway configures the upstream SMS gateway client (GATEWAY_ prefix).
	Gateway configs.Gateway `envPrefix:"GATEWAY_"`

	// Pipeline holds the tunables of the campaign delivery pipeline
	// (PIPELINE_ prefix).
	Pipeline configs.Pipeline `envPrefix:"PIPELINE_"`
}

// Load reads configuration from environment variables into a Config. All
// fields fall back to their declared defaults when no environment variable
// is provided.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
