package configs

import "time"

// Gateway configures the upstream SMS gateway client. Account is the
// upstream traffic account this deployment sends under; it doubles as the
// account-level rate-limit scope.
type Gateway struct {
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:9090"`
	APIKey  string `env:"API_KEY" envDefault:""`

	// Account names the upstream traffic account shared by all tenants.
	Account string `env:"ACCOUNT" envDefault:"default"`

	// DefaultSender is used when a tenant has no sender ID of its own.
	DefaultSender string `env:"DEFAULT_SENDER" envDefault:"SAVANNA"`

	// WebhookSecret signs delivery-report callbacks (HMAC-SHA256).
	WebhookSecret string `env:"WEBHOOK_SECRET" envDefault:""`

	// Timeout bounds each RPC; a timeout is a hard RPC failure, never a
	// partial success.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}
