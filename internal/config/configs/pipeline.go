package configs

import "time"

// Pipeline holds the tunables of the campaign delivery pipeline. Batch and
// chunk sizes are fixed constants chosen here, not derived from upstream
// limits at runtime.
type Pipeline struct {
	// BatchSize is how many message IDs one work-queue job carries.
	BatchSize int `env:"BATCH_SIZE" envDefault:"100"`

	// InsertChunk bounds how many message rows a single insert transaction
	// writes, to bound lock duration and memory for very large campaigns.
	InsertChunk int `env:"INSERT_CHUNK" envDefault:"500"`

	// SyncBatches is how many of the first batch jobs are published
	// synchronously, so enqueue callers observe at least partial success.
	SyncBatches int `env:"SYNC_BATCHES" envDefault:"3"`

	// AccountRateMax / AccountRateWindow cap sends across the whole upstream
	// traffic account.
	AccountRateMax    int           `env:"ACCOUNT_RATE_MAX" envDefault:"1000"`
	AccountRateWindow time.Duration `env:"ACCOUNT_RATE_WINDOW" envDefault:"1m"`

	// TenantRateMax / TenantRateWindow cap sends per tenant.
	TenantRateMax    int           `env:"TENANT_RATE_MAX" envDefault:"300"`
	TenantRateWindow time.Duration `env:"TENANT_RATE_WINDOW" envDefault:"1m"`

	// OptOutBaseURL is the public base the per-recipient opt-out links are
	// built on.
	OptOutBaseURL string `env:"OPT_OUT_BASE_URL" envDefault:"https://sav.na"`

	// OptOutSecret signs per-recipient opt-out tokens.
	OptOutSecret string `env:"OPT_OUT_SECRET" envDefault:"change-me"`

	// ShortenerURL points at the URL-shortening service; empty disables
	// shortening.
	ShortenerURL string `env:"SHORTENER_URL" envDefault:""`

	// StaleAfter is how long a submitted message may stay queued before the
	// status-lookup poller asks the gateway about it.
	StaleAfter time.Duration `env:"STALE_AFTER" envDefault:"15m"`

	// UnbilledGrace is how old a sent message must be before the backfill
	// sweep charges a missing ledger debit for it.
	UnbilledGrace time.Duration `env:"UNBILLED_GRACE" envDefault:"10m"`
}
