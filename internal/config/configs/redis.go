package configs

// Redis configures the shared counter store backing the distributed rate
// limiter. Rate-limit windows live only in Redis and expire on their own;
// nothing here is a source of truth.
type Redis struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB" envDefault:"0"`
}
