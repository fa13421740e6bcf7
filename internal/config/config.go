// internal/config/config.go
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

const (
	RateScopeWorkspace = "workspace"
	RateScopeGlobal    = "global"
)

type Config struct {
	Env  string `env:"ENV,default=dev"`
	Port string `env:"PORT,default=8080"`

	StoreDriver string `env:"STORE_DRIVER,default=postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	Dispatch struct {
		EnableSend       bool          `env:"ENABLE_SEND,default=false"`
		RateCapPerMinute int           `env:"RATE_CAP_PER_MINUTE,default=0"`
		DelayMinMs       int           `env:"RATE_DELAY_MIN_MS,default=0"`
		DelayMaxMs       int           `env:"RATE_DELAY_MAX_MS,default=0"`
		RateScope        string        `env:"RATE_SCOPE,default=workspace"`
		DedupWindow      time.Duration `env:"DEDUP_WINDOW,default=30s"`
		ProviderTimeout  time.Duration `env:"PROVIDER_TIMEOUT,default=15s"`
	}

	RateLimit struct {
		Backend  string `env:"RATE_LIMIT_BACKEND,default=memory"`
		RedisURL string `env:"REDIS_URL"`
	}

	Provider struct {
		BaseURL       string `env:"PROVIDER_BASE_URL,default=https://graph.facebook.com/v19.0"`
		Token         string `env:"PROVIDER_TOKEN"`
		PhoneNumberID string `env:"PROVIDER_PHONE_NUMBER_ID"`
		Mock          bool   `env:"PROVIDER_MOCK,default=false"`
	}

	AMQP struct {
		URL         string `env:"AMQP_URL"`
		EventsQueue string `env:"AMQP_EVENTS_QUEUE,default=dispatch_events"`
		StatusQueue string `env:"AMQP_STATUS_QUEUE,default=provider_status"`
	}
}

// Load reads an optional .env file and binds the environment onto Config.
// loaded reports whether a .env file was found.
func Load(ctx context.Context) (cfg *Config, loaded bool, err error) {
	loaded = godotenv.Load() == nil

	cfg = &Config{}
	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, loaded, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, loaded, err
	}
	return cfg, loaded, nil
}

func (c *Config) Validate() error {
	d := c.Dispatch
	if d.DelayMinMs < 0 {
		return fmt.Errorf("RATE_DELAY_MIN_MS must not be negative, got %d", d.DelayMinMs)
	}
	if d.DelayMaxMs < d.DelayMinMs {
		return fmt.Errorf("RATE_DELAY_MAX_MS (%d) must be >= RATE_DELAY_MIN_MS (%d)", d.DelayMaxMs, d.DelayMinMs)
	}
	if d.RateScope != RateScopeWorkspace && d.RateScope != RateScopeGlobal {
		return fmt.Errorf("RATE_SCOPE must be %q or %q, got %q", RateScopeWorkspace, RateScopeGlobal, d.RateScope)
	}
	if c.RateLimit.Backend == "redis" && c.RateLimit.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
	}
	if c.StoreDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
	}
	if c.Dispatch.EnableSend && !c.Provider.Mock && (c.Provider.Token == "" || c.Provider.PhoneNumberID == "") {
		return fmt.Errorf("PROVIDER_TOKEN and PROVIDER_PHONE_NUMBER_ID are required when ENABLE_SEND=true")
	}
	if c.StoreDriver != "postgres" && c.StoreDriver != "memory" {
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

// DryRun is true when outbound sends are recorded but never handed to the provider.
func (c *Config) DryRun() bool {
	return !c.Dispatch.EnableSend
}

func (c *Config) DelayBounds() (time.Duration, time.Duration) {
	return time.Duration(c.Dispatch.DelayMinMs) * time.Millisecond,
		time.Duration(c.Dispatch.DelayMaxMs) * time.Millisecond
}
