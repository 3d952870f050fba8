package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
)

// Config is the top-level configuration, loaded from COURIER_* environment
// variables over built-in defaults. Intervals and retry parameters are
// injectable rather than hard-coded.
type Config struct {
	HTTPAddr string `env:"COURIER_HTTP_ADDR" envDefault:":8080"`
	DataDir  string `env:"COURIER_DATA_DIR"`

	// Redis pub/sub transport for the RPC bridge and fan-out relay.
	// Empty address selects the in-process bus (single-node mode).
	RedisAddr     string `env:"COURIER_REDIS_ADDR"`
	RedisPassword string `env:"COURIER_REDIS_PASSWORD"`

	Fsync     string `env:"COURIER_FSYNC" envDefault:"always"`
	LogLevel  string `env:"COURIER_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"COURIER_LOG_FORMAT" envDefault:"text"`

	// NotifyChannel is the shared broadcast channel for fan-out events.
	NotifyChannel string `env:"COURIER_NOTIFY_CHANNEL" envDefault:"notifications"`

	Lease           time.Duration `env:"COURIER_LEASE" envDefault:"30s"`
	ReclaimInterval time.Duration `env:"COURIER_RECLAIM_INTERVAL" envDefault:"5s"`
	SweepInterval   time.Duration `env:"COURIER_SWEEP_INTERVAL" envDefault:"10m"`
	RPCTimeout      time.Duration `env:"COURIER_RPC_TIMEOUT" envDefault:"5s"`

	DefaultMaxAttempts int           `env:"COURIER_DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
	DefaultBaseDelay   time.Duration `env:"COURIER_DEFAULT_BASE_DELAY" envDefault:"1s"`

	EmailQueue string `env:"COURIER_EMAIL_QUEUE" envDefault:"email"`
	SMSQueue   string `env:"COURIER_SMS_QUEUE" envDefault:"sms"`
}

// Default returns built-in defaults without consulting the environment.
func Default() Config {
	return Config{
		HTTPAddr:           ":8080",
		Fsync:              "always",
		LogLevel:           "info",
		LogFormat:          "text",
		NotifyChannel:      "notifications",
		Lease:              30 * time.Second,
		ReclaimInterval:    5 * time.Second,
		SweepInterval:      10 * time.Minute,
		RPCTimeout:         5 * time.Second,
		DefaultMaxAttempts: 3,
		DefaultBaseDelay:   time.Second,
		EmailQueue:         "email",
		SMSQueue:           "sms",
	}
}

// Load parses COURIER_* environment variables over defaults and validates the
// result.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, errors.Wrap(err, "config: parse environment")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects values the runtime cannot operate with.
func (c Config) Validate() error {
	if c.DefaultMaxAttempts < 1 {
		return errors.Newf("config: default max attempts must be >= 1, got %d", c.DefaultMaxAttempts)
	}
	if c.DefaultBaseDelay <= 0 {
		return errors.Newf("config: default base delay must be positive, got %s", c.DefaultBaseDelay)
	}
	if c.Lease <= 0 {
		return errors.Newf("config: lease must be positive, got %s", c.Lease)
	}
	if c.SweepInterval <= 0 {
		return errors.Newf("config: sweep interval must be positive, got %s", c.SweepInterval)
	}
	if c.NotifyChannel == "" {
		return errors.New("config: notify channel must not be empty")
	}
	switch c.Fsync {
	case "", "always", "interval", "never":
	default:
		return errors.Newf("config: fsync must be always|interval|never, got %q", c.Fsync)
	}
	if c.RPCTimeout <= 0 {
		return errors.Newf("config: rpc timeout must be positive, got %s", c.RPCTimeout)
	}
	return nil
}
