package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

type Config struct {
	LogLevel string      `toml:"log-level"`
	Engine   Engine      `toml:"engine"`
	Bench    BenchConfig `toml:"bench"`
}

type Engine struct {
	// First delay after a failed attempt. Each further failure doubles it.
	BackoffBase Duration `toml:"backoff-base"`
	// Upper bound of a single backoff delay, 0 means unbounded.
	BackoffMax Duration `toml:"backoff-max"`
	// Log a warning every time a transaction has failed this many attempts in a row, 0 disables it.
	StarvingAttempts int `toml:"starving-attempts"`
}

type BenchConfig struct {
	Workers        int     `toml:"workers"`         // Number of worker goroutines, each owns one transaction context.
	Accounts       int     `toml:"accounts"`        // Number of bank accounts (cells).
	Transfers      int     `toml:"transfers"`       // Transfers (or increments) per worker.
	InitialBalance int64   `toml:"initial-balance"` // Starting balance of every account.
	RateLimit      float64 `toml:"rate-limit"`      // Transactions per second per worker, 0 = unlimited.
	MetricsAddr    string  `toml:"metrics-addr"`    // Serve prometheus metrics on this address when set.
}

func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	return c.Bench.Validate()
}

func (e *Engine) Validate() error {
	if e.BackoffBase.Duration <= 0 {
		return errors.New("backoff-base must be greater than 0")
	}
	if e.BackoffMax.Duration != 0 && e.BackoffMax.Duration < e.BackoffBase.Duration {
		return errors.Errorf("backoff-max %v must not be less than backoff-base %v",
			e.BackoffMax.Duration, e.BackoffBase.Duration)
	}
	if e.StarvingAttempts < 0 {
		return errors.New("starving-attempts must not be negative")
	}
	return nil
}

func (b *BenchConfig) Validate() error {
	if b.Workers <= 0 {
		return errors.New("workers must be greater than 0")
	}
	if b.Accounts < 2 {
		return errors.New("a bank needs at least 2 accounts")
	}
	if b.Transfers < 0 || b.InitialBalance < 0 || b.RateLimit < 0 {
		return errors.New("transfers, initial-balance and rate-limit must not be negative")
	}
	return nil
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: getLogLevel(),
		Engine: Engine{
			// 2^n microseconds, as in the classic exponential retry.
			BackoffBase:      NewDuration(time.Microsecond),
			BackoffMax:       NewDuration(10 * time.Millisecond),
			StarvingAttempts: 1000,
		},
		Bench: BenchConfig{
			Workers:        16,
			Accounts:       20,
			Transfers:      10000,
			InitialBalance: 1000,
		},
	}
}

func NewTestConfig() *Config {
	return &Config{
		LogLevel: getLogLevel(),
		Engine: Engine{
			BackoffBase:      NewDuration(time.Microsecond),
			BackoffMax:       NewDuration(time.Millisecond),
			StarvingAttempts: 0,
		},
		Bench: BenchConfig{
			Workers:        8,
			Accounts:       10,
			Transfers:      500,
			InitialBalance: 1000,
		},
	}
}

// LoadFile reads a TOML file on top of the default config and validates the result.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}
