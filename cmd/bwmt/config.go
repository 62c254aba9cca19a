package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/auth"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/observability"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/setup"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/stream"
)

// envPrefix namespaces every environment variable.
const envPrefix = "BWMT_"

// dbDisabled as the database path turns the run history off.
const dbDisabled = "off"

// Config is the process configuration, read from BWMT_* variables and
// overridden by command-line flags.
type Config struct {
	HTTPAddr    string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel    slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	TrustProxy  bool          `env:"TRUST_PROXY" envDefault:"false"`
	SetupPath   string        `env:"SETUP_PATH"`
	DBPath      string        `env:"DB_PATH"`
	TickRate    time.Duration `env:"TICK_RATE" envDefault:"16ms"`
	MaxTick     time.Duration `env:"MAX_TICK" envDefault:"250ms"`
	MaxSessions int           `env:"MAX_SESSIONS" envDefault:"16"`

	Auth    auth.Config                 `envPrefix:"AUTH_"`
	Stream  stream.Config               `envPrefix:"STREAM_"`
	Tracing observability.TracingConfig `envPrefix:"TRACING_"`
}

// Validate checks every section.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("http address is empty")
	}
	if c.TickRate < time.Millisecond {
		return fmt.Errorf("tick rate must be >= 1ms, got %s", c.TickRate)
	}
	if c.MaxTick < c.TickRate {
		return fmt.Errorf("max tick %s is below the tick rate %s", c.MaxTick, c.TickRate)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("max sessions must be >= 1, got %d", c.MaxSessions)
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Stream.Validate(); err != nil {
		return err
	}
	return c.Tracing.Validate()
}

// HistoryEnabled reports whether completed runs are stored.
func (c Config) HistoryEnabled() bool {
	return c.DBPath != dbDisabled
}

func addServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address (BWMT_HTTP_ADDR)")
	f.String("log-level", "", "log level: debug, info, warn, error (BWMT_LOG_LEVEL)")
	f.String("setup", "", "setup file path (BWMT_SETUP_PATH)")
	f.String("db", "", `run history database path, "off" to disable (BWMT_DB_PATH)`)
	f.Duration("tick-rate", 0, "simulation tick interval (BWMT_TICK_RATE)")
	f.Int("max-sessions", 0, "maximum live sessions (BWMT_MAX_SESSIONS)")
	f.Bool("trace", false, "enable stdout tracing (BWMT_TRACING_ENABLED)")
}

// loadConfig parses the environment, applies the flags the user set and
// fills in XDG default paths.
func loadConfig(cmd *cobra.Command) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.HTTPAddr, _ = f.GetString("addr")
	}
	if f.Changed("log-level") {
		v, _ := f.GetString("log-level")
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return cfg, fmt.Errorf("--log-level: %w", err)
		}
	}
	if f.Changed("setup") {
		cfg.SetupPath, _ = f.GetString("setup")
	}
	if f.Changed("db") {
		cfg.DBPath, _ = f.GetString("db")
	}
	if f.Changed("tick-rate") {
		cfg.TickRate, _ = f.GetDuration("tick-rate")
	}
	if f.Changed("max-sessions") {
		cfg.MaxSessions, _ = f.GetInt("max-sessions")
	}
	if f.Changed("trace") {
		cfg.Tracing.Enabled, _ = f.GetBool("trace")
	}

	if cfg.SetupPath == "" {
		cfg.SetupPath = setup.DefaultPath()
	}
	if cfg.DBPath == "" {
		cfg.DBPath = setup.DefaultDBPath()
	}
	cfg.Stream.TrustProxy = cfg.TrustProxy

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
