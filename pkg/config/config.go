// Package config loads the settings of the logbook command.
//
// Settings come from defaults, then an optional TOML file, then
// LOGBOOK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/logbookhq/logbook/pkg/constants"
)

const (
	EnvPrefix = "LOGBOOK_"

	DefaultAddr     = "127.0.0.1:8765"
	DefaultURL      = "ws://127.0.0.1:8765"
	DefaultLogLevel = "info"
)

type Config struct {
	// Addr is the listen address of serve.
	Addr string `env:"ADDR"`
	// URL is the websocket endpoint the client commands dial.
	URL string `env:"URL"`
	// DataPath is the SQLite file of serve. Empty keeps data in memory.
	DataPath string `env:"DATA_PATH"`
	// Categories are written to the configuration when serve starts.
	Categories []string `env:"CATEGORIES" envSeparator:","`

	LogLevel string `env:"LOG_LEVEL"`
	// LogFile appends logs to a file instead of stderr.
	LogFile string `env:"LOG_FILE"`

	CommandTimeout time.Duration `env:"COMMAND_TIMEOUT"`
	DialTimeout    time.Duration `env:"DIAL_TIMEOUT"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:           DefaultAddr,
		URL:            DefaultURL,
		LogLevel:       DefaultLogLevel,
		CommandTimeout: constants.DefaultCommandTimeout,
		DialTimeout:    constants.DefaultDialTimeout,
	}
}

// fileConfig is the TOML layout. Durations are strings such as "10s".
type fileConfig struct {
	Addr           string   `toml:"addr"`
	URL            string   `toml:"url"`
	DataPath       string   `toml:"data_path"`
	Categories     []string `toml:"categories"`
	LogLevel       string   `toml:"log_level"`
	LogFile        string   `toml:"log_file"`
	CommandTimeout string   `toml:"command_timeout"`
	DialTimeout    string   `toml:"dial_timeout"`
}

// Load reads path, if not empty, and applies the environment. A missing
// file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return c.apply(data)
}

func (c *Config) apply(data []byte) error {
	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setString(&c.Addr, raw.Addr)
	setString(&c.URL, raw.URL)
	setString(&c.DataPath, raw.DataPath)
	setString(&c.LogLevel, raw.LogLevel)
	setString(&c.LogFile, raw.LogFile)
	if raw.Categories != nil {
		c.Categories = raw.Categories
	}

	var err error
	if c.CommandTimeout, err = duration("command_timeout", raw.CommandTimeout, c.CommandTimeout); err != nil {
		return err
	}
	if c.DialTimeout, err = duration("dial_timeout", raw.DialTimeout, c.DialTimeout); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func duration(key, v string, fallback time.Duration) (time.Duration, error) {
	if v = strings.TrimSpace(v); v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse config: %s: %w", key, err)
	}
	return d, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != constants.WebsocketScheme && u.Scheme != constants.WebsocketSecureScheme {
		return fmt.Errorf("url: scheme must be %s or %s, got %q",
			constants.WebsocketScheme, constants.WebsocketSecureScheme, u.Scheme)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	if c.CommandTimeout < 0 || c.DialTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	for _, category := range c.Categories {
		if strings.TrimSpace(category) == "" {
			return fmt.Errorf("categories: empty category")
		}
	}
	return nil
}
