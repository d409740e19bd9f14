package config

import (
	"fmt"
	"os"

	"github.com/kartikbazzad/bunbase/bunstore"
	"github.com/kartikbazzad/bunbase/bunstore/internal/logger"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "BUNSTORE_"

// Config is the configuration of the bunstore binary.
type Config struct {
	Store StoreConfig `mapstructure:"store"`
	Log   LogConfig   `mapstructure:"log"`
	HTTP  HTTPConfig  `mapstructure:"http"`
}

// StoreConfig describes the datastore to open.
type StoreConfig struct {
	Filename         string  `mapstructure:"filename"`
	InMemory         bool    `mapstructure:"inmemory"`
	Backend          string  `mapstructure:"backend"`
	Timestamps       bool    `mapstructure:"timestamps"`
	SchemaFile       string  `mapstructure:"schemafile"`
	CorruptThreshold float64 `mapstructure:"corruptthreshold"`
	Workers          int     `mapstructure:"workers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Source bool   `mapstructure:"source"`
}

// HTTPConfig configures the API server. RateLimit is requests per second per
// client address; zero disables limiting.
type HTTPConfig struct {
	Addr      string  `mapstructure:"addr"`
	RateLimit float64 `mapstructure:"ratelimit"`
	Burst     int     `mapstructure:"burst"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Filename:         "data/bunstore.db",
			Backend:          "file",
			CorruptThreshold: 0.1,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Addr:      ":8080",
			RateLimit: 100,
			Burst:     200,
		},
	}
}

// LoadConfig returns Default overridden by path (optional) and BUNSTORE_
// variables.
func LoadConfig(path string) (Config, error) {
	cfg := Default()
	if err := LoadFile(path, EnvPrefix, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Logger returns the logger configuration.
func (c Config) Logger() logger.Config {
	return logger.Config{
		Level:     c.Log.Level,
		Format:    c.Log.Format,
		AddSource: c.Log.Source,
	}
}

// StoreOptions converts the store section into bunstore.Options. The store
// is always autoloaded.
func (c Config) StoreOptions() (bunstore.Options, error) {
	opts := bunstore.Options{
		Filename:              c.Store.Filename,
		InMemoryOnly:          c.Store.InMemory,
		Backend:               c.Store.Backend,
		TimestampData:         c.Store.Timestamps,
		CorruptAlertThreshold: c.Store.CorruptThreshold,
		CallbackWorkers:       c.Store.Workers,
		Autoload:              true,
	}
	if c.Store.SchemaFile != "" {
		raw, err := os.ReadFile(c.Store.SchemaFile)
		if err != nil {
			return bunstore.Options{}, fmt.Errorf("read schema file: %w", err)
		}
		opts.Schema = string(raw)
	}
	return opts, nil
}
