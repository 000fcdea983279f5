// Package config loads the service configuration from a YAML file.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/polysight/polysight/internal/dataapi"
	"github.com/polysight/polysight/pkg/errors"
)

// DataSourceKind selects where analytics data comes from.
type DataSourceKind string

const (
	// DataSourceMock serves deterministic generated data, for demos and tests.
	DataSourceMock DataSourceKind = "mock"

	// DataSourceStore serves data persisted in the local DuckDB store.
	DataSourceStore DataSourceKind = "store"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig   `yaml:"server"`
	Store      StoreConfig    `yaml:"store"`
	DataAPI    DataAPIConfig  `yaml:"data_api"`
	DataSource DataSourceKind `yaml:"data_source" validate:"required,oneof=mock store"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr           string   `yaml:"addr" validate:"required"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig configures the DuckDB store.
type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// DataAPIConfig configures the remote trades API client.
type DataAPIConfig struct {
	BaseURL        string `yaml:"base_url" validate:"required,url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"required,min=1"`
	RefreshEnabled bool   `yaml:"refresh_enabled"`
}

// Timeout returns the request timeout as a duration.
func (c DataAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Store: StoreConfig{
			Path: "polysight.duckdb",
		},
		DataAPI: DataAPIConfig{
			BaseURL:        dataapi.DefaultBaseURL,
			TimeoutSeconds: 15,
			RefreshEnabled: true,
		},
		DataSource: DataSourceStore,
	}
}

// Load reads the YAML config at path, fills unset fields with defaults, and
// validates the result. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to read config file", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config file", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the configuration against its validation tags.
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	return nil
}
