// Package config loads service configuration from .env files, the
// environment and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"geoarrow-convert/pkg/convert"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GEOARROW"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Convert ConvertConfig `mapstructure:"convert"`
	Storage StorageConfig `mapstructure:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the HTTP and Flight listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	FlightPort      int           `mapstructure:"flight_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// ConvertConfig holds the defaults applied to every conversion.
type ConvertConfig struct {
	BatchSize   int64  `mapstructure:"batch_size"`
	Format      string `mapstructure:"format"`      // stream, file
	Compression string `mapstructure:"compression"` // none, lz4, zstd
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.flight_port", 50051)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 2*time.Minute)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.max_body_bytes", int64(512<<20))

	viper.SetDefault("convert.batch_size", int64(convert.DefaultBatchSize))
	viper.SetDefault("convert.format", string(convert.FormatStream))
	viper.SetDefault("convert.compression", "none")

	viper.SetDefault("storage.data_dir", "./data")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// LoadDotEnv loads variables from .env files into the process environment.
// A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}

	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load reads configuration from the environment and an optional config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.HTTPPort)
	}
	if c.Server.FlightPort < 1 || c.Server.FlightPort > 65535 {
		return fmt.Errorf("invalid flight port: %d", c.Server.FlightPort)
	}
	if c.Server.HTTPPort == c.Server.FlightPort {
		return fmt.Errorf("http and flight servers cannot share port %d", c.Server.HTTPPort)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if c.Convert.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if _, err := convert.ParseFormat(c.Convert.Format); err != nil {
		return err
	}
	switch c.Convert.Compression {
	case "", "none", "lz4", "zstd":
	default:
		return fmt.Errorf("unknown compression: %s", c.Convert.Compression)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /: %q", c.Metrics.Path)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}

	return nil
}

// HTTPAddress returns the REST listener address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// FlightAddress returns the Flight listener address.
func (c *ServerConfig) FlightAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.FlightPort)
}

// Options turns the conversion defaults into convert options.
func (c *ConvertConfig) Options() ([]convert.Option, error) {
	format, err := convert.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}

	return []convert.Option{
		convert.WithBatchSize(c.BatchSize),
		convert.WithFormat(format),
		convert.WithCompression(c.Compression),
	}, nil
}

// SlogLevel maps the configured level name to a slog level, defaulting to info.
func (c *LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
