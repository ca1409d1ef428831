// Package config provides configuration management for ssbridge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jmylchreest/ssbridge/pkg/httpclient"
)

// Default configuration values.
const (
	defaultServerPort             = 8080
	defaultServerTimeout          = 30 * time.Second
	defaultShutdownTimeout        = 10 * time.Second
	defaultFetchTimeout           = 30 * time.Second
	defaultRetryAttempts          = 3
	defaultRetryDelay             = time.Second
	defaultMaxRetryDelay          = 5 * time.Second
	defaultBackoffMultiplier      = 2.0
	defaultEarlyStopStatuses      = "404"
	defaultMaxResponseSize        = "64MB"
	defaultCircuitBreakerThresh   = 5
	defaultCircuitBreakerTimeout  = 30 * time.Second
	defaultSegmentDuration        = 2 * time.Second
	defaultTimescale              = 10_000_000
	defaultUserAgent              = "ssbridge/1.0"
	maxPort                       = 65535
	minRecommendedSegmentDuration = 100 * time.Millisecond
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Fetch   FetchConfig   `mapstructure:"fetch" yaml:"fetch"`
	Buffer  BufferConfig  `mapstructure:"buffer" yaml:"buffer"`
	Sink    SinkConfig    `mapstructure:"sink" yaml:"sink"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// CORSOrigins lists origins allowed to fetch converted fragments from a browser.
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
	// Redact lists attribute names whose values are masked in log output.
	Redact []string `mapstructure:"redact" yaml:"redact"`
}

// FetchConfig holds segment retrieval configuration.
type FetchConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryAttempts     int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	MaxRetryDelay     time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	// EarlyStopStatuses end a fetch successfully, e.g. "404,412" or "404-410".
	EarlyStopStatuses string `mapstructure:"early_stop_statuses" yaml:"early_stop_statuses"`
	// MaxResponseSize caps a single response body. Supports "64MB" style values.
	MaxResponseSize         ByteSize      `mapstructure:"max_response_size" yaml:"max_response_size"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout" yaml:"circuit_breaker_timeout"`
}

// BufferConfig holds buffer manager configuration.
type BufferConfig struct {
	// DefaultSegmentDuration is assumed for segments without a time window
	// when deriving the retry delay.
	DefaultSegmentDuration time.Duration `mapstructure:"default_segment_duration" yaml:"default_segment_duration"`
}

// SinkConfig holds media sink configuration.
type SinkConfig struct {
	// DefaultTimescale applies to tracks appended without an init segment.
	DefaultTimescale uint32 `mapstructure:"default_timescale" yaml:"default_timescale"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with SSBRIDGE_ and use underscores for nesting.
// Example: SSBRIDGE_FETCH_RETRY_ATTEMPTS=5.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ssbridge")
		v.AddConfigPath("$HOME/.ssbridge")
	}

	v.SetEnvPrefix("SSBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.redact", []string{"authorization", "token", "password"})

	// Fetch defaults
	v.SetDefault("fetch.timeout", defaultFetchTimeout)
	v.SetDefault("fetch.retry_attempts", defaultRetryAttempts)
	v.SetDefault("fetch.retry_delay", defaultRetryDelay)
	v.SetDefault("fetch.max_retry_delay", defaultMaxRetryDelay)
	v.SetDefault("fetch.backoff_multiplier", defaultBackoffMultiplier)
	v.SetDefault("fetch.user_agent", defaultUserAgent)
	v.SetDefault("fetch.early_stop_statuses", defaultEarlyStopStatuses)
	v.SetDefault("fetch.max_response_size", defaultMaxResponseSize)
	v.SetDefault("fetch.circuit_breaker_threshold", defaultCircuitBreakerThresh)
	v.SetDefault("fetch.circuit_breaker_timeout", defaultCircuitBreakerTimeout)

	// Buffer defaults
	v.SetDefault("buffer.default_segment_duration", defaultSegmentDuration)

	// Sink defaults
	v.SetDefault("sink.default_timescale", defaultTimescale)
}

// Defaults returns the configuration produced by SetDefaults alone.
func Defaults() (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling defaults: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Fetch validation
	if c.Fetch.RetryAttempts < 1 {
		return fmt.Errorf("fetch.retry_attempts must be at least 1")
	}
	if c.Fetch.BackoffMultiplier < 1 {
		return fmt.Errorf("fetch.backoff_multiplier must be at least 1")
	}
	if c.Fetch.MaxResponseSize < 0 {
		return fmt.Errorf("fetch.max_response_size must not be negative")
	}
	if _, err := httpclient.ParseStatusCodes(c.Fetch.EarlyStopStatuses); err != nil {
		return fmt.Errorf("fetch.early_stop_statuses: %w", err)
	}

	// Buffer validation
	if c.Buffer.DefaultSegmentDuration < minRecommendedSegmentDuration {
		return fmt.Errorf("buffer.default_segment_duration must be at least %s", minRecommendedSegmentDuration)
	}

	// Sink validation
	if c.Sink.DefaultTimescale == 0 {
		return fmt.Errorf("sink.default_timescale must be positive")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EarlyStopSet parses EarlyStopStatuses. Validate has already rejected
// malformed values.
func (c *FetchConfig) EarlyStopSet() *httpclient.StatusCodeSet {
	set, err := httpclient.ParseStatusCodes(c.EarlyStopStatuses)
	if err != nil {
		return httpclient.NewStatusCodeSet()
	}
	return set
}
