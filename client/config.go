// Package client creates and manages the lifecycle of etcd clients for the
// kit: configuration loading and validation, client construction, and an
// idempotent start/stop wrapper.
package client

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	// DefaultEndpoint is only useful on a developer machine or in tests.
	DefaultEndpoint = "localhost:2379"

	// DefaultDialTimeout bounds the initial connection attempt.
	DefaultDialTimeout = 15 * time.Second

	// DefaultSessionTTL is the lease TTL granted to coordination sessions
	// (locks, elections) created against the client.
	DefaultSessionTTL = 60 * time.Second

	// DefaultKeepAliveTime is how often the client probes an idle
	// connection.
	DefaultKeepAliveTime = 30 * time.Second

	// DefaultKeepAliveTimeout is how long the client waits for a probe
	// answer before considering the connection dead.
	DefaultKeepAliveTimeout = 10 * time.Second

	// DefaultHealthCheckName names the health check registered for the
	// client.
	DefaultHealthCheckName = "etcd"
)

// Config holds the etcd connection settings. The mapstructure tags are used
// by Viper to unmarshal the data; the validate tags are enforced by
// Validate.
type Config struct {
	Endpoints        []string      `mapstructure:"endpoints" validate:"required,min=1,dive,required"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout" validate:"required,gt=0"`
	SessionTTL       time.Duration `mapstructure:"session_ttl" validate:"required,gt=0"`
	KeepAliveTime    time.Duration `mapstructure:"keepalive_time" validate:"gte=0"`
	KeepAliveTimeout time.Duration `mapstructure:"keepalive_timeout" validate:"gte=0"`
	AutoSyncInterval time.Duration `mapstructure:"auto_sync_interval" validate:"gte=0"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	HealthCheckName  string        `mapstructure:"health_check_name" validate:"required"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Endpoints:        []string{DefaultEndpoint},
		DialTimeout:      DefaultDialTimeout,
		SessionTTL:       DefaultSessionTTL,
		KeepAliveTime:    DefaultKeepAliveTime,
		KeepAliveTimeout: DefaultKeepAliveTimeout,
		HealthCheckName:  DefaultHealthCheckName,
	}
}

// Load loads configuration from an etcdkit.yaml file (in ./configs or the
// working directory) and environment variables, falling back to defaults
// for anything unset.
func Load() (Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("endpoints", defaults.Endpoints)
	v.SetDefault("dial_timeout", defaults.DialTimeout)
	v.SetDefault("session_ttl", defaults.SessionTTL)
	v.SetDefault("keepalive_time", defaults.KeepAliveTime)
	v.SetDefault("keepalive_timeout", defaults.KeepAliveTimeout)
	v.SetDefault("auto_sync_interval", defaults.AutoSyncInterval)
	v.SetDefault("health_check_name", defaults.HealthCheckName)

	v.SetConfigName("etcdkit")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvPrefix("etcdkit")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against its validate tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid etcd config: %w", err)
	}
	return nil
}
