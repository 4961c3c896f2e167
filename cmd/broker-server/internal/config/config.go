// Package config provides configuration management for the broker standalone server.
// Settings come from an optional config file, BROKER_ environment variables and
// defaults, in that order of precedence below CLI flags.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/coregx/broker"
	"github.com/coregx/broker/cache"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "BROKER"

// Config holds all configuration for the broker server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Broker   BrokerConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration.
// An empty URL keeps all state in memory.
type DatabaseConfig struct {
	URL         string // sqlite://file.db, postgres://..., mysql://...
	Password    string // env only, injected into URL
	AutoMigrate bool
}

// BrokerConfig holds broker and worker tuning.
type BrokerConfig struct {
	CacheSize           int
	CachePolicy         string // fifo or lru
	DefaultMaxDepth     int
	DefaultExpiration   time.Duration
	WorkerInterval      time.Duration
	BatchSize           int
	EnableNotifications bool
	SeedFile            string
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret string // env only
	TokenTTL  time.Duration
}

// secretKeys may only be supplied through the environment.
var secretKeys = []string{"auth.jwt_secret", "database.password"}

// Load reads configuration from configPath (may be empty) and the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.url", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("broker.cache_size", 2000)
	v.SetDefault("broker.cache_policy", string(cache.PolicyFIFO))
	v.SetDefault("broker.default_max_depth", broker.DefaultMaxDepth)
	v.SetDefault("broker.default_expiration", "0s")
	v.SetDefault("broker.worker_interval", "1s")
	v.SetDefault("broker.batch_size", 100)
	v.SetDefault("broker.enable_notifications", true)
	v.SetDefault("broker.seed_file", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := validateNoSecretsInConfig(v); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			URL:         v.GetString("database.url"),
			Password:    v.GetString("database.password"),
			AutoMigrate: v.GetBool("database.auto_migrate"),
		},
		Broker: BrokerConfig{
			CacheSize:           v.GetInt("broker.cache_size"),
			CachePolicy:         strings.ToLower(v.GetString("broker.cache_policy")),
			DefaultMaxDepth:     v.GetInt("broker.default_max_depth"),
			DefaultExpiration:   v.GetDuration("broker.default_expiration"),
			WorkerInterval:      v.GetDuration("broker.worker_interval"),
			BatchSize:           v.GetInt("broker.batch_size"),
			EnableNotifications: v.GetBool("broker.enable_notifications"),
			SeedFile:            v.GetString("broker.seed_file"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			TokenTTL:  v.GetDuration("auth.token_ttl"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and required values. The JWT secret is checked
// by the commands that need it.
func (c *Config) Validate() error {
	return validation.Errors{
		"server":   c.Server.Validate(),
		"database": c.Database.Validate(),
		"broker":   c.Broker.Validate(),
		"auth":     c.Auth.Validate(),
	}.Filter()
}

// Validate implements validation.Validatable.
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&s.ReadTimeout, validation.Required),
		validation.Field(&s.WriteTimeout, validation.Required),
		validation.Field(&s.ShutdownTimeout, validation.Required),
	)
}

// Validate implements validation.Validatable.
func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.URL, validation.When(d.URL != "", validation.By(checkDatabaseURL))),
	)
}

// Validate implements validation.Validatable.
func (b BrokerConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.CacheSize, validation.Required, validation.Min(1)),
		validation.Field(&b.CachePolicy, validation.Required,
			validation.In(string(cache.PolicyFIFO), string(cache.PolicyLRU))),
		validation.Field(&b.DefaultMaxDepth, validation.Required, validation.Min(1)),
		validation.Field(&b.DefaultExpiration, validation.Min(time.Duration(0))),
		validation.Field(&b.WorkerInterval, validation.Required),
		validation.Field(&b.BatchSize, validation.Required, validation.Min(1)),
	)
}

// Validate implements validation.Validatable.
func (a AuthConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.TokenTTL, validation.Required),
	)
}

// DSN returns the database URL with the password from the environment
// applied, if one is set.
func (d DatabaseConfig) DSN() (string, error) {
	if d.Password == "" {
		return d.URL, nil
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", fmt.Errorf("invalid database URL: %w", err)
	}
	username := ""
	if u.User != nil {
		username = u.User.Username()
	}
	u.User = url.UserPassword(username, d.Password)
	return u.String(), nil
}

// Policy returns the configured cache eviction policy.
func (b BrokerConfig) Policy() cache.PolicyKind {
	return cache.PolicyKind(b.CachePolicy)
}

func checkDatabaseURL(value interface{}) error {
	s, _ := value.(string)
	if _, _, err := broker.ParseDatabaseURL(s); err != nil {
		return err
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets.
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range secretKeys {
		if v.InConfig(key) {
			envVar := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
			return fmt.Errorf("%s not allowed in config files (use %s environment variable)", key, envVar)
		}
	}
	return nil
}
