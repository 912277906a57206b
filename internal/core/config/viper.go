package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// secretKeys may only be provided through the environment.
var secretKeys = []string{"database.password", "cache.redis_password"}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults matching DefaultConfig
	d := DefaultConfig()
	v.SetDefault("server.grpc_host", d.Server.GRPCHost)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)
	v.SetDefault("server.http_addr", d.Server.HTTPAddr)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("database.url", "")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", d.Cache.TTL.String())
	v.SetDefault("storefront.base_url", "")
	v.SetDefault("storefront.poll_interval", d.Storefront.PollInterval.String())

	// Bind environment variables with AG_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Secrets must be environment-only per 12-factor principles
		if err := validateNoSecretsInConfig(v); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			GRPCHost:       v.GetString("server.grpc_host"),
			GRPCPort:       v.GetInt("server.grpc_port"),
			HTTPAddr:       v.GetString("server.http_addr"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		Cache: CacheConfig{
			RedisURL: v.GetString("cache.redis_url"),
			TTL:      v.GetDuration("cache.ttl"),
		},
		Storefront: StorefrontConfig{
			BaseURL:      v.GetString("storefront.base_url"),
			PollInterval: v.GetDuration("storefront.poll_interval"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks port range and positive durations.
func validateConfig(cfg *Config) error {
	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("grpc_port must be between 1 and 65535, got %d", cfg.Server.GRPCPort)
	}
	if cfg.Server.HTTPAddr == "" {
		return fmt.Errorf("http_addr must not be empty")
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %v", cfg.Cache.TTL)
	}
	if cfg.Storefront.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", cfg.Storefront.PollInterval)
	}
	return nil
}

// validateNoSecretsInConfig rejects config files carrying secrets. Only the
// file is inspected; the same keys set through the environment are fine.
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range secretKeys {
		if v.InConfig(key) {
			envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
			return fmt.Errorf("secrets not allowed in config files (use %s environment variable)", envKey)
		}
	}
	return nil
}
