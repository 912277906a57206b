// Package config provides configuration management for autogift services.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable read by autogift.
const EnvPrefix = "AG"

// Config holds configuration for all autogift commands.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Cache      CacheConfig
	Storefront StorefrontConfig
}

// ServerConfig configures the gRPC and HTTP evaluation endpoints.
type ServerConfig struct {
	GRPCHost       string
	GRPCPort       int
	HTTPAddr       string
	RequestTimeout time.Duration
}

// DatabaseConfig configures rule and index storage.
type DatabaseConfig struct {
	URL string // sqlite:// or postgres://; empty disables storage
}

// CacheConfig configures the Redis catalog cache.
type CacheConfig struct {
	RedisURL string // empty disables caching
	TTL      time.Duration
}

// StorefrontConfig configures the storefront polling session.
type StorefrontConfig struct {
	BaseURL      string
	PollInterval time.Duration
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCHost:       "0.0.0.0",
			GRPCPort:       50061,
			HTTPAddr:       ":8080",
			RequestTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			TTL: 60 * time.Second,
		},
		Storefront: StorefrontConfig{
			PollInterval: 2 * time.Second,
		},
	}
}

// GRPCAddr returns host:port for the gRPC listener.
func (s ServerConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", s.GRPCHost, s.GRPCPort)
}

// Secrets holds credentials that are only ever read from the environment.
type Secrets struct {
	DatabasePassword string
	RedisPassword    string
}

// LoadSecrets reads AG_DATABASE_PASSWORD and AG_CACHE_REDIS_PASSWORD.
// Values are trimmed; a value that is only whitespace is rejected.
func LoadSecrets() (Secrets, error) {
	var s Secrets
	var err error
	if s.DatabasePassword, err = secretFromEnv(EnvPrefix + "_DATABASE_PASSWORD"); err != nil {
		return Secrets{}, err
	}
	if s.RedisPassword, err = secretFromEnv(EnvPrefix + "_CACHE_REDIS_PASSWORD"); err != nil {
		return Secrets{}, err
	}
	return s, nil
}

func secretFromEnv(key string) (string, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return "", nil
	}
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return "", fmt.Errorf("%s: secret must not be blank", key)
	}
	return trimmed, nil
}
