package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.GRPCHost != "0.0.0.0" {
			t.Errorf("expected grpc_host 0.0.0.0, got %s", cfg.Server.GRPCHost)
		}
		if cfg.Server.GRPCPort != 50061 {
			t.Errorf("expected grpc_port 50061, got %d", cfg.Server.GRPCPort)
		}
		if cfg.Server.HTTPAddr != ":8080" {
			t.Errorf("expected http_addr :8080, got %s", cfg.Server.HTTPAddr)
		}
		if cfg.Server.RequestTimeout != 10*time.Second {
			t.Errorf("expected timeout 10s, got %v", cfg.Server.RequestTimeout)
		}
		if cfg.Cache.TTL != time.Minute {
			t.Errorf("expected cache ttl 1m, got %v", cfg.Cache.TTL)
		}
		if cfg.Storefront.PollInterval != 2*time.Second {
			t.Errorf("expected poll_interval 2s, got %v", cfg.Storefront.PollInterval)
		}
		if cfg.Database.URL != "" || cfg.Cache.RedisURL != "" {
			t.Errorf("expected storage disabled by default, got %+v %+v", cfg.Database, cfg.Cache)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("AG_SERVER_GRPC_PORT", "9999")
		t.Setenv("AG_SERVER_GRPC_HOST", "127.0.0.1")
		t.Setenv("AG_DATABASE_URL", "sqlite:///tmp/ag.db")
		t.Setenv("AG_STOREFRONT_POLL_INTERVAL", "500ms")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.GRPCPort != 9999 {
			t.Errorf("expected port 9999, got %d", cfg.Server.GRPCPort)
		}
		if cfg.Server.GRPCAddr() != "127.0.0.1:9999" {
			t.Errorf("expected addr 127.0.0.1:9999, got %s", cfg.Server.GRPCAddr())
		}
		if cfg.Database.URL != "sqlite:///tmp/ag.db" {
			t.Errorf("expected database url from env, got %s", cfg.Database.URL)
		}
		if cfg.Storefront.PollInterval != 500*time.Millisecond {
			t.Errorf("expected poll_interval 500ms, got %v", cfg.Storefront.PollInterval)
		}
	})

	t.Run("environment overrides config file", func(t *testing.T) {
		t.Setenv("AG_SERVER_GRPC_PORT", "8081")
		path := writeConfig(t, "server:\n  grpc_port: 9090\n  http_addr: \":9000\"\n")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.GRPCPort != 8081 {
			t.Errorf("expected env port 8081, got %d", cfg.Server.GRPCPort)
		}
		if cfg.Server.HTTPAddr != ":9000" {
			t.Errorf("expected file http_addr :9000, got %s", cfg.Server.HTTPAddr)
		}
	})

	t.Run("invalid port range", func(t *testing.T) {
		t.Setenv("AG_SERVER_GRPC_PORT", "70000")

		if _, err := LoadConfig(""); err == nil {
			t.Error("expected error for port > 65535")
		}
	})

	t.Run("invalid durations", func(t *testing.T) {
		t.Setenv("AG_CACHE_TTL", "0s")

		if _, err := LoadConfig(""); err == nil {
			t.Error("expected error for zero cache ttl")
		}
	})

	t.Run("missing config file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}

func TestLoadConfig_RejectsSecretsInFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "database password",
			content: "database:\n  url: postgres://db/autogift\n  password: hunter2\n",
			want:    "secrets not allowed in config files (use AG_DATABASE_PASSWORD environment variable)",
		},
		{
			name:    "redis password",
			content: "cache:\n  redis_password: hunter2\n",
			want:    "secrets not allowed in config files (use AG_CACHE_REDIS_PASSWORD environment variable)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error for secret in config file")
			}
			if err.Error() != tt.want {
				t.Errorf("wrong error message: %v", err)
			}
		})
	}
}

func TestLoadSecrets(t *testing.T) {
	t.Run("unset", func(t *testing.T) {
		t.Setenv("AG_DATABASE_PASSWORD", "")
		t.Setenv("AG_CACHE_REDIS_PASSWORD", "")

		s, err := LoadSecrets()
		if err != nil {
			t.Fatalf("LoadSecrets failed: %v", err)
		}
		if s.DatabasePassword != "" || s.RedisPassword != "" {
			t.Errorf("expected empty secrets, got %+v", s)
		}
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("AG_DATABASE_PASSWORD", " pg-secret ")
		t.Setenv("AG_CACHE_REDIS_PASSWORD", "redis-secret")

		s, err := LoadSecrets()
		if err != nil {
			t.Fatalf("LoadSecrets failed: %v", err)
		}
		if s.DatabasePassword != "pg-secret" {
			t.Errorf("expected trimmed database password, got %q", s.DatabasePassword)
		}
		if s.RedisPassword != "redis-secret" {
			t.Errorf("expected redis password, got %q", s.RedisPassword)
		}
	})

	t.Run("blank secret", func(t *testing.T) {
		t.Setenv("AG_DATABASE_PASSWORD", "   ")

		if _, err := LoadSecrets(); err == nil {
			t.Error("expected error for blank secret")
		}
	})
}
