package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/solatis/autogift/internal/core/cache"
	"github.com/solatis/autogift/internal/core/config"
	"github.com/solatis/autogift/internal/core/db"
	"github.com/solatis/autogift/internal/core/metrics"
	"github.com/solatis/autogift/internal/core/store"
	"github.com/solatis/autogift/internal/ports"
)

const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "autogift",
	Short:         "Cart auto-add gift rule engine",
	Long:          `autogift keeps gift lines in a shopping cart in sync with merchant rules, at checkout or against a live storefront cart.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger from --log-level and --log-format.
func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(logFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (want json or text)", logFormat)
	}
}

// loadConfig loads the config file and applies --db-url.
func loadConfig() (*config.Config, config.Secrets, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, config.Secrets{}, fmt.Errorf("failed to load config: %w", err)
	}
	if dbURL != "" {
		cfg.Database.URL = dbURL
	}
	secrets, err := config.LoadSecrets()
	if err != nil {
		return nil, config.Secrets{}, fmt.Errorf("failed to load secrets: %w", err)
	}
	return cfg, secrets, nil
}

// openDatabase opens the configured database, applying the password secret.
func openDatabase(ctx context.Context, cfg *config.Config, secrets config.Secrets) (*sqlx.DB, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database URL required (--db-url or database.url)")
	}
	url := cfg.Database.URL
	if secrets.DatabasePassword != "" {
		var err error
		if url, err = db.WithPassword(url, secrets.DatabasePassword); err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return conn, nil
}

// backend bundles the storage layers shared by serve, rules and index.
type backend struct {
	db      *sqlx.DB
	store   *store.Store
	cache   *cache.Catalog // nil when no redis URL is configured
	catalog ports.Catalog
	close   func()
}

// invalidate drops cached entries for shopID when caching is enabled.
func (b *backend) invalidate(ctx context.Context, shopID string) error {
	if b.cache == nil {
		return nil
	}
	return b.cache.Invalidate(ctx, shopID)
}

func openBackend(ctx context.Context, cfg *config.Config, secrets config.Secrets, logger *slog.Logger, m *metrics.Metrics) (*backend, error) {
	conn, err := openDatabase(ctx, cfg, secrets)
	if err != nil {
		return nil, err
	}
	st, err := store.New(conn, store.WithLogger(logger), store.WithMetrics(m))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	b := &backend{db: conn, store: st, catalog: st, close: func() { conn.Close() }}
	if cfg.Cache.RedisURL == "" {
		return b, nil
	}

	client, err := cache.NewRedisClient(ctx, cfg.Cache.RedisURL, secrets.RedisPassword)
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.cache = cache.New(client, st, cfg.Cache.TTL, cache.WithLogger(logger))
	b.catalog = b.cache
	b.close = func() {
		client.Close()
		conn.Close()
	}
	return b, nil
}

// newMetrics creates a registry holding the autogift, Go runtime and process
// metrics.
func newMetrics() (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg), reg
}
