package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/autogift/internal/core/server"
	"github.com/solatis/autogift/internal/ports"
	"github.com/solatis/autogift/internal/session"
	"github.com/solatis/autogift/internal/source"
	"github.com/solatis/autogift/internal/storefront"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep a live storefront cart in sync with the gift rules",
	Long: `Watch polls a storefront cart through the AJAX cart API and applies the
intents of every cycle. Rules and the collection index come from files
(--rules, --index) or, with --shop, from the configured database.
Send SIGHUP to force a full re-evaluation.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("base-url", "", "storefront origin (overrides storefront.base_url)")
	watchCmd.Flags().String("rules", "", "rule document (JSON or YAML), re-read every cycle")
	watchCmd.Flags().String("index", "", "collection index document")
	watchCmd.Flags().String("shop", "", "load rules and index for this shop from the database")
	watchCmd.Flags().Duration("interval", 0, "poll interval (overrides storefront.poll_interval)")
	watchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	watchCmd.MarkFlagsMutuallyExclusive("rules", "shop")
	watchCmd.MarkFlagsMutuallyExclusive("index", "shop")
	watchCmd.MarkFlagsOneRequired("rules", "shop")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("base-url") {
		cfg.Storefront.BaseURL, _ = cmd.Flags().GetString("base-url")
	}
	if cmd.Flags().Changed("interval") {
		cfg.Storefront.PollInterval, _ = cmd.Flags().GetDuration("interval")
	}
	if cfg.Storefront.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := storefront.NewClient(storefront.ClientConfig{
		BaseURL: cfg.Storefront.BaseURL,
		Timeout: cfg.Server.RequestTimeout,
	})
	if err != nil {
		return err
	}

	var (
		ruleSet ports.RuleSetProvider
		index   ports.CollectionIndexProvider
	)
	if shop, _ := cmd.Flags().GetString("shop"); shop != "" {
		b, err := openBackend(ctx, cfg, secrets, logger, nil)
		if err != nil {
			return err
		}
		defer b.close()
		catalog := ports.ForShop(b.catalog, shop)
		ruleSet, index = catalog, catalog
	} else {
		rulesPath, _ := cmd.Flags().GetString("rules")
		indexPath, _ := cmd.Flags().GetString("index")
		ruleSet = source.NewRuleFile(rulesPath, source.WithLogger(logger))
		index = source.NewIndexFile(indexPath)
	}

	m, registry := newMetrics()
	s := session.New(client, client, ruleSet, index,
		session.WithLogger(logger), session.WithMetrics(m))

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		metricsServer := &http.Server{
			Addr:              addr,
			Handler:           server.NewMetricsRouter(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
		defer metricsServer.Close()
	}

	// SIGHUP forces the next cycle to evaluate even if nothing changed.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	triggers := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				s.Reset()
				select {
				case triggers <- struct{}{}:
				default:
				}
			}
		}
	}()

	logger.Info("watching storefront cart",
		"base_url", cfg.Storefront.BaseURL,
		"interval", cfg.Storefront.PollInterval)
	if err := s.Run(ctx, cfg.Storefront.PollInterval, triggers); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
