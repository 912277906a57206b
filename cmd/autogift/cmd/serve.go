package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/autogift/internal/core/api"
	"github.com/solatis/autogift/internal/core/server"
	"github.com/solatis/autogift/internal/rules"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC and HTTP evaluation endpoints",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50061, "gRPC server port")
	serveCmd.Flags().String("http-addr", ":8080", "HTTP listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.GRPCHost, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.GRPCPort, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("http-addr") {
		cfg.Server.HTTPAddr, _ = cmd.Flags().GetString("http-addr")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, registry := newMetrics()
	b, err := openBackend(ctx, cfg, secrets, logger, m)
	if err != nil {
		return err
	}
	defer b.close()

	service, err := api.NewEvaluationService(b.catalog, rules.NewEngine(rules.WithLogger(logger)), m, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	grpcServer, err := server.NewGRPCServer(cfg.Server, service, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	httpServer := server.NewHTTPServer(cfg.Server,
		server.NewRouter(server.NewHandler(service, logger, cfg.Server.RequestTimeout), registry))

	logger.Info("starting autogift",
		"version", Version,
		"grpc_addr", cfg.Server.GRPCAddr(),
		"http_addr", cfg.Server.HTTPAddr,
		"cache", b.cache != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return grpcServer.Start(gctx) })
	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return errors.Join(
			grpcServer.Shutdown(shutdownCtx),
			httpServer.Shutdown(shutdownCtx),
		)
	})
	return g.Wait()
}
