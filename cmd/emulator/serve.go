package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/health"

	httpserver "github.com/cartridge/emulator/internal/http"
	"github.com/cartridge/emulator/internal/metrics"
	"github.com/cartridge/emulator/internal/rpc"
	"github.com/cartridge/emulator/internal/supervisor"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the environment over gRPC and the leaderboard over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), c)
		},
	}
	cmd.Flags().String("http-addr", ":8080", "HTTP listen address")
	cmd.Flags().String("grpc-addr", ":50051", "gRPC listen address")
	bind(c.v, cmd.Flags(), map[string]string{
		"server.http_addr": "http-addr",
		"server.grpc_addr": "grpc-addr",
	})
	return cmd
}

func runServe(ctx context.Context, c *cli) error {
	cfg, logger := c.cfg, c.logger
	collector := metrics.NewCollector(logger)
	healthServer := health.NewServer()

	s, err := newSession(cfg, logger, collector, supervisor.WithTransitionHook(rpc.HealthHook(healthServer)))
	if err != nil {
		return err
	}
	defer s.env.Close()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	grpcServer := rpc.NewServer(rpc.NewEngineService(s.env, logger), healthServer, collector, logger)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           httpserver.NewServer(store, s.sup, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server starting")
		errc <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info().Str("addr", cfg.Server.HTTPAddr).Msg("HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case serveErr = <-errc:
		logger.Error().Err(serveErr).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful HTTP shutdown failed")
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-shutdownCtx.Done():
		logger.Warn().Msg("shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	case <-stopped:
	}
	logger.Info().Msg("servers stopped")
	return serveErr
}
