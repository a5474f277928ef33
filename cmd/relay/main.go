package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/iamgatling/mxxc/internal/config"
	"github.com/iamgatling/mxxc/internal/logging"
	"github.com/iamgatling/mxxc/internal/relay"
	"github.com/iamgatling/mxxc/internal/server"
	"github.com/iamgatling/mxxc/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Run the mxxc signaling relay",
		Version:      version.Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (env: MXXC_RELAY_CONFIG)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadRelay(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewRelayLogger(cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := relay.NewHub(logger, relay.NewMetrics(reg), relay.Policy{
		MaxMembers: cfg.Room.Capacity,
		CodeLength: cfg.Room.CodeLength,
	})
	go hub.Run(ctx)

	handler := server.Routes(hub, reg, cfg.HTTP.AllowedOrigin, logger)
	srv := server.New(cfg.HTTP, handler, logger)

	logger.Infow("starting relay",
		"addr", cfg.HTTP.Addr(),
		"allowed_origin", cfg.HTTP.AllowedOrigin,
		"room_capacity", cfg.Room.Capacity,
		"code_length", cfg.Room.CodeLength,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Errorw("relay stopped", "error", err)
		return err
	}
	return nil
}
