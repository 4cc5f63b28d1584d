package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/durableflow/engine/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the debug HTTP surface (/healthz, /metrics, /workflows/{id})",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := bootstrap()
		if err != nil {
			return err
		}
		defer d.close()

		d.logger.Info("durableflow engine starting",
			zap.String("version", serviceVersion),
			zap.String("environment", d.cfg.App.Environment))

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		server := httpapi.NewServer(d.cfg.HTTP.Address, d.gw, d.logger, serviceVersion)
		return server.Start(ctx)
	},
}
