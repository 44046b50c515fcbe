package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/granthub/granthub/internal/api"
	"github.com/granthub/granthub/internal/ingest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run trigger over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg, err := ingest.LoadRegistry(cfg.Ingest.SourcesFile)
		if err != nil {
			return err
		}
		st, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		p, closeFetch := newPipeline(cfg, st)
		defer closeFetch()

		srv, err := api.NewServer(p, reg, st, cfg.Server.AdminSecret)
		if err != nil {
			return err
		}
		srv.Retries = cfg.Ingest.Retries

		port := strconv.Itoa(cfg.Server.Port)
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetString("port")
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("server starting", zap.String("port", port))
			errCh <- srv.Start(port)
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		zap.L().Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("port", "", "listen port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}
