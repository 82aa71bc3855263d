package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"swapfeed/internal/api"
	"swapfeed/internal/quote"
	"swapfeed/internal/swap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the price feed and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Server.Port = port
		}
		if !logger.IsLevelEnabled(logrus.DebugLevel) {
			gin.SetMode(gin.ReleaseMode)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ctrl, err := newController(cfg)
		if err != nil {
			return err
		}
		if err := ctrl.Start(ctx, cfg.Feed.Interval, cfg.Feed.AutoRefresh); err != nil {
			return fmt.Errorf("start feed: %w", err)
		}

		server := api.New(api.Options{
			Feed:           ctrl,
			Quotes:         quote.NewEngine(quote.DeterministicBalance{}),
			Swaps:          swap.NewSubmitter(swap.SimulatedExecutor{Delay: cfg.Swap.Delay}, logger),
			Logger:         logger,
			CORSOrigins:    cfg.Server.CORSOrigins,
			RefreshTimeout: cfg.Server.RequestTimeout,
		})

		srv := &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           server.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      cfg.Server.RequestTimeout + 10*time.Second,
			IdleTimeout:       60 * time.Second,
		}
		srv.RegisterOnShutdown(server.Close)

		errCh := make(chan error, 1)
		go func() {
			logger.WithField("port", cfg.Server.Port).Info("server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		var serveErr error
		select {
		case <-ctx.Done():
		case serveErr = <-errCh:
		}

		// graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ctrl.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("feed did not stop in time")
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("server shutdown")
		}
		if serveErr != nil {
			return fmt.Errorf("server: %w", serveErr)
		}
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "listen port (overrides server.port)")
}
