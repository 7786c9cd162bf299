package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verifymyprovider/vmp/internal/api"
	"github.com/verifymyprovider/vmp/internal/monitoring"
	"github.com/verifymyprovider/vmp/internal/verification"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the directory API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		collector := monitoring.NewCollector(e.Directory, e.Runs, e.Freshness)
		verifier := verification.NewService(e.Directory, e.Scorer, verification.Config{
			HashSalt:    cfg.Server.HashSalt,
			SybilWindow: time.Duration(cfg.Server.SybilWindowDays) * 24 * time.Hour,
		})

		server, err := api.New(api.Deps{
			Directory: e.Directory,
			Verifier:  verifier,
			Scorer:    e.Scorer,
			Freshness: e.Freshness,
			Stats:     collector,
			Registry:  registry,
		}, cfg.Server, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return eris.Wrap(err, "serve: build api")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		if cfg.Monitoring.Enabled {
			if err := cfg.Validate("monitoring"); err != nil {
				return err
			}
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			timeout := time.Duration(cfg.Server.ShutdownTimeoutS) * time.Second
			if timeout <= 0 {
				timeout = 15 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), timeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
