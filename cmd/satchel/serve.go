package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/estrateji/satchel/internal/adapter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local proxy and the background sync scheduler",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e := a.engine
		if err := e.RegisterTasks(); err != nil {
			return err
		}
		e.Queue.Watch(ctx)

		srv := &http.Server{
			Addr:              a.cfg.Boundary.Listen,
			Handler:           e.Boundary,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			a.logger.Info("boundary listening", "addr", srv.Addr)
			fmt.Fprintf(cmd.OutOrStdout(), "listening on http://%s\n", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			if e.Online(ctx) {
				if err := e.Boundary.Install(ctx); err != nil {
					a.logger.Warn("precache incomplete", "error", err)
				}
			}
			e.Scheduler.Start()
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.Scheduler.Stop(shutdownCtx); err != nil {
				a.logger.Warn("scheduler did not stop cleanly", "error", err)
			}
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			return adapter.WatchConfig(ctx, a.logger, func(cfg *adapter.Config) {
				a.level.Set(adapter.ParseLogLevel(cfg.Logging.Level))
			})
		})

		return g.Wait()
	}),
}
