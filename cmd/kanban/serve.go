package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cheezy/kanban/internal/api"
	"github.com/cheezy/kanban/internal/events"
	"github.com/cheezy/kanban/internal/notify"
	"github.com/cheezy/kanban/internal/orchestrator"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the expiry sweeper and the webhook forwarder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer store.Close()

			bus := events.NewEventBus(events.WithDropHandler(func(ev events.Event) {
				logger.Warn("event dropped by slow subscriber", "type", ev.EventType(), "task", ev.TaskID())
			}))
			defer bus.Close()

			ecfg := engineConfig(cfg, logger)
			ecfg.Publisher = bus
			engine := orchestrator.New(store, ecfg)

			gin.SetMode(gin.ReleaseMode)
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           api.NewRouter(api.NewHandlers(engine, logger), logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("http server listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down http server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return engine.RunSweeper(gctx, cfg.SweepInterval())
			})
			if len(cfg.Notify.WebhookURLs) > 0 {
				hook := notify.New(notify.Config{
					Endpoints: cfg.Notify.WebhookURLs,
					Timeout:   cfg.NotifyTimeout(),
					Breaker:   notify.BreakerSettings{FailureThreshold: cfg.Notify.FailureThreshold},
					Logger:    logger,
				})
				ch := bus.SubscribeAll(cfg.Notify.BufferSize)
				g.Go(func() error { return hook.Run(gctx, ch) })
			}

			err = g.Wait()
			logger.Info("shutdown complete")
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}
