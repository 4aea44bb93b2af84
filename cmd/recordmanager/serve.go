package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	v1 "recordmanager/internal/infrastructure/http/v1"
	"recordmanager/internal/infrastructure/metrics"
	"recordmanager/internal/infrastructure/storage/postgres"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin HTTP API",
		Long: `Serves health probes, Prometheus metrics and the record and dedup
record inspection and repair endpoints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, rt, err := openRuntime(cmd.Context(), root, "serve", metrics.NewCollector())
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if addr == "" {
				addr = rt.cfg.HTTP.Addr
			}

			router := v1.NewRouter(v1.RouterConfig{
				Services: rt.svc,
				Logger:   rt.log,
				Info: func() map[string]any {
					return map[string]any{"pool": postgres.GetPoolStats(rt.pool.Pool)}
				},
			})

			server := &http.Server{
				Addr:         addr,
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				rt.log.Infow("admin api starting", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case err := <-serverErr:
				return err
			case <-ctx.Done():
			}

			rt.log.Info("shutting down admin api...")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			rt.log.Info("admin api stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: http.addr from configuration)")

	return cmd
}
