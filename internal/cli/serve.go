package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"maestro/internal/behavior"
	"maestro/internal/gateway"
	"maestro/internal/maintenance"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket gateway",
		Long: `Start the gateway: the REST session API, the turn endpoint and the
websocket event stream, plus the scheduled maintenance sweeps and the
behavior pack watcher when they are enabled in the configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Behavior.Watch {
				watcher, err := behavior.NewWatcher(a.behavior, log)
				if err != nil {
					log.Warn().Err(err).Msg("behavior watcher unavailable")
				} else if err := watcher.Start(); err != nil {
					log.Warn().Err(err).Msg("behavior watcher failed to start")
				} else {
					defer watcher.Stop()
				}
			}

			if cfg.Maintenance.Enabled {
				svc := maintenance.New(a.store, a.pricing, maintenance.Config{
					PruneSchedule:   cfg.Maintenance.PruneSchedule,
					RetentionDays:   cfg.Maintenance.RetentionDays,
					RepriceSchedule: cfg.Maintenance.RepriceSchedule,
				}, log)
				if err := svc.Start(); err != nil {
					return fmt.Errorf("maintenance: %w", err)
				}
				defer svc.Stop()
			}

			gwCfg := gateway.DefaultConfig()
			if addr != "" {
				gwCfg.Addr = addr
			} else {
				gwCfg.Addr = cfg.Gateway.Addr()
			}
			srv := gateway.NewServer(gwCfg, a.store, a.engine, a.bus, log)

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", gwCfg.Addr).Msg("gateway listening")
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides gateway.host and gateway.port)")
	return cmd
}
