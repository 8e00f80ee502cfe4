package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/localrank/gridrank/internal/proclock"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the measurement daemon: claimer and engine ticks plus the ops API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}

			lock, err := proclock.Acquire(a.Cfg.Engine.LockPath)
			if err != nil {
				return fmt.Errorf("acquire engine lock: %w", err)
			}
			defer func() {
				if err := lock.Release(); err != nil {
					a.Log.Warn("release engine lock", zap.Error(err))
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			scheduler := cron.New()
			if _, err := scheduler.AddFunc(a.Cfg.Claimer.TickSchedule, func() {
				created, err := a.Claimer.RunOnce(ctx)
				if err != nil {
					a.Log.Error("claimer tick failed", zap.Error(err))
					return
				}
				if created > 0 {
					a.Log.Info("claimer tick", zap.Int("runs_created", created))
				}
			}); err != nil {
				return fmt.Errorf("register claimer tick: %w", err)
			}
			if _, err := scheduler.AddFunc(a.Cfg.Engine.TickSchedule, func() {
				if err := a.Engine.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.Log.Error("engine tick failed", zap.Error(err))
				}
			}); err != nil {
				return fmt.Errorf("register engine tick: %w", err)
			}
			scheduler.Start()
			defer scheduler.Stop()

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.Cfg.Server.Port),
				Handler:           a.API.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.Log.Info("ops server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				a.Log.Info("shutting down")
			case err := <-errCh:
				return fmt.Errorf("ops server: %w", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.Log.Warn("ops server shutdown", zap.Error(err))
			}
			return nil
		},
	}
}
