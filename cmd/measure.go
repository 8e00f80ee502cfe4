package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/localrank/gridrank/internal/proclock"
)

func newMeasureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "measure",
		Short: "Run one engine pass over the pending grid runs.",
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

			return a.Engine.RunOnce(cmd.Context())
		},
	}
}
