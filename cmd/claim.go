package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim",
		Short: "Run one claimer pass: turn due schedules into queued grid runs.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			created, err := a.Claimer.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			a.Log.Info("claim pass complete", zap.Int("runs_created", created))
			return nil
		},
	}
}
