package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage per-business measurement schedules.",
	}
	cmd.AddCommand(newScheduleInitCmd())
	cmd.AddCommand(newScheduleActivateCmd())
	cmd.AddCommand(newScheduleDeactivateCmd())
	cmd.AddCommand(newScheduleSetTimeCmd())
	return cmd
}

func newScheduleInitCmd() *cobra.Command {
	var (
		day     string
		hour    int
		minute  int
		minLead int
	)
	cmd := &cobra.Command{
		Use:   "init <business-id>",
		Short: "Create a business's weekly schedule if it does not exist.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			weekday, err := parseWeekday(day)
			if err != nil {
				return err
			}
			if hour < 0 {
				hour = a.Cfg.Schedule.DefaultHour
			}
			if minute < 0 {
				minute = a.Cfg.Schedule.DefaultMinute
			}
			if minLead <= 0 {
				minLead = a.Cfg.Schedule.MinLeadMinutes
			}
			if err := a.Scheduler.Initialize(cmd.Context(), args[0], weekday, hour, minute, minLead); err != nil {
				return err
			}
			a.Log.Info("schedule initialized",
				zap.String("business_id", args[0]),
				zap.String("day", weekday.String()),
				zap.Int("hour", hour),
				zap.Int("minute", minute))
			return nil
		},
	}
	cmd.Flags().StringVar(&day, "day", "tuesday", "weekday for the weekly run")
	cmd.Flags().IntVar(&hour, "hour", -1, "target hour (24h clock)")
	cmd.Flags().IntVar(&minute, "minute", -1, "target minute")
	cmd.Flags().IntVar(&minLead, "min-lead-minutes", 0, "minimum lead before window close")
	return cmd
}

func newScheduleActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <business-id>",
		Short: "Activate a schedule and compute its next run.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			return a.Scheduler.SetActive(cmd.Context(), args[0], true)
		},
	}
}

func newScheduleDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <business-id>",
		Short: "Deactivate a schedule and clear its next run.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			return a.Scheduler.SetActive(cmd.Context(), args[0], false)
		},
	}
}

func newScheduleSetTimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-time <business-id> <HH:MM>",
		Short: "Change the schedule's target time-of-day.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			t, err := time.Parse("15:04", args[1])
			if err != nil {
				return fmt.Errorf("invalid time %q, want HH:MM: %w", args[1], err)
			}
			return a.Scheduler.UpdateTime(cmd.Context(), args[0], t.Hour(), t.Minute())
		},
	}
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}
