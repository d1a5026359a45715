package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/race-economy/internal/app"
	"github.com/mmeshcher/race-economy/internal/scheduler"
)

// NewSchedulerCommand создаёт команды планировщика переходов.
func NewSchedulerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Offer transition scheduler",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run-due",
		Short: "Apply every transition that is due now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, rootOpts, "scheduler", func(a *app.App) func(context.Context) (scheduler.Report, error) {
				return a.Processor().RunDue
			})
		},
	})
	return cmd
}

// NewSweepCommand создаёт команды обходов восстановления.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Recovery sweeps",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "failsafe",
		Short: "Restore active offers whose transition was lost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, rootOpts, "failsafe", func(a *app.App) func(context.Context) (scheduler.Report, error) {
				return a.FailSafe().Run
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "safetynet",
		Short: "Repair players stuck without a valid offer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, rootOpts, "safetynet", func(a *app.App) func(context.Context) (scheduler.Report, error) {
				return a.SafetyNet().Run
			})
		},
	})
	return cmd
}

func runJob(cmd *cobra.Command, opts *RootOptions, name string, pick func(*app.App) func(context.Context) (scheduler.Report, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := opts.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := pick(a)(ctx)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), opts.Format, map[string]any{
		"job":      name,
		"scanned":  rep.Scanned,
		"applied":  rep.Applied,
		"restored": rep.Restored,
		"errors":   rep.Errors,
	})
}
