package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/wimi-app/wimi/internal/app"
)

func CyclesCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "cycles <challenge-id> <user-id>",
		Short: "Preview a participant's upcoming check-in cycles",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				windows, err := a.ScheduleService.UpcomingCycles(args[0], args[1], count)
				if err != nil {
					return err
				}

				job, err := a.JobRegistry.Jobs(args[0], args[1])
				if err != nil {
					return err
				}
				if job != nil {
					state := "complete"
					if !job.Complete {
						state = "partial"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "scheduled: %s (%d jobs, %s, updated %s)\n",
						job.CycleID, len(job.JobHandles), state, job.UpdatedAt.Format(time.RFC3339))
				}

				for _, w := range windows {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  check-in %s  grace until %s\n",
						w.ID, w.CheckIn.Format(time.RFC3339), w.GraceEnd.Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of cycles to show")
	return cmd
}
