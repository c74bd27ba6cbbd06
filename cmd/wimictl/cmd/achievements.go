package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wimi-app/wimi/internal/app"
)

func AchievementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "achievements <challenge-id> <user-id>",
		Short: "Recompute and print a participant's achievements",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				sum, err := a.AchievementService.ComputeAchievements(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "cycles:         %d\n", sum.ExpectedCycles)
				fmt.Fprintf(out, "on time:        %d\n", sum.OnTime)
				fmt.Fprintf(out, "late:           %d\n", sum.Late)
				fmt.Fprintf(out, "missed:         %d\n", sum.Missed)
				fmt.Fprintf(out, "success rate:   %.1f%%\n", sum.SuccessRate*100)
				fmt.Fprintf(out, "current streak: %d\n", sum.CurrentStreak)
				fmt.Fprintf(out, "best streak:    %d\n", sum.BestStreak)
				return nil
			})
		},
	}
}
