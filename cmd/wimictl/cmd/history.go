package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/wimi-app/wimi/internal/app"
)

func HistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <challenge-id> <user-id>",
		Short: "Show a participant's classified check-ins",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				records, err := a.CheckInService.History(args[0], args[1])
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no check-ins recorded")
					return nil
				}

				for _, r := range records {
					arrived := "-"
					if r.ArrivedAt != nil {
						arrived = r.ArrivedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s  arrived %s\n", r.CycleID, r.Classification, arrived)
				}
				return nil
			})
		},
	}
}
