package main

import (
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/wimi-app/wimi/cmd/wimictl/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "wimictl",
		Short:        "Operator tools for the wimi check-in worker",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cmd.MigrateCmd())
	rootCmd.AddCommand(cmd.CyclesCmd())
	rootCmd.AddCommand(cmd.HistoryCmd())
	rootCmd.AddCommand(cmd.AchievementsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
