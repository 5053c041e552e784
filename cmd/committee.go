package main

import (
	"github.com/spf13/cobra"
)

var committeeIDs []int64

var committeeCmd = &cobra.Command{
	Use:   "committee",
	Short: "Poll planning-committee status",
	Long:  "Polls committee decisions for the given entity ids, or for every entity not polled recently, stamps first-time approvals and raises alerts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "committee")
		if err != nil {
			return err
		}
		defer env.Close()

		if len(committeeIDs) > 0 {
			printSummary(cmd.OutOrStdout(), "Committee", env.Tracker.PollIDs(ctx, committeeIDs))
			return nil
		}
		sum, err := env.Tracker.PollDue(ctx)
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), "Committee", sum)
		return nil
	},
}

func init() {
	committeeCmd.Flags().Int64SliceVar(&committeeIDs, "id", nil, "entity ids to poll (default: all due)")
	rootCmd.AddCommand(committeeCmd)
}
