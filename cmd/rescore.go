package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/opportunity-intel/internal/store"
)

var rescoreIDs []int64

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute scores, tiers and listing stress",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		ids := rescoreIDs
		if len(ids) == 0 {
			ids, err = allEntityIDs(cmd, env.Store)
			if err != nil {
				return err
			}
		}
		printSummary(cmd.OutOrStdout(), "Rescore", env.Scoring.RescoreAll(ctx, ids))
		return nil
	},
}

const pageSize = 500

// allEntityIDs pages through every stored entity.
func allEntityIDs(cmd *cobra.Command, st store.Store) ([]int64, error) {
	var ids []int64
	for offset := 0; ; offset += pageSize {
		page, err := st.ListEntities(cmd.Context(), store.EntityFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			ids = append(ids, e.ID)
		}
		if len(page) < pageSize {
			return ids, nil
		}
	}
}

func init() {
	rescoreCmd.Flags().Int64SliceVar(&rescoreIDs, "id", nil, "entity ids to rescore (default: all)")
	rootCmd.AddCommand(rescoreCmd)
}
