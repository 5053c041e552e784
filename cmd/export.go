package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/opportunity-intel/internal/export"
	"github.com/sells-group/opportunity-intel/internal/model"
	"github.com/sells-group/opportunity-intel/internal/store"
)

var (
	exportOut      string
	exportTier     string
	exportLocality string
	exportLimit    int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export ranked opportunities to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		filter := store.EntityFilter{Locality: exportLocality, Limit: exportLimit}
		if exportTier != "" {
			tier, err := model.ParseTier(exportTier)
			if err != nil {
				return err
			}
			filter.Tier = tier
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entities, err := st.ListEntities(ctx, filter)
		if err != nil {
			return err
		}
		if err := export.SaveXLSX(exportOut, entities); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d opportunities to %s\n", len(entities), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "opportunities.xlsx", "output workbook path")
	exportCmd.Flags().StringVar(&exportTier, "tier", "", "only this tier (hot, active, dormant)")
	exportCmd.Flags().StringVar(&exportLocality, "locality", "", "only this locality")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 500, "maximum rows")
	rootCmd.AddCommand(exportCmd)
}
