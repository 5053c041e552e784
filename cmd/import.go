package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/internal/ingest"
)

var (
	importFile    string
	importRescore bool
)

var importCmd = &cobra.Command{
	Use:   "import-listings",
	Short: "Load a scraped listing feed (CSV, TSV or XLSX)",
	Long:  "Upserts listings keyed by platform and external id. Rows that fail to parse are reported and skipped. Affected entities are rescored unless --rescore=false.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if importFile == "" {
			return eris.New("--file is required")
		}

		res, err := ingest.ReadListingsFile(ctx, importFile, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "import listings")
		}
		for _, r := range res.Rejected {
			zap.L().Warn("listing row rejected", zap.Int("row", r.Row), zap.String("error", r.Err))
		}

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Store.UpsertListings(ctx, res.Listings)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Imported %d listings (%d rows written, %d rejected)\n", len(res.Listings), n, len(res.Rejected))

		if importRescore {
			printSummary(out, "Rescore", env.Scoring.RescoreAll(ctx, entityIDs(res)))
		}
		return nil
	},
}

// entityIDs returns the distinct entity ids of the imported listings in
// first-seen order.
func entityIDs(res *ingest.Result) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, l := range res.Listings {
		if !seen[l.EntityID] {
			seen[l.EntityID] = true
			ids = append(ids, l.EntityID)
		}
	}
	return ids
}

func init() {
	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "listing feed path")
	importCmd.Flags().BoolVar(&importRescore, "rescore", true, "rescore affected entities")
	rootCmd.AddCommand(importCmd)
}
