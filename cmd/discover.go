package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/internal/enrichment"
	"github.com/sells-group/opportunity-intel/internal/schedule"
)

var (
	discoverLocalities []string
	discoverToday      bool
	discoverSkipEnrich bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover new urban-renewal complexes in localities",
	Long:  "Asks the research engine for urban-renewal complexes in each locality, drops known and undersized ones, stores the rest and schedules their enrichment.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(discoverLocalities) > 0 {
			cfg.Discovery.Localities = discoverLocalities
		}
		if discoverSkipEnrich {
			cfg.Discovery.SkipEnrichment = true
		}

		env, err := initEnv(ctx, "discovery")
		if err != nil {
			return err
		}
		defer env.Close()

		localities := env.localities()
		if discoverToday {
			localities = schedule.Rotation{Localities: localities, Shards: cfg.Discovery.RotationShards}.ForDay(time.Now().UTC())
		}
		if len(localities) == 0 {
			return eris.New("no localities to discover")
		}

		start := time.Now().UTC()
		sum := env.Discovery.Run(ctx, localities)
		printSummary(cmd.OutOrStdout(), "Discovery", sum)

		if env.Orchestrator != nil {
			waitForJobs(cmd, env.Orchestrator, start)
		}
		return nil
	},
}

// waitForJobs blocks until the enrichment jobs created since start finish
// and prints each.
func waitForJobs(cmd *cobra.Command, orch *enrichment.Orchestrator, start time.Time) {
	ctx := cmd.Context()
	jobs, err := orch.ListJobs(ctx)
	if err != nil {
		zap.L().Warn("list enrichment jobs", zap.Error(err))
		return
	}
	for _, j := range jobs {
		if j.Status.Finished() || j.CreatedAt.Before(start) {
			continue
		}
		done, err := orch.Wait(ctx, j.ID, 2*time.Second)
		if err != nil {
			zap.L().Warn("wait for enrichment job", zap.String("job_id", j.ID), zap.Error(err))
			continue
		}
		printJob(cmd.OutOrStdout(), done)
	}
}

func init() {
	discoverCmd.Flags().StringSliceVar(&discoverLocalities, "locality", nil, "localities to scan (default from config)")
	discoverCmd.Flags().BoolVar(&discoverToday, "today", false, "scan only today's rotation shard")
	discoverCmd.Flags().BoolVar(&discoverSkipEnrich, "skip-enrichment", false, "store new complexes without enriching them")
	rootCmd.AddCommand(discoverCmd)
}
