package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/internal/model"
)

var (
	enrichIDs               []int64
	enrichMode              string
	enrichLocality          string
	enrichStaleAfter        time.Duration
	enrichMinAttractiveness float64
	enrichLimit             int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run an enrichment batch in the foreground",
	Long:  "Enriches the given entity ids, or the entities matching the filter flags, through the research and validation engines and rescores them. Interrupting cancels the job after the current item.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mode, err := model.ParseMode(enrichMode)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		sel := model.Selection{
			IDs:               enrichIDs,
			Locality:          enrichLocality,
			StaleAfter:        model.Duration(enrichStaleAfter),
			MinAttractiveness: enrichMinAttractiveness,
			Limit:             enrichLimit,
		}
		id, err := env.Orchestrator.StartBatch(ctx, sel, mode)
		if err != nil {
			return err
		}
		zap.L().Info("enrichment job started", zap.String("job_id", id))

		job, err := env.Orchestrator.Wait(ctx, id, time.Second)
		if err != nil && ctx.Err() != nil {
			// Interrupted: stop after the current item and report.
			bg := context.WithoutCancel(ctx)
			if cerr := env.Orchestrator.Cancel(bg, id); cerr != nil {
				zap.L().Warn("cancel enrichment job", zap.Error(cerr))
			}
			job, err = env.Orchestrator.Wait(bg, id, time.Second)
		}
		if err != nil {
			return err
		}
		printJob(cmd.OutOrStdout(), job)
		if job.Status == model.JobFailed {
			return eris.Errorf("enrichment job %s failed", id)
		}
		return nil
	},
}

func init() {
	enrichCmd.Flags().Int64SliceVar(&enrichIDs, "id", nil, "entity ids to enrich (overrides filters)")
	enrichCmd.Flags().StringVar(&enrichMode, "mode", "standard", "fast, standard or full")
	enrichCmd.Flags().StringVar(&enrichLocality, "locality", "", "only entities in this locality")
	enrichCmd.Flags().DurationVar(&enrichStaleAfter, "stale-after", 7*24*time.Hour, "only entities not enriched within this duration")
	enrichCmd.Flags().Float64Var(&enrichMinAttractiveness, "min-attractiveness", 0, "minimum attractiveness score")
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 100, "maximum entities per batch")
	rootCmd.AddCommand(enrichCmd)
}
