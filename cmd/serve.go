package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/opportunity-intel/internal/api"
	"github.com/sells-group/opportunity-intel/internal/schedule"
)

var (
	servePort       int
	serveNoSchedule bool
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job API and the background schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		handler, err := api.NewHandler(api.Deps{
			Jobs:       env.Orchestrator,
			Discoverer: env.Discovery,
			Poller:     env.Tracker,
			Entities:   env.Store,
			Breakers:   env.Breakers,
		}, cfg.Server.CORSOrigins)
		if err != nil {
			return eris.Wrap(err, "build api")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		if !serveNoSchedule {
			runner := buildRunner(env)
			g.Go(func() error {
				runner.Run(gctx)
				return nil
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
			return env.Orchestrator.Shutdown(sctx)
		})

		return g.Wait()
	},
}

// buildRunner wires the daily discovery rotation, committee polling and job
// pruning.
func buildRunner(env *appEnv) *schedule.Runner {
	var pruner schedule.Pruner
	if env.Orchestrator != nil {
		pruner = env.Orchestrator
	}
	return schedule.NewRunner(
		schedule.Rotation{Localities: env.localities(), Shards: cfg.Discovery.RotationShards},
		env.Discovery, env.Tracker, pruner,
		schedule.Config{
			DiscoveryHourUTC: cfg.Discovery.RunHourUTC,
			PollInterval:     cfg.Committee.PollInterval(),
			JobRetention:     cfg.Jobs.Retention(),
		},
	)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-schedule", false, "serve the API without background discovery and polling")
	rootCmd.AddCommand(serveCmd)
}
