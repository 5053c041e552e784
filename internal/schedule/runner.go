package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/internal/model"
)

// Discoverer runs discovery over a set of localities.
type Discoverer interface {
	Run(ctx context.Context, localities []string) model.Summary
}

// Poller polls committee status for the entities that are due.
type Poller interface {
	PollDue(ctx context.Context) (model.Summary, error)
}

// Pruner drops finished jobs past retention.
type Pruner interface {
	Prune(retention time.Duration) int
}

// Config tunes the Runner.
type Config struct {
	// Tick is how often the runner checks for due work.
	Tick time.Duration
	// DiscoveryHourUTC is the hour of day discovery runs.
	DiscoveryHourUTC int
	// PollInterval is the spacing of committee polls. Zero disables polling.
	PollInterval time.Duration
	// JobRetention is passed to the pruner once an hour.
	JobRetention time.Duration
}

// Runner executes scheduled work in the background.
type Runner struct {
	rotation Rotation
	disc     Discoverer
	poller   Poller
	pruner   Pruner
	cfg      Config

	lastDiscovery time.Time
	lastPoll      time.Time
	lastPrune     time.Time

	now func() time.Time
}

// NewRunner creates a Runner. Any of disc, poller or pruner may be nil to
// leave that work unscheduled.
func NewRunner(rotation Rotation, disc Discoverer, poller Poller, pruner Pruner, cfg Config) *Runner {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	return &Runner{
		rotation: rotation,
		disc:     disc,
		poller:   poller,
		pruner:   pruner,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the schedule loop. It blocks until ctx is cancelled. Work runs
// on the loop goroutine, so a long discovery run delays the next tick.
func (r *Runner) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "schedule.runner"))
	log.Info("starting scheduler",
		zap.Duration("tick", r.cfg.Tick),
		zap.Int("discovery_hour_utc", r.cfg.DiscoveryHourUTC),
		zap.Duration("poll_interval", r.cfg.PollInterval),
	)

	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-ticker.C:
			r.step(ctx, log)
		}
	}
}

// step runs whatever is due at the current time.
func (r *Runner) step(ctx context.Context, log *zap.Logger) {
	now := r.now()

	if r.disc != nil && r.discoveryDue(now) {
		r.lastDiscovery = now
		localities := r.rotation.ForDay(now)
		if len(localities) == 0 {
			log.Debug("no localities due today")
		} else {
			sum := r.disc.Run(ctx, localities)
			log.Info("scheduled discovery complete",
				zap.Strings("localities", localities),
				zap.Int("inserted", sum.Succeeded),
				zap.Int("failed", sum.Failed),
			)
		}
	}

	if r.poller != nil && r.cfg.PollInterval > 0 && now.Sub(r.lastPoll) >= r.cfg.PollInterval {
		r.lastPoll = now
		sum, err := r.poller.PollDue(ctx)
		if err != nil {
			log.Error("schedule: committee poll failed", zap.Error(err))
		} else {
			log.Info("scheduled committee poll complete",
				zap.Int("scanned", sum.Scanned),
				zap.Int("updated", sum.Succeeded),
			)
		}
	}

	if r.pruner != nil && now.Sub(r.lastPrune) >= time.Hour {
		r.lastPrune = now
		r.pruner.Prune(r.cfg.JobRetention)
	}
}

func (r *Runner) discoveryDue(now time.Time) bool {
	if now.Hour() != r.cfg.DiscoveryHourUTC {
		return false
	}
	y1, d1 := r.lastDiscovery.Year(), r.lastDiscovery.YearDay()
	return y1 != now.Year() || d1 != now.YearDay()
}
