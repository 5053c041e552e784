// Package discovery finds new urban-renewal complexes per locality through a
// research engine, filters out known and unqualified candidates, and inserts
// the rest as entities queued for enrichment.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/internal/alert"
	"github.com/sells-group/opportunity-intel/internal/match"
	"github.com/sells-group/opportunity-intel/internal/model"
	"github.com/sells-group/opportunity-intel/internal/research"
	"github.com/sells-group/opportunity-intel/internal/resilience"
)

// Source tags entities inserted by discovery.
const Source = "discovery"

// Store is the persistence discovery needs. InsertEntity must return false
// without error when the normalized (name, locality) already exists.
type Store interface {
	match.NameSource
	InsertEntity(ctx context.Context, e *model.Entity) (bool, error)
}

// Enricher schedules a background enrichment for a new entity and returns
// the job id.
type Enricher interface {
	EnrichAsync(ctx context.Context, entityID int64) (string, error)
}

// Config tunes discovery.
type Config struct {
	// MinExistingUnits drops candidates with fewer existing units.
	MinExistingUnits int
	// BetweenLocalities is the pause between research calls.
	BetweenLocalities time.Duration
	// Deep uses the research engine's deep model.
	Deep bool
	// SkipEnrichment inserts entities without scheduling enrichment.
	SkipEnrichment bool
}

// DefaultConfig returns the standard discovery configuration.
func DefaultConfig() Config {
	return Config{
		MinExistingUnits:  20,
		BetweenLocalities: 8 * time.Second,
	}
}

// Service runs discovery.
type Service struct {
	store    Store
	engine   research.Engine
	matcher  *match.Matcher
	sink     alert.Sink
	enricher Enricher
	cfg      Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a discovery Service.
func NewService(st Store, engine research.Engine, matcher *match.Matcher, sink alert.Sink, enricher Enricher, cfg Config) *Service {
	return &Service{
		store:    st,
		engine:   engine,
		matcher:  matcher,
		sink:     sink,
		enricher: enricher,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    resilience.SleepContext,
	}
}

// Run discovers each locality in order. A failing locality is recorded in
// the summary and does not stop the run.
func (s *Service) Run(ctx context.Context, localities []string) model.Summary {
	log := zap.L().With(zap.String("component", "discovery"))
	log.Info("discovery run starting", zap.Strings("localities", localities))

	var sum model.Summary
	for i, loc := range localities {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.BetweenLocalities); err != nil {
				break
			}
		}

		res, err := s.DiscoverLocality(ctx, loc)
		if err != nil {
			status := model.ItemFailed
			if errors.Is(err, research.ErrNoJSON) {
				status = model.ItemSkipped
			}
			log.Warn("locality discovery failed", zap.String("locality", loc), zap.Error(err))
			sum.Record(model.ItemResult{Name: loc, Status: status, Error: err.Error()})
			continue
		}
		sum.Merge(res)
	}

	log.Info("discovery run complete",
		zap.Int("scanned", sum.Scanned),
		zap.Int("inserted", sum.Succeeded),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)
	return sum
}

// DiscoverLocality runs one research call for a locality and inserts the
// new candidates. Each candidate becomes one summary item: inserted
// candidates succeed, known or unqualified ones are skipped.
func (s *Service) DiscoverLocality(ctx context.Context, locality string) (model.Summary, error) {
	canonical := s.matcher.Localities().Canonical(locality)
	log := zap.L().With(zap.String("component", "discovery"), zap.String("locality", canonical))

	known, err := s.matcher.Snapshot(ctx, canonical)
	if err != nil {
		return model.Summary{}, eris.Wrapf(err, "discovery: snapshot %s", canonical)
	}

	var resp response
	_, err = research.AskJSON(ctx, s.engine, research.Query{
		System:  systemPrompt,
		Prompt:  BuildPrompt(canonical, known.Names()),
		Deep:    s.cfg.Deep,
		Purpose: "discovery",
	}, &resp)
	if err != nil {
		return model.Summary{}, eris.Wrapf(err, "discovery: research %s", canonical)
	}
	log.Info("research returned candidates",
		zap.Int("candidates", len(resp.Projects)),
		zap.Int("known", known.Len()),
	)

	var sum model.Summary
	for _, c := range resp.Projects {
		if ctx.Err() != nil {
			break
		}
		if dq, reason := Disqualify(c, known, s.cfg.MinExistingUnits); dq {
			log.Debug("candidate skipped", zap.String("name", c.Name), zap.String("reason", reason))
			sum.Record(model.ItemResult{Name: c.Name, Status: model.ItemSkipped, Error: reason})
			continue
		}

		e := c.Entity(canonical, s.now())
		inserted, err := s.store.InsertEntity(ctx, &e)
		if err != nil {
			log.Error("insert entity failed", zap.String("name", e.Name), zap.Error(err))
			sum.Record(model.ItemResult{Name: e.Name, Status: model.ItemFailed, Error: err.Error()})
			continue
		}
		known.Add(c.Name)
		if !inserted {
			// Lost a race with a concurrent insert; not an error.
			sum.Record(model.ItemResult{Name: e.Name, Status: model.ItemSkipped, Error: ReasonDuplicate})
			continue
		}

		log.Info("new entity discovered", zap.Int64("entity_id", e.ID), zap.String("name", e.Name))
		s.announce(ctx, e)
		sum.Record(model.ItemResult{EntityID: e.ID, Name: e.Name, Status: model.ItemSucceeded})
	}
	return sum, nil
}

// announce raises the new_entity alert and schedules enrichment. Failures
// are logged; the entity is already stored.
func (s *Service) announce(ctx context.Context, e model.Entity) {
	a := model.Alert{
		EntityID: e.ID,
		Type:     model.AlertNewEntity,
		Severity: model.SeverityInfo,
		Title:    fmt.Sprintf("New complex: %s", e.Name),
		Message: fmt.Sprintf("%s in %s with %d existing units (%s)",
			e.Name, e.Locality, e.ExistingUnits, statusLabel(e)),
		Payload: map[string]any{
			"locality":       e.Locality,
			"existing_units": e.ExistingUnits,
			"planned_units":  e.PlannedUnits,
			"status":         statusLabel(e),
			"source":         e.Source,
		},
	}
	if _, err := s.sink.Raise(ctx, a); err != nil {
		zap.L().Warn("discovery: raise new_entity failed", zap.Int64("entity_id", e.ID), zap.Error(err))
	}

	if s.cfg.SkipEnrichment || s.enricher == nil {
		return
	}
	jobID, err := s.enricher.EnrichAsync(ctx, e.ID)
	if err != nil {
		zap.L().Warn("discovery: schedule enrichment failed", zap.Int64("entity_id", e.ID), zap.Error(err))
		return
	}
	zap.L().Debug("discovery: enrichment scheduled", zap.Int64("entity_id", e.ID), zap.String("job_id", jobID))
}

func statusLabel(e model.Entity) string {
	if e.Status != "" {
		return string(e.Status)
	}
	if e.StageText != "" {
		return e.StageText
	}
	return "unknown stage"
}
