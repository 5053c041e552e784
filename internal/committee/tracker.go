// Package committee polls research engines for planning-committee decisions,
// persists first-time approvals with their certainty increments and raises
// the resulting alerts.
package committee

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/internal/alert"
	"github.com/sells-group/opportunity-intel/internal/model"
	"github.com/sells-group/opportunity-intel/internal/research"
	"github.com/sells-group/opportunity-intel/internal/resilience"
	"github.com/sells-group/opportunity-intel/internal/store"
)

// Store is the persistence the tracker needs.
type Store interface {
	GetEntity(ctx context.Context, id int64) (*model.Entity, error)
	ListEntities(ctx context.Context, filter store.EntityFilter) ([]model.Entity, error)
	ApplyCommitteeUpdate(ctx context.Context, id int64, at time.Time, fn store.CommitteeFunc) (*model.Entity, error)
	InsertHearing(ctx context.Context, h model.Hearing) (bool, error)
	ListAlerts(ctx context.Context, filter store.AlertFilter) ([]model.Alert, error)
}

// Rescorer recomputes an entity's scores after its certainty changed.
type Rescorer interface {
	Rescore(ctx context.Context, entityID int64) (*model.Scores, error)
}

// Config tunes polling.
type Config struct {
	// StaleAfter selects entities not polled within this duration.
	StaleAfter time.Duration
	// BatchLimit caps entities per PollDue run.
	BatchLimit int
	// BetweenItems is the pause between research calls.
	BetweenItems time.Duration
	// HearingHorizon ignores hearings further out than this.
	HearingHorizon time.Duration
}

// DefaultConfig returns the standard polling configuration.
func DefaultConfig() Config {
	return Config{
		StaleAfter:     72 * time.Hour,
		BatchLimit:     50,
		BetweenItems:   5 * time.Second,
		HearingHorizon: 90 * 24 * time.Hour,
	}
}

// Tracker polls committee status for entities.
type Tracker struct {
	store    Store
	engine   research.Engine
	rescorer Rescorer
	sink     alert.Sink
	cfg      Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTracker creates a Tracker. All collaborators are required.
func NewTracker(st Store, engine research.Engine, rescorer Rescorer, sink alert.Sink, cfg Config) *Tracker {
	return &Tracker{
		store:    st,
		engine:   engine,
		rescorer: rescorer,
		sink:     sink,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    resilience.SleepContext,
	}
}

// PollDue polls entities without a national approval that were not checked
// within StaleAfter, most promising first.
func (t *Tracker) PollDue(ctx context.Context) (model.Summary, error) {
	filter := store.EntityFilter{PendingApproval: true, Limit: t.cfg.BatchLimit}
	if t.cfg.StaleAfter > 0 {
		cutoff := t.now().Add(-t.cfg.StaleAfter)
		filter.CheckedBefore = &cutoff
	}
	entities, err := t.store.ListEntities(ctx, filter)
	if err != nil {
		return model.Summary{}, eris.Wrap(err, "committee: select due entities")
	}
	return t.Run(ctx, entities), nil
}

// PollIDs polls the given entities in order. Unknown ids are recorded as
// failed items.
func (t *Tracker) PollIDs(ctx context.Context, ids []int64) model.Summary {
	var (
		sum      model.Summary
		entities []model.Entity
	)
	for _, id := range ids {
		e, err := t.store.GetEntity(ctx, id)
		if err != nil {
			sum.Record(model.ItemResult{EntityID: id, Status: model.ItemFailed, Error: err.Error()})
			continue
		}
		entities = append(entities, *e)
	}
	sum.Merge(t.Run(ctx, entities))
	return sum
}

// Run polls entities sequentially, pausing between research calls. One
// failing entity never stops the run.
func (t *Tracker) Run(ctx context.Context, entities []model.Entity) model.Summary {
	log := zap.L().With(zap.String("component", "committee"))
	log.Info("committee poll starting", zap.Int("entities", len(entities)))

	var sum model.Summary
	for i, e := range entities {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := t.sleep(ctx, t.cfg.BetweenItems); err != nil {
				break
			}
		}
		sum.Record(t.Poll(ctx, e))
	}

	log.Info("committee poll complete",
		zap.Int("scanned", sum.Scanned),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
	)
	return sum
}

// Poll checks one entity. Research or parse failures skip the entity with
// nothing written; it is picked up again on the next cycle.
func (t *Tracker) Poll(ctx context.Context, e model.Entity) model.ItemResult {
	log := zap.L().With(zap.String("component", "committee"), zap.Int64("entity_id", e.ID))
	res := model.ItemResult{EntityID: e.ID, Name: e.Name}

	ans, err := t.engine.Ask(ctx, research.Query{
		System:  systemPrompt,
		Prompt:  BuildPrompt(e),
		Purpose: "committee",
		Recency: "month",
	})
	if err != nil {
		log.Warn("committee research failed", zap.Error(err))
		res.Status = model.ItemSkipped
		res.Error = err.Error()
		return res
	}
	obs, err := ParseObservation(ans.Text)
	if err != nil {
		log.Warn("committee answer unparseable", zap.Error(err))
		res.Status = model.ItemSkipped
		res.Error = err.Error()
		return res
	}

	now := t.now()
	before := e.Committee.Certainty
	var approvals []Approval
	updated, err := t.store.ApplyCommitteeUpdate(ctx, e.ID, now, func(st *model.CommitteeState) error {
		before = st.Certainty
		approvals = Apply(st, obs, now)
		return nil
	})
	if err != nil {
		log.Error("committee update failed", zap.Error(err))
		res.Status = model.ItemFailed
		res.Error = err.Error()
		return res
	}
	res.Status = model.ItemSucceeded
	res.Fields = len(approvals)

	if len(approvals) > 0 {
		log.Info("committee approvals recorded",
			zap.Int("levels", len(approvals)),
			zap.Float64("certainty_before", before),
			zap.Float64("certainty_after", updated.Committee.Certainty),
		)
		if _, err := t.rescorer.Rescore(ctx, e.ID); err != nil {
			log.Error("rescore after approval failed", zap.Error(err))
			res.Status = model.ItemFailed
			res.Error = err.Error()
		}
	}

	var alerts []model.Alert
	for _, a := range approvals {
		alerts = append(alerts, approvalAlert(*updated, a, before))
	}
	missed, err := t.unannounced(ctx, *updated, approvals)
	if err != nil {
		log.Warn("committee alert lookup failed", zap.Error(err))
	}
	alerts = append(alerts, missed...)

	for _, a := range alerts {
		if err := t.raise(ctx, a); err != nil && res.Status != model.ItemFailed {
			res.Status = model.ItemFailed
			res.Error = err.Error()
		}
	}

	if err := t.recordHearings(ctx, *updated, obs.Hearings, now); err != nil && res.Status != model.ItemFailed {
		res.Status = model.ItemFailed
		res.Error = err.Error()
	}
	return res
}

// unannounced rebuilds approval alerts for levels approved in an earlier
// cycle whose alert never reached the store. Approval dates are write-once,
// so this is the only path that can still announce them.
func (t *Tracker) unannounced(ctx context.Context, e model.Entity, fresh []Approval) ([]model.Alert, error) {
	isFresh := make(map[model.CommitteeLevel]bool, len(fresh))
	for _, a := range fresh {
		isFresh[a.Level] = true
	}
	var recorded []model.CommitteeLevel
	for _, lvl := range model.CommitteeLevels {
		if e.Committee.ApprovedAt(lvl) != nil && !isFresh[lvl] {
			recorded = append(recorded, lvl)
		}
	}
	if len(recorded) == 0 {
		return nil, nil
	}

	seen, err := t.announced(ctx, e.ID, model.AlertCommitteeApproval)
	if err != nil {
		return nil, err
	}
	var out []model.Alert
	for _, lvl := range recorded {
		if seen[string(lvl)] {
			continue
		}
		inc := Increments[lvl]
		before := e.Committee.Certainty - inc
		if before < model.DefaultCertainty {
			before = model.DefaultCertainty
		}
		a := Approval{Level: lvl, At: *e.Committee.ApprovedAt(lvl), Increment: inc}
		out = append(out, approvalAlert(e, a, before))
	}
	return out, nil
}

// announced returns the dedup keys of stored alerts of one type for an entity.
func (t *Tracker) announced(ctx context.Context, entityID int64, typ model.AlertType) (map[string]bool, error) {
	stored, err := t.store.ListAlerts(ctx, store.AlertFilter{EntityID: entityID, Type: typ})
	if err != nil {
		return nil, eris.Wrap(err, "committee: list alerts")
	}
	keys := make(map[string]bool, len(stored))
	for _, a := range stored {
		keys[a.DedupKey] = true
	}
	return keys, nil
}

// recordHearings stores upcoming hearings and alerts on each one. A hearing
// that is already stored is alerted again only when its alert is missing.
// The first alert failure is returned after every hearing was tried.
func (t *Tracker) recordHearings(ctx context.Context, e model.Entity, hearings []model.Hearing, now time.Time) error {
	var (
		firstErr error
		seen     map[string]bool
	)
	today := now.Truncate(24 * time.Hour)
	for _, h := range hearings {
		if h.Date.Before(today) {
			continue
		}
		if t.cfg.HearingHorizon > 0 && h.Date.After(now.Add(t.cfg.HearingHorizon)) {
			continue
		}
		h.EntityID = e.ID
		inserted, err := t.store.InsertHearing(ctx, h)
		if err != nil {
			zap.L().Warn("committee: record hearing failed", zap.Int64("entity_id", e.ID), zap.Error(err))
			continue
		}
		a := hearingAlert(e, h)
		if !inserted {
			if seen == nil {
				if seen, err = t.announced(ctx, e.ID, model.AlertUpcomingHearing); err != nil {
					zap.L().Warn("committee: hearing alert lookup failed", zap.Int64("entity_id", e.ID), zap.Error(err))
					seen = map[string]bool{}
				}
			}
			if seen[a.DedupKey] {
				continue
			}
		}
		if err := t.raise(ctx, a); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Tracker) raise(ctx context.Context, a model.Alert) error {
	if _, err := t.sink.Raise(ctx, a); err != nil {
		zap.L().Warn("committee: raise alert failed",
			zap.Int64("entity_id", a.EntityID),
			zap.String("type", string(a.Type)),
			zap.String("dedup_key", a.DedupKey),
			zap.Error(err),
		)
		return eris.Wrapf(err, "committee: raise %s alert", a.Type)
	}
	return nil
}

func approvalAlert(e model.Entity, a Approval, before float64) model.Alert {
	return model.Alert{
		EntityID: e.ID,
		Type:     model.AlertCommitteeApproval,
		Severity: model.SeverityHigh,
		Title:    fmt.Sprintf("%s approved by %s committee", e.Name, a.Level),
		Message: fmt.Sprintf("%s (%s) was approved by the %s committee on %s; certainty %.2f -> %.2f",
			e.Name, e.Locality, a.Level, a.At.Format("2006-01-02"), before, e.Committee.Certainty),
		Payload: map[string]any{
			"level":            string(a.Level),
			"approved_at":      a.At.Format("2006-01-02"),
			"increment":        a.Increment,
			"certainty_before": before,
			"certainty_after":  e.Committee.Certainty,
		},
		DedupKey: string(a.Level),
	}
}

func hearingAlert(e model.Entity, h model.Hearing) model.Alert {
	day := h.Date.Format("2006-01-02")
	msg := fmt.Sprintf("%s (%s) is scheduled for a %s committee hearing on %s", e.Name, e.Locality, h.Level, day)
	if h.Subject != "" {
		msg += ": " + h.Subject
	}
	return model.Alert{
		EntityID: e.ID,
		Type:     model.AlertUpcomingHearing,
		Severity: model.SeverityInfo,
		Title:    fmt.Sprintf("%s hearing for %s", h.Level, e.Name),
		Message:  msg,
		Payload: map[string]any{
			"level":   string(h.Level),
			"date":    day,
			"subject": h.Subject,
		},
		DedupKey: string(h.Level) + ":" + day,
	}
}
