// Package enrichment runs entities through the research and validation
// engines and applies the merged findings, either for one entity or as a
// tracked batch job.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/internal/model"
	"github.com/sells-group/opportunity-intel/internal/research"
	"github.com/sells-group/opportunity-intel/internal/resilience"
	"github.com/sells-group/opportunity-intel/internal/store"
)

// ErrJobFinished is returned when cancelling a job that already ended.
var ErrJobFinished = eris.New("enrichment: job already finished")

// Store is the persistence the orchestrator needs.
type Store interface {
	GetEntity(ctx context.Context, id int64) (*model.Entity, error)
	ListEntities(ctx context.Context, filter store.EntityFilter) ([]model.Entity, error)
	ApplyPatch(ctx context.Context, id int64, patch model.EntityPatch, at time.Time) (*model.Entity, error)
	Ping(ctx context.Context) error
}

// Rescorer recomputes the scores of an entity after its fields change.
type Rescorer interface {
	Rescore(ctx context.Context, entityID int64) (*model.Scores, error)
}

// Engines are the two collaborators an item passes through.
type Engines struct {
	Research   research.Engine
	Validation research.Engine
}

// Config tunes the orchestrator.
type Config struct {
	// DefaultMode is used by EnrichAsync.
	DefaultMode model.Mode
	// BetweenItems is the mandatory pause after each batch item.
	BetweenItems time.Duration
	// BetweenEngines is the pause between the two engines for one item.
	BetweenEngines time.Duration
	// RateLimitBackoff is the base of the extra pause after an item fails on
	// an exhausted rate limit. It doubles per consecutive rate-limited item.
	RateLimitBackoff    time.Duration
	MaxRateLimitBackoff time.Duration
	// MaxErrors bounds the per-job error list.
	MaxErrors int
	// DefaultLimit caps filter-based selections without a limit.
	DefaultLimit int
}

// DefaultConfig returns the standard orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		DefaultMode:         model.ModeStandard,
		BetweenItems:        5 * time.Second,
		BetweenEngines:      8 * time.Second,
		RateLimitBackoff:    5 * time.Second,
		MaxRateLimitBackoff: 5 * time.Minute,
		MaxErrors:           50,
		DefaultLimit:        100,
	}
}

// Orchestrator runs enrichment. Each batch job runs in its own goroutine and
// processes its items sequentially in selection order.
type Orchestrator struct {
	store    Store
	engines  Engines
	rescorer Rescorer
	jobs     JobStore
	cfg      Config

	mu        sync.Mutex
	cancelled map[string]bool
	wg        sync.WaitGroup

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// NewOrchestrator creates an Orchestrator. rescorer may be nil.
func NewOrchestrator(st Store, engines Engines, rescorer Rescorer, jobs JobStore, cfg Config) (*Orchestrator, error) {
	if st == nil || jobs == nil {
		return nil, eris.New("enrichment: store and job store are required")
	}
	if engines.Research == nil || engines.Validation == nil {
		return nil, eris.New("enrichment: research and validation engines are required")
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = model.ModeStandard
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 50
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 100
	}
	return &Orchestrator{
		store:     st,
		engines:   engines,
		rescorer:  rescorer,
		jobs:      jobs,
		cfg:       cfg,
		cancelled: make(map[string]bool),
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     resilience.SleepContext,
		newID:     uuid.NewString,
	}, nil
}

// StartBatch records a queued job and starts it in the background. The job
// outlives ctx; use Cancel or Shutdown to stop it.
func (o *Orchestrator) StartBatch(ctx context.Context, sel model.Selection, mode model.Mode) (string, error) {
	mode, err := model.ParseMode(string(mode))
	if err != nil {
		return "", eris.Wrap(err, "enrichment: start batch")
	}

	job := model.BatchJob{
		ID:        o.newID(),
		Status:    model.JobQueued,
		Mode:      mode,
		Selection: sel,
		Errors:    []string{},
		Details:   []model.ItemResult{},
		CreatedAt: o.now(),
	}
	if err := o.jobs.Put(ctx, job); err != nil {
		return "", eris.Wrap(err, "enrichment: record job")
	}

	zap.L().Info("enrichment job queued",
		zap.String("job_id", job.ID),
		zap.String("mode", string(mode)),
		zap.Int("ids", len(sel.IDs)),
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runJob(context.WithoutCancel(ctx), job)
	}()
	return job.ID, nil
}

// EnrichAsync starts a single-entity job in the default mode.
func (o *Orchestrator) EnrichAsync(ctx context.Context, entityID int64) (string, error) {
	return o.StartBatch(ctx, model.Selection{IDs: []int64{entityID}}, o.cfg.DefaultMode)
}

// GetStatus returns the current state of a job.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (model.BatchJob, error) {
	return o.jobs.Get(ctx, id)
}

// ListJobs returns all known jobs, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context) ([]model.BatchJob, error) {
	return o.jobs.List(ctx)
}

// Cancel marks a job cancelled. The worker stops before its next item;
// items already applied are kept.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	job, err := o.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Finished() {
		return eris.Wrapf(ErrJobFinished, "enrichment: job %s is %s", id, job.Status)
	}
	o.mu.Lock()
	o.cancelled[id] = true
	o.mu.Unlock()
	zap.L().Info("enrichment job cancel requested", zap.String("job_id", id))
	return nil
}

// Wait polls a job until it finishes or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, id string, every time.Duration) (model.BatchJob, error) {
	for {
		job, err := o.jobs.Get(ctx, id)
		if err != nil {
			return job, err
		}
		if job.Status.Finished() {
			return job, nil
		}
		if err := o.sleep(ctx, every); err != nil {
			return job, err
		}
	}
}

// Shutdown asks every running job to stop and waits for the workers.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if jobs, err := o.jobs.List(ctx); err == nil {
		o.mu.Lock()
		for _, j := range jobs {
			if !j.Status.Finished() {
				o.cancelled[j.ID] = true
			}
		}
		o.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "enrichment: shutdown")
	}
}

// Prune drops finished jobs past the retention window from stores that keep
// them in memory. Redis expires them on its own.
func (o *Orchestrator) Prune(retention time.Duration) int {
	mem, ok := o.jobs.(*MemoryJobStore)
	if !ok || retention <= 0 {
		return 0
	}
	n := mem.Prune(o.now().Add(-retention))
	if n > 0 {
		zap.L().Info("pruned finished enrichment jobs", zap.Int("count", n))
	}
	return n
}

// RunSingle enriches one entity synchronously, outside any job.
func (o *Orchestrator) RunSingle(ctx context.Context, entityID int64, mode model.Mode) (model.ItemResult, error) {
	mode, err := model.ParseMode(string(mode))
	if err != nil {
		return model.ItemResult{}, eris.Wrap(err, "enrichment: run single")
	}
	e, err := o.store.GetEntity(ctx, entityID)
	if err != nil {
		return model.ItemResult{EntityID: entityID, Status: model.ItemFailed, Error: err.Error()},
			eris.Wrapf(err, "enrichment: load entity %d", entityID)
	}
	out := o.enrich(ctx, *e, mode)
	return out.result, out.fatal
}

func (o *Orchestrator) isCancelled(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[id]
}

func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	delete(o.cancelled, id)
	o.mu.Unlock()
}

// workItem is one entry of a job's working set. A nil entity means the id
// could not be loaded.
type workItem struct {
	id     int64
	entity *model.Entity
}

// resolve builds the working set. Explicit ids keep their supplied order and
// unknown ids become failed items; otherwise the filter is applied.
func (o *Orchestrator) resolve(ctx context.Context, sel model.Selection) ([]workItem, error) {
	if len(sel.IDs) > 0 {
		items := make([]workItem, 0, len(sel.IDs))
		seen := make(map[int64]bool, len(sel.IDs))
		for _, id := range sel.IDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			e, err := o.store.GetEntity(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				items = append(items, workItem{id: id})
				continue
			}
			if err != nil {
				return nil, eris.Wrapf(err, "enrichment: load entity %d", id)
			}
			items = append(items, workItem{id: id, entity: e})
		}
		return items, nil
	}

	filter := store.EntityFilter{
		Locality:          sel.Locality,
		MinAttractiveness: sel.MinAttractiveness,
		Limit:             sel.Limit,
	}
	if filter.Limit <= 0 {
		filter.Limit = o.cfg.DefaultLimit
	}
	if sel.StaleAfter > 0 {
		cutoff := o.now().Add(-time.Duration(sel.StaleAfter))
		filter.EnrichedBefore = &cutoff
	}
	entities, err := o.store.ListEntities(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "enrichment: select entities")
	}
	items := make([]workItem, len(entities))
	for i := range entities {
		items[i] = workItem{id: entities[i].ID, entity: &entities[i]}
	}
	return items, nil
}

func (o *Orchestrator) runJob(ctx context.Context, job model.BatchJob) {
	defer o.forget(job.ID)
	log := zap.L().With(zap.String("component", "enrichment"), zap.String("job_id", job.ID))

	started := o.now()
	job.Status = model.JobRunning
	job.StartedAt = &started
	o.save(ctx, &job)

	items, err := o.resolve(ctx, job.Selection)
	if err != nil {
		o.finish(ctx, &job, model.JobFailed, err.Error())
		log.Error("enrichment job failed to select entities", zap.Error(err))
		return
	}
	job.Total = len(items)
	o.save(ctx, &job)
	log.Info("enrichment job running", zap.Int("total", job.Total), zap.String("mode", string(job.Mode)))

	rateLimited := 0
	for i, it := range items {
		if i > 0 {
			pause := o.cfg.BetweenItems + o.rateLimitPause(rateLimited)
			if err := o.sleep(ctx, pause); err != nil {
				o.finish(ctx, &job, model.JobCancelled, "")
				return
			}
		}
		if o.isCancelled(job.ID) || ctx.Err() != nil {
			log.Info("enrichment job cancelled", zap.Int("processed", job.Processed))
			o.finish(ctx, &job, model.JobCancelled, "")
			return
		}

		var out outcome
		if it.entity == nil {
			job.CurrentItem = fmt.Sprintf("#%d", it.id)
			out.result = model.ItemResult{EntityID: it.id, Status: model.ItemFailed, Error: "entity not found"}
		} else {
			job.CurrentItem = it.entity.Name
			o.save(ctx, &job)
			out = o.enrich(ctx, *it.entity, job.Mode)
		}

		o.record(&job, out.result)
		if out.rateLimited {
			rateLimited++
		} else {
			rateLimited = 0
		}

		if out.fatal != nil {
			if perr := o.store.Ping(ctx); perr != nil {
				msg := fmt.Sprintf("store unavailable: %v", perr)
				log.Error("enrichment job aborted", zap.Error(perr))
				o.finish(ctx, &job, model.JobFailed, msg)
				return
			}
		}
		o.save(ctx, &job)
	}

	o.finish(ctx, &job, model.JobCompleted, "")
	log.Info("enrichment job complete",
		zap.Int("succeeded", job.Succeeded),
		zap.Int("failed", job.Failed),
		zap.Int("skipped", job.Skipped),
	)
}

func (o *Orchestrator) rateLimitPause(streak int) time.Duration {
	if streak <= 0 || o.cfg.RateLimitBackoff <= 0 {
		return 0
	}
	d := o.cfg.RateLimitBackoff
	for i := 1; i < streak; i++ {
		d *= 2
		if o.cfg.MaxRateLimitBackoff > 0 && d >= o.cfg.MaxRateLimitBackoff {
			return o.cfg.MaxRateLimitBackoff
		}
	}
	return d
}

func (o *Orchestrator) record(job *model.BatchJob, r model.ItemResult) {
	job.Processed++
	switch r.Status {
	case model.ItemSucceeded:
		job.Succeeded++
	case model.ItemFailed:
		job.Failed++
	case model.ItemSkipped:
		job.Skipped++
	}
	job.Details = append(job.Details, r)
	if r.Status == model.ItemFailed && r.Error != "" {
		o.addError(job, fmt.Sprintf("entity %d: %s", r.EntityID, r.Error))
	}
}

func (o *Orchestrator) addError(job *model.BatchJob, msg string) {
	if len(job.Errors) < o.cfg.MaxErrors {
		job.Errors = append(job.Errors, msg)
	}
}

func (o *Orchestrator) finish(ctx context.Context, job *model.BatchJob, status model.JobStatus, errMsg string) {
	done := o.now()
	job.Status = status
	job.CompletedAt = &done
	job.CurrentItem = ""
	if errMsg != "" {
		o.addError(job, errMsg)
	}
	o.save(ctx, job)
}

// save persists progress. A job store failure is logged; the worker keeps
// going so applied items are not lost.
func (o *Orchestrator) save(ctx context.Context, job *model.BatchJob) {
	if err := o.jobs.Put(ctx, *job); err != nil {
		zap.L().Warn("enrichment: save job state failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// outcome is the result of one item plus how the job should react to it.
type outcome struct {
	result      model.ItemResult
	rateLimited bool
	// fatal is set when persistence failed; the job checks the store
	// before continuing.
	fatal error
}

// enrich runs the engines for one entity and applies the merged patch.
// Parse failures from an engine count as "no findings"; the item is skipped
// only when no engine produced any.
func (o *Orchestrator) enrich(ctx context.Context, e model.Entity, mode model.Mode) outcome {
	log := zap.L().With(zap.Int64("entity_id", e.ID), zap.String("entity", e.Name))
	res := model.ItemResult{EntityID: e.ID, Name: e.Name}

	fail := func(err error) outcome {
		res.Status = model.ItemFailed
		res.Error = err.Error()
		return outcome{result: res, rateLimited: resilience.IsRateLimited(err)}
	}

	var found *Findings
	parsed := 0

	rf, err := o.ask(ctx, o.engines.Research, research.Query{
		System:  researchSystemPrompt,
		Prompt:  BuildResearchPrompt(e),
		Deep:    mode.Deep(),
		Purpose: "enrichment",
	})
	switch {
	case err == nil:
		found = rf
		parsed++
	case errors.Is(err, research.ErrNoJSON):
		log.Warn("research answer had no JSON", zap.Error(err))
	default:
		log.Warn("research call failed", zap.Error(err))
		return fail(err)
	}
	layers := []model.EntityPatch{found.Patch()}

	if mode.UsesValidation() {
		if err := o.sleep(ctx, o.cfg.BetweenEngines); err != nil {
			return fail(err)
		}
		vf, err := o.ask(ctx, o.engines.Validation, research.Query{
			System:  validationSystemPrompt,
			Prompt:  BuildValidationPrompt(e, found),
			Deep:    mode.Deep(),
			Purpose: "validation",
		})
		switch {
		case err == nil:
			layers = append(layers, vf.Patch())
			parsed++
		case errors.Is(err, research.ErrNoJSON):
			log.Warn("validation answer had no JSON", zap.Error(err))
		default:
			log.Warn("validation call failed", zap.Error(err))
			return fail(err)
		}
	}

	if parsed == 0 {
		res.Status = model.ItemSkipped
		res.Error = "no structured findings"
		return outcome{result: res}
	}

	patch := Merge(layers...)
	if _, err := o.store.ApplyPatch(ctx, e.ID, patch, o.now()); err != nil {
		log.Error("apply patch failed", zap.Error(err))
		out := fail(err)
		if !errors.Is(err, store.ErrNotFound) {
			out.fatal = err
		}
		return out
	}
	res.Fields = FieldCount(patch)

	if o.rescorer != nil {
		if _, err := o.rescorer.Rescore(ctx, e.ID); err != nil {
			log.Warn("rescore after enrichment failed", zap.Error(err))
			return fail(eris.Wrap(err, "rescore"))
		}
	}

	res.Status = model.ItemSucceeded
	log.Info("entity enriched", zap.Int("fields", res.Fields))
	return outcome{result: res}
}

func (o *Orchestrator) ask(ctx context.Context, engine research.Engine, q research.Query) (*Findings, error) {
	var f Findings
	if _, err := research.AskJSON(ctx, engine, q, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
