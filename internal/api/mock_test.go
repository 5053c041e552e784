package api

import (
	"context"
	"errors"
	"sync"

	"github.com/sells-group/opportunity-intel/internal/enrichment"
	"github.com/sells-group/opportunity-intel/internal/model"
	"github.com/sells-group/opportunity-intel/internal/store"
)

type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[string]model.BatchJob
	started   []model.Selection
	modes     []model.Mode
	enriched  []int64
	cancelled []string
	startErr  error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]model.BatchJob{}}
}

func (f *fakeJobs) StartBatch(_ context.Context, sel model.Selection, mode model.Mode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, sel)
	f.modes = append(f.modes, mode)
	return "job-1", nil
}

func (f *fakeJobs) EnrichAsync(_ context.Context, id int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enriched = append(f.enriched, id)
	return "job-2", nil
}

func (f *fakeJobs) GetStatus(_ context.Context, id string) (model.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return model.BatchJob{}, enrichment.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobs) ListJobs(_ context.Context) ([]model.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.BatchJob, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobs) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return enrichment.ErrJobNotFound
	}
	if job.Status.Finished() {
		return enrichment.ErrJobFinished
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeDiscoverer struct{ localities [][]string }

func (f *fakeDiscoverer) Run(_ context.Context, localities []string) model.Summary {
	f.localities = append(f.localities, localities)
	var sum model.Summary
	for _, l := range localities {
		sum.Record(model.ItemResult{Name: l, Status: model.ItemSucceeded})
	}
	return sum
}

type fakePoller struct {
	due    int
	ids    [][]int64
	dueErr error
}

func (f *fakePoller) PollDue(_ context.Context) (model.Summary, error) {
	f.due++
	if f.dueErr != nil {
		return model.Summary{}, f.dueErr
	}
	return model.Summary{Scanned: 2, Succeeded: 2}, nil
}

func (f *fakePoller) PollIDs(_ context.Context, ids []int64) model.Summary {
	f.ids = append(f.ids, ids)
	var sum model.Summary
	for _, id := range ids {
		sum.Record(model.ItemResult{EntityID: id, Status: model.ItemSucceeded})
	}
	return sum
}

type fakeEntities struct {
	entities []model.Entity
	filters  []store.EntityFilter
	pingErr  error
	listErr  error
}

func (f *fakeEntities) GetEntity(_ context.Context, id int64) (*model.Entity, error) {
	for _, e := range f.entities {
		if e.ID == id {
			cp := e
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeEntities) ListEntities(_ context.Context, filter store.EntityFilter) ([]model.Entity, error) {
	f.filters = append(f.filters, filter)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.entities, nil
}

func (f *fakeEntities) Ping(_ context.Context) error { return f.pingErr }

var errBoom = errors.New("boom")
