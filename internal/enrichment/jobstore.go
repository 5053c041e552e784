package enrichment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-intel/internal/model"
)

// ErrJobNotFound is returned for an unknown job id.
var ErrJobNotFound = eris.New("enrichment: job not found")

// JobStore holds batch job state. A job is written only by the worker that
// owns its id; any number of callers may read.
type JobStore interface {
	Put(ctx context.Context, job model.BatchJob) error
	Get(ctx context.Context, id string) (model.BatchJob, error)
	List(ctx context.Context) ([]model.BatchJob, error)
}

// MemoryJobStore is the in-process JobStore.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]model.BatchJob
}

// NewMemoryJobStore creates an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]model.BatchJob)}
}

// Put stores a copy of job.
func (m *MemoryJobStore) Put(_ context.Context, job model.BatchJob) error {
	if job.ID == "" {
		return eris.New("enrichment: job id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get returns a copy of the job.
func (m *MemoryJobStore) Get(_ context.Context, id string) (model.BatchJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return model.BatchJob{}, eris.Wrapf(ErrJobNotFound, "enrichment: job %s", id)
	}
	return cloneJob(job), nil
}

// List returns all jobs, newest first.
func (m *MemoryJobStore) List(_ context.Context) ([]model.BatchJob, error) {
	m.mu.RLock()
	out := make([]model.BatchJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, cloneJob(job))
	}
	m.mu.RUnlock()
	sortJobs(out)
	return out, nil
}

// Prune removes finished jobs completed before cutoff and returns how many
// were removed.
func (m *MemoryJobStore) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, job := range m.jobs {
		if job.Status.Finished() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n
}

// cloneJob copies the slices so readers never share memory with the worker.
func cloneJob(job model.BatchJob) model.BatchJob {
	job.Errors = append([]string{}, job.Errors...)
	job.Details = append([]model.ItemResult{}, job.Details...)
	job.Selection.IDs = append([]int64(nil), job.Selection.IDs...)
	return job
}

func sortJobs(jobs []model.BatchJob) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}
