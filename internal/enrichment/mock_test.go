package enrichment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sells-group/opportunity-intel/internal/model"
	"github.com/sells-group/opportunity-intel/internal/research"
	"github.com/sells-group/opportunity-intel/internal/store"
)

var errStoreDown = errors.New("store down")

type fakeStore struct {
	mu       sync.Mutex
	entities map[int64]*model.Entity
	order    []int64
	patches  map[int64][]model.EntityPatch
	filters  []store.EntityFilter
	applyErr map[int64]error
	getErr   error
	listErr  error
	pingErr  error
	pings    int
}

func newFakeStore(entities ...model.Entity) *fakeStore {
	fs := &fakeStore{
		entities: map[int64]*model.Entity{},
		patches:  map[int64][]model.EntityPatch{},
		applyErr: map[int64]error{},
	}
	for i := range entities {
		e := entities[i]
		fs.entities[e.ID] = &e
		fs.order = append(fs.order, e.ID)
	}
	return fs
}

func (f *fakeStore) GetEntity(_ context.Context, id int64) (*model.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	e, ok := f.entities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) ListEntities(_ context.Context, filter store.EntityFilter) ([]model.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Entity
	for _, id := range f.order {
		if filter.Locality != "" && f.entities[id].Locality != filter.Locality {
			continue
		}
		out = append(out, *f.entities[id])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) ApplyPatch(_ context.Context, id int64, patch model.EntityPatch, at time.Time) (*model.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.applyErr[id]; err != nil {
		return nil, err
	}
	e, ok := f.entities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	patch.Apply(e)
	t := at
	e.EnrichedAt = &t
	f.patches[id] = append(f.patches[id], patch)
	cp := *e
	return &cp, nil
}

func (f *fakeStore) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeStore) entity(id int64) model.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.entities[id]
}

// scriptedEngine answers by the entity name found in the prompt.
type scriptedEngine struct {
	name    string
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	queries []research.Query
}

func (s *scriptedEngine) Name() string { return s.name }

func (s *scriptedEngine) Ask(_ context.Context, q research.Query) (*research.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	for key, err := range s.errs {
		if strings.Contains(q.Prompt, "Complex: "+key+"\n") {
			return nil, err
		}
	}
	for key, text := range s.answers {
		if strings.Contains(q.Prompt, "Complex: "+key+"\n") {
			return &research.Answer{Engine: s.name, Text: text}, nil
		}
	}
	return &research.Answer{Engine: s.name, Text: "{}"}, nil
}

func (s *scriptedEngine) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

type fakeRescorer struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (r *fakeRescorer) Rescore(_ context.Context, id int64) (*model.Scores, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	if r.err != nil {
		return nil, r.err
	}
	return &model.Scores{}, nil
}

// failingJobStore wraps a MemoryJobStore and fails every Put after the
// first n.
type failingJobStore struct {
	*MemoryJobStore
	mu    sync.Mutex
	after int
	puts  int
}

func (f *failingJobStore) Put(ctx context.Context, job model.BatchJob) error {
	f.mu.Lock()
	f.puts++
	fail := f.puts > f.after
	f.mu.Unlock()
	if fail {
		return errors.New("job store down")
	}
	return f.MemoryJobStore.Put(ctx, job)
}
