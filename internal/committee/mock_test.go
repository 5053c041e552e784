package committee

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sells-group/opportunity-intel/internal/model"
	"github.com/sells-group/opportunity-intel/internal/research"
	"github.com/sells-group/opportunity-intel/internal/store"
)

var errStoreDown = errors.New("store down")

type hearingKey struct {
	entity int64
	level  model.CommitteeLevel
	day    string
}

type fakeStore struct {
	mu          sync.Mutex
	entities    map[int64]*model.Entity
	hearings    map[hearingKey]bool
	filters     []store.EntityFilter
	updateCalls int
	updateErr   error
	// alerts is the sink whose delivered alerts ListAlerts reports.
	alerts *fakeSink
}

func newFakeStore(entities ...model.Entity) *fakeStore {
	fs := &fakeStore{entities: map[int64]*model.Entity{}, hearings: map[hearingKey]bool{}}
	for i := range entities {
		e := entities[i]
		if e.Committee.Certainty == 0 {
			e.Committee.Certainty = model.DefaultCertainty
		}
		fs.entities[e.ID] = &e
	}
	return fs
}

func (f *fakeStore) GetEntity(_ context.Context, id int64) (*model.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	var out []model.Entity
	for id := int64(1); id <= int64(len(f.entities)); id++ {
		if e, ok := f.entities[id]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStore) ApplyCommitteeUpdate(_ context.Context, id int64, at time.Time, fn store.CommitteeFunc) (*model.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	e, ok := f.entities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	next := e.Committee
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.CheckedAt = &at
	e.Committee = next
	cp := *e
	return &cp, nil
}

func (f *fakeStore) InsertHearing(_ context.Context, h model.Hearing) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := hearingKey{h.EntityID, h.Level, h.Date.Format("2006-01-02")}
	if f.hearings[k] {
		return false, nil
	}
	f.hearings[k] = true
	return true, nil
}

func (f *fakeStore) ListAlerts(_ context.Context, filter store.AlertFilter) ([]model.Alert, error) {
	if f.alerts == nil {
		return nil, nil
	}
	var out []model.Alert
	for _, a := range f.alerts.ofType(filter.Type) {
		if filter.EntityID == 0 || a.EntityID == filter.EntityID {
			out = append(out, a)
		}
	}
	return out, nil
}

// scriptedEngine returns its answers in order, repeating the last one.
type scriptedEngine struct {
	mu      sync.Mutex
	answers []string
	errs    []error
	calls   int
	prompts []string
}

func (s *scriptedEngine) Name() string { return "scripted" }

func (s *scriptedEngine) Ask(_ context.Context, q research.Query) (*research.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, q.Prompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if len(s.answers) == 0 {
		return &research.Answer{}, nil
	}
	if i >= len(s.answers) {
		i = len(s.answers) - 1
	}
	return &research.Answer{Engine: "scripted", Text: s.answers[i]}, nil
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
	return &model.Scores{Priority: 50}, nil
}

// fakeSink delivers alerts in memory. Each entry of errs fails one Raise
// call in order.
type fakeSink struct {
	mu     sync.Mutex
	alerts []model.Alert
	errs   []error
	calls  int
}

func (s *fakeSink) Raise(_ context.Context, a model.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return false, s.errs[i]
	}
	s.alerts = append(s.alerts, a)
	return true, nil
}

func (s *fakeSink) ofType(t model.AlertType) []model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Alert
	for _, a := range s.alerts {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}
