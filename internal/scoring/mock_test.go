package scoring

import (
	"context"
	"errors"
	"sync"

	"github.com/sells-group/opportunity-intel/internal/model"
)

var errNotFound = errors.New("not found")

type fakeStore struct {
	mu          sync.Mutex
	entities    map[int64]*model.Entity
	listings    map[int64][]model.Listing
	stressCalls int
	updateErr   error
}

func newFakeStore(entities ...model.Entity) *fakeStore {
	fs := &fakeStore{entities: map[int64]*model.Entity{}, listings: map[int64][]model.Listing{}}
	for i := range entities {
		e := entities[i]
		fs.entities[e.ID] = &e
	}
	return fs
}

func (f *fakeStore) GetEntity(_ context.Context, id int64) (*model.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) ListListings(_ context.Context, entityID int64) ([]model.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Listing(nil), f.listings[entityID]...), nil
}

func (f *fakeStore) UpdateListingStress(_ context.Context, listingID int64, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stressCalls++
	for eid, ls := range f.listings {
		for i := range ls {
			if ls[i].ID == listingID {
				f.listings[eid][i].StressScore = score
			}
		}
	}
	return nil
}

func (f *fakeStore) UpdateScores(_ context.Context, entityID int64, scores model.Scores) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.entities[entityID].Scores = scores
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (s *fakeSink) Raise(_ context.Context, a model.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
