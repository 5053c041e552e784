package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sells-group/opportunity-intel/internal/match"
	"github.com/sells-group/opportunity-intel/internal/model"
	"github.com/sells-group/opportunity-intel/internal/research"
)

var errInsert = errors.New("insert failed")

// fakeStore keeps entities in memory and enforces the normalized
// (name, locality) uniqueness of the real stores.
type fakeStore struct {
	mu        sync.Mutex
	entities  []model.Entity
	conflicts map[string]bool
	failNames map[string]bool
	namesErr  error
}

func newFakeStore(existing ...model.Entity) *fakeStore {
	fs := &fakeStore{conflicts: map[string]bool{}, failNames: map[string]bool{}}
	for _, e := range existing {
		e.ID = int64(len(fs.entities) + 1)
		fs.entities = append(fs.entities, e)
	}
	return fs
}

func (f *fakeStore) ExistingNames(_ context.Context, locality string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.namesErr != nil {
		return nil, f.namesErr
	}
	var out []string
	for _, e := range f.entities {
		if e.Locality == locality {
			out = append(out, e.Name)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertEntity(_ context.Context, e *model.Entity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNames[e.Name] {
		return false, errInsert
	}
	if f.conflicts[e.Name] {
		return false, nil
	}
	for _, other := range f.entities {
		if other.Locality == e.Locality && match.NormalizeName(other.Name) == match.NormalizeName(e.Name) {
			return false, nil
		}
	}
	e.ID = int64(len(f.entities) + 1)
	f.entities = append(f.entities, *e)
	return true, nil
}

func (f *fakeStore) inserted(source string) []model.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Entity
	for _, e := range f.entities {
		if e.Source == source {
			out = append(out, e)
		}
	}
	return out
}

// scriptedEngine answers with a fixed text per locality found in the prompt.
type scriptedEngine struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	queries []research.Query
}

func (s *scriptedEngine) Name() string { return "scripted" }

func (s *scriptedEngine) Ask(_ context.Context, q research.Query) (*research.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	for loc, err := range s.errs {
		if containsLocality(q.Prompt, loc) {
			return nil, err
		}
	}
	for loc, text := range s.answers {
		if containsLocality(q.Prompt, loc) {
			return &research.Answer{Engine: "scripted", Text: text}, nil
		}
	}
	return &research.Answer{Engine: "scripted", Text: `{"projects":[]}`}, nil
}

func containsLocality(prompt, loc string) bool {
	return strings.Contains(prompt, " in "+loc+" ")
}

type fakeSink struct {
	mu     sync.Mutex
	alerts []model.Alert
	err    error
}

func (s *fakeSink) Raise(_ context.Context, a model.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.alerts = append(s.alerts, a)
	return true, nil
}

type fakeEnricher struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (f *fakeEnricher) EnrichAsync(_ context.Context, id int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.ids = append(f.ids, id)
	return "job-1", nil
}
