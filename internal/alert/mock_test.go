package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sells-group/opportunity-intel/internal/model"
)

// memStore applies the same window rule as the SQL stores.
type memStore struct {
	mu     sync.Mutex
	alerts []model.Alert
	err    error
}

func (m *memStore) InsertAlert(_ context.Context, a *model.Alert, window time.Duration, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if window > 0 {
		for _, prev := range m.alerts {
			if prev.EntityID == a.EntityID && prev.Type == a.Type && prev.DedupKey == a.DedupKey &&
				prev.CreatedAt.After(now.Add(-window)) {
				return false, nil
			}
		}
	}
	a.ID = int64(len(m.alerts) + 1)
	m.alerts = append(m.alerts, *a)
	return true, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []model.Alert
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, a model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, a)
	return r.err
}

var errStoreDown = errors.New("connection refused")
