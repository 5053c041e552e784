// Package alert decides how raised alerts are stored and delivered.
package alert

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/internal/model"
)

// DefaultWindow is the de-duplication window for repeated alerts.
const DefaultWindow = 24 * time.Hour

// Sink accepts alerts raised by the pipeline. Raise reports whether the
// alert was stored; false means an equivalent alert already exists inside
// the de-duplication window.
type Sink interface {
	Raise(ctx context.Context, a model.Alert) (bool, error)
}

// Store persists alerts. InsertAlert must skip the insert when an alert with
// the same entity, type and dedup key was created within window of now.
// A zero window disables the check.
type Store interface {
	InsertAlert(ctx context.Context, a *model.Alert, window time.Duration, now time.Time) (bool, error)
}

// Notifier delivers a stored alert to a human-facing channel.
type Notifier interface {
	Notify(ctx context.Context, a model.Alert) error
}

// StoreSink persists alerts and forwards newly stored ones to an optional
// notifier.
type StoreSink struct {
	store    Store
	window   time.Duration
	notifier Notifier
	now      func() time.Time
}

// NewStoreSink creates a StoreSink. A non-positive window falls back to
// DefaultWindow. notifier may be nil.
func NewStoreSink(store Store, window time.Duration, notifier Notifier) *StoreSink {
	if window <= 0 {
		window = DefaultWindow
	}
	return &StoreSink{
		store:    store,
		window:   window,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Raise validates, stores and, when new, delivers the alert. Delivery
// failures are logged and do not fail the call.
func (s *StoreSink) Raise(ctx context.Context, a model.Alert) (bool, error) {
	if a.EntityID <= 0 {
		return false, eris.New("alert: entity id is required")
	}
	if _, err := model.ParseAlertType(string(a.Type)); err != nil {
		return false, eris.Wrap(err, "alert: raise")
	}
	if a.Severity == "" {
		a.Severity = model.SeverityInfo
	}

	now := s.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	window := s.window
	if !a.Type.Deduplicated() {
		window = 0
	}

	stored, err := s.store.InsertAlert(ctx, &a, window, now)
	if err != nil {
		return false, eris.Wrapf(err, "alert: store %s for entity %d", a.Type, a.EntityID)
	}
	if !stored {
		zap.L().Debug("alert: suppressed duplicate",
			zap.Int64("entity_id", a.EntityID),
			zap.String("type", string(a.Type)),
			zap.String("dedup_key", a.DedupKey),
		)
		return false, nil
	}

	zap.L().Info("alert: raised",
		zap.Int64("entity_id", a.EntityID),
		zap.Int64("alert_id", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("severity", string(a.Severity)),
	)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, a); err != nil {
			zap.L().Error("alert: failed to notify",
				zap.Int64("alert_id", a.ID),
				zap.String("type", string(a.Type)),
				zap.Error(err),
			)
		}
	}
	return true, nil
}
