package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/internal/alert"
	"github.com/sells-group/opportunity-intel/internal/model"
)

// Store is the persistence the scoring service needs.
type Store interface {
	GetEntity(ctx context.Context, id int64) (*model.Entity, error)
	ListListings(ctx context.Context, entityID int64) ([]model.Listing, error)
	UpdateListingStress(ctx context.Context, listingID int64, score float64) error
	UpdateScores(ctx context.Context, entityID int64, scores model.Scores) error
}

// Config tunes tiers and derived alerts.
type Config struct {
	Thresholds              Thresholds
	OpportunityThreshold    float64
	StressedSellerThreshold float64
	PriceDropAlertPct       float64
}

// DefaultConfig returns the standard scoring configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds:              DefaultThresholds(),
		OpportunityThreshold:    45,
		StressedSellerThreshold: 60,
		PriceDropAlertPct:       10,
	}
}

// Service recomputes and persists scores for entities and raises the alerts
// derived from them.
type Service struct {
	store Store
	sink  alert.Sink
	cfg   Config
	now   func() time.Time
}

// NewService creates a scoring Service.
func NewService(store Store, sink alert.Sink, cfg Config) *Service {
	return &Service{
		store: store,
		sink:  sink,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Rescore recomputes listing stress and entity scores for one entity,
// persists them and raises derived alerts. It returns the new scores.
func (s *Service) Rescore(ctx context.Context, entityID int64) (*model.Scores, error) {
	e, err := s.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: load entity %d", entityID)
	}
	listings, err := s.store.ListListings(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: list listings for %d", entityID)
	}

	for i := range listings {
		stress := ListingStress(listings[i])
		if math.Abs(stress-listings[i].StressScore) < 0.005 {
			continue
		}
		if err := s.store.UpdateListingStress(ctx, listings[i].ID, stress); err != nil {
			return nil, eris.Wrapf(err, "scoring: update stress for listing %d", listings[i].ID)
		}
		listings[i].StressScore = stress
	}

	sig := SignalsFor(e, listings)
	priority, pc := Priority(sig)
	attract, ac := Attractiveness(sig)
	now := s.now()

	scores := model.Scores{
		Priority:                 priority,
		PriorityComponents:       pc,
		Attractiveness:           attract,
		AttractivenessComponents: ac,
		MaxStress:                sig.MaxStress,
		AvgStress:                sig.AvgStress,
		Tier:                     TierFor(priority, s.cfg.Thresholds),
		ScoredAt:                 &now,
	}
	if err := s.store.UpdateScores(ctx, entityID, scores); err != nil {
		return nil, eris.Wrapf(err, "scoring: update scores for %d", entityID)
	}

	zap.L().Debug("scoring: rescored entity",
		zap.Int64("entity_id", entityID),
		zap.Float64("priority", priority),
		zap.Float64("attractiveness", attract),
		zap.String("tier", string(scores.Tier)),
	)

	s.raiseDerived(ctx, e, listings, scores)
	return &scores, nil
}

// RescoreAll rescores each id in order. One failure does not stop the rest.
func (s *Service) RescoreAll(ctx context.Context, ids []int64) model.Summary {
	var sum model.Summary
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Rescore(ctx, id); err != nil {
			zap.L().Warn("scoring: rescore failed", zap.Int64("entity_id", id), zap.Error(err))
			sum.Record(model.ItemResult{EntityID: id, Status: model.ItemFailed, Error: err.Error()})
			continue
		}
		sum.Record(model.ItemResult{EntityID: id, Status: model.ItemSucceeded})
	}
	return sum
}

func (s *Service) raiseDerived(ctx context.Context, e *model.Entity, listings []model.Listing, scores model.Scores) {
	var alerts []model.Alert

	th := s.cfg.OpportunityThreshold
	if th > 0 && e.Scores.Priority < th && scores.Priority >= th {
		alerts = append(alerts, model.Alert{
			EntityID: e.ID,
			Type:     model.AlertOpportunityThreshold,
			Severity: model.SeverityHigh,
			Title:    fmt.Sprintf("%s crossed priority %.0f", e.Name, th),
			Message: fmt.Sprintf("%s (%s) priority rose from %.1f to %.1f, tier %s",
				e.Name, e.Locality, e.Scores.Priority, scores.Priority, scores.Tier),
			Payload: map[string]any{
				"previous":  e.Scores.Priority,
				"priority":  scores.Priority,
				"threshold": th,
				"tier":      string(scores.Tier),
			},
		})
	}

	if l, ok := worstListing(listings, func(l model.Listing) float64 { return l.StressScore }, s.cfg.StressedSellerThreshold); ok {
		alerts = append(alerts, model.Alert{
			EntityID: e.ID,
			Type:     model.AlertStressedSeller,
			Severity: model.SeverityMedium,
			Title:    fmt.Sprintf("Stressed seller in %s", e.Name),
			Message: fmt.Sprintf("Listing %s on %s has stress %.0f (%d days on market, %d price drops)",
				l.ExternalID, l.Platform, l.StressScore, l.DaysOnMarket, l.PriceDrops),
			Payload: map[string]any{
				"listing_id":   l.ID,
				"stress_score": l.StressScore,
				"price":        l.Price,
			},
		})
	}

	if l, ok := worstListing(listings, func(l model.Listing) float64 { return l.PriceDropPct }, s.cfg.PriceDropAlertPct); ok {
		alerts = append(alerts, model.Alert{
			EntityID: e.ID,
			Type:     model.AlertPriceDrop,
			Severity: model.SeverityMedium,
			Title:    fmt.Sprintf("Price drop in %s", e.Name),
			Message: fmt.Sprintf("Listing %s on %s dropped %.1f%% to %.0f",
				l.ExternalID, l.Platform, l.PriceDropPct, l.Price),
			Payload: map[string]any{
				"listing_id":     l.ID,
				"price_drop_pct": l.PriceDropPct,
				"price":          l.Price,
			},
		})
	}

	for _, a := range alerts {
		if _, err := s.sink.Raise(ctx, a); err != nil {
			zap.L().Warn("scoring: raise alert failed",
				zap.Int64("entity_id", e.ID),
				zap.String("type", string(a.Type)),
				zap.Error(err),
			)
		}
	}
}

// worstListing returns the active listing with the highest metric at or
// above threshold. A non-positive threshold disables the check.
func worstListing(listings []model.Listing, metric func(model.Listing) float64, threshold float64) (model.Listing, bool) {
	var best model.Listing
	found := false
	if threshold <= 0 {
		return best, false
	}
	for _, l := range listings {
		if !l.Active || metric(l) < threshold {
			continue
		}
		if !found || metric(l) > metric(best) {
			best, found = l, true
		}
	}
	return best, found
}
