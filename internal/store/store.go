// Package store persists entities, listings, alerts and hearings in
// PostgreSQL or SQLite.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-intel/internal/match"
	"github.com/sells-group/opportunity-intel/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// EntityFilter selects entities for batch work. Results are always in
// ranking order: priority desc, attractiveness desc, id asc.
type EntityFilter struct {
	Locality          string     `json:"locality,omitempty"`
	Tier              model.Tier `json:"tier,omitempty"`
	MinAttractiveness float64    `json:"min_attractiveness,omitempty"`
	// EnrichedBefore keeps entities never enriched or enriched before it.
	EnrichedBefore *time.Time `json:"enriched_before,omitempty"`
	// CheckedBefore keeps entities never polled for committee status or
	// polled before it.
	CheckedBefore *time.Time `json:"checked_before,omitempty"`
	// PendingApproval keeps entities without a national approval.
	PendingApproval bool `json:"pending_approval,omitempty"`
	Limit           int  `json:"limit,omitempty"`
	Offset          int  `json:"offset,omitempty"`
}

// AlertFilter selects alerts, newest first.
type AlertFilter struct {
	EntityID   int64           `json:"entity_id,omitempty"`
	Type       model.AlertType `json:"type,omitempty"`
	UnreadOnly bool            `json:"unread_only,omitempty"`
	Limit      int             `json:"limit,omitempty"`
}

// CommitteeFunc mutates committee state inside an update transaction.
// Returning an error aborts the update.
type CommitteeFunc func(state *model.CommitteeState) error

// Store defines the persistence interface for the opportunity pipeline.
type Store interface {
	// Entities
	ExistingNames(ctx context.Context, locality string) ([]string, error)
	InsertEntity(ctx context.Context, e *model.Entity) (bool, error)
	GetEntity(ctx context.Context, id int64) (*model.Entity, error)
	ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error)
	ApplyPatch(ctx context.Context, id int64, patch model.EntityPatch, at time.Time) (*model.Entity, error)
	UpdateScores(ctx context.Context, id int64, scores model.Scores) error
	ApplyCommitteeUpdate(ctx context.Context, id int64, at time.Time, fn CommitteeFunc) (*model.Entity, error)

	// Listings
	ListListings(ctx context.Context, entityID int64) ([]model.Listing, error)
	UpsertListings(ctx context.Context, listings []model.Listing) (int64, error)
	UpdateListingStress(ctx context.Context, listingID int64, score float64) error

	// Alerts and hearings
	InsertAlert(ctx context.Context, a *model.Alert, window time.Duration, now time.Time) (bool, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error)
	InsertHearing(ctx context.Context, h model.Hearing) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

const defaultListLimit = 500

// entityColumns is the shared column order for scanEntity.
const entityColumns = `id, name, locality, address, existing_units, planned_units, developer,
	plan_number, planning_status, stage_text, developer_strength, developer_risk,
	news_sentiment, negative_news, theoretical_premium_pct, actual_premium_pct,
	signature_pct, transactions, enforcement, receivership, bankruptcy,
	local_approved_at, district_approved_at, national_approved_at, certainty_factor,
	committee_checked_at, priority_score, priority_components, attractiveness_score,
	attractiveness_components, max_stress, avg_stress, tier, scored_at, source,
	created_at, enriched_at`

const listingColumns = `id, entity_id, external_id, platform, price, area_sqm, rooms, floor,
	days_on_market, price_drops, price_drop_pct, description, active, stress_score, updated_at`

const alertColumns = `id, entity_id, type, severity, title, message, payload, dedup_key, created_at, read`

type scannable interface {
	Scan(dest ...any) error
}

func scanEntity(row scannable) (*model.Entity, error) {
	var e model.Entity
	var priorityJSON, attractJSON []byte
	err := row.Scan(
		&e.ID, &e.Name, &e.Locality, &e.Address, &e.ExistingUnits, &e.PlannedUnits, &e.Developer,
		&e.PlanNumber, &e.Status, &e.StageText, &e.DeveloperStrength, &e.DeveloperRisk,
		&e.NewsSentiment, &e.NegativeNews, &e.TheoreticalPremiumPct, &e.ActualPremiumPct,
		&e.SignaturePct, &e.Transactions, &e.Enforcement, &e.Receivership, &e.Bankruptcy,
		&e.Committee.LocalApprovedAt, &e.Committee.DistrictApprovedAt, &e.Committee.NationalApprovedAt,
		&e.Committee.Certainty, &e.Committee.CheckedAt,
		&e.Scores.Priority, &priorityJSON, &e.Scores.Attractiveness, &attractJSON,
		&e.Scores.MaxStress, &e.Scores.AvgStress, &e.Scores.Tier, &e.Scores.ScoredAt,
		&e.Source, &e.CreatedAt, &e.EnrichedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.Scores.PriorityComponents, err = decodeComponents(priorityJSON); err != nil {
		return nil, err
	}
	if e.Scores.AttractivenessComponents, err = decodeComponents(attractJSON); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanListing(row scannable) (*model.Listing, error) {
	var l model.Listing
	err := row.Scan(&l.ID, &l.EntityID, &l.ExternalID, &l.Platform, &l.Price, &l.AreaSqm, &l.Rooms,
		&l.Floor, &l.DaysOnMarket, &l.PriceDrops, &l.PriceDropPct, &l.Description, &l.Active,
		&l.StressScore, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanAlert(row scannable) (*model.Alert, error) {
	var a model.Alert
	var payload []byte
	err := row.Scan(&a.ID, &a.EntityID, &a.Type, &a.Severity, &a.Title, &a.Message, &payload,
		&a.DedupKey, &a.CreatedAt, &a.Read)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &a.Payload); err != nil {
			return nil, eris.Wrap(err, "store: decode alert payload")
		}
	}
	return &a, nil
}

func decodeComponents(b []byte) (map[string]float64, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, eris.Wrap(err, "store: decode score components")
	}
	return m, nil
}

// encodeJSON marshals v, mapping nil values and nil maps to SQL NULL.
func encodeJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode json")
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

// entityKeys returns the normalized uniqueness key for an entity.
func entityKeys(name, locality string) (nameKey, localityKey string) {
	return match.NormalizeName(name), match.NormalizeName(locality)
}

// validateEntity checks the fields required for insert.
func validateEntity(e *model.Entity) error {
	nameKey, localityKey := entityKeys(e.Name, e.Locality)
	if nameKey == "" {
		return eris.New("store: entity name is required")
	}
	if localityKey == "" {
		return eris.New("store: entity locality is required")
	}
	if e.Committee.Certainty <= 0 {
		e.Committee.Certainty = model.DefaultCertainty
	}
	return nil
}

// insertEntityArgs matches the column order of the entity insert statements.
func insertEntityArgs(e *model.Entity) []any {
	nameKey, localityKey := entityKeys(e.Name, e.Locality)
	return []any{
		e.Name, nameKey, e.Locality, localityKey, e.Address, e.ExistingUnits, e.PlannedUnits,
		e.Developer, e.PlanNumber, string(e.Status), e.StageText, e.Committee.Certainty,
		e.Source, e.CreatedAt,
	}
}

// enrichmentArgs matches the SET order of the enrichment update statements,
// followed by the entity id.
func enrichmentArgs(e *model.Entity) []any {
	return []any{
		e.Address, e.ExistingUnits, e.PlannedUnits, e.Developer, e.PlanNumber,
		string(e.Status), e.StageText, e.DeveloperStrength, e.DeveloperRisk,
		e.NewsSentiment, e.NegativeNews, e.TheoreticalPremiumPct, e.ActualPremiumPct,
		e.SignaturePct, e.Transactions, e.Enforcement, e.Receivership, e.Bankruptcy,
		e.EnrichedAt, e.ID,
	}
}

func scoreArgs(id int64, s model.Scores) ([]any, error) {
	pc, err := encodeJSON(s.PriorityComponents)
	if err != nil {
		return nil, err
	}
	ac, err := encodeJSON(s.AttractivenessComponents)
	if err != nil {
		return nil, err
	}
	return []any{
		s.Priority, pc, s.Attractiveness, ac, s.MaxStress, s.AvgStress,
		string(s.Tier), s.ScoredAt, id,
	}, nil
}

func committeeArgs(id int64, c model.CommitteeState) []any {
	return []any{
		c.LocalApprovedAt, c.DistrictApprovedAt, c.NationalApprovedAt,
		c.Certainty, c.CheckedAt, id,
	}
}

// listingUpsertColumns are written by listing imports; stress_score is
// owned by scoring and left untouched on conflict.
var listingUpsertColumns = []string{
	"entity_id", "external_id", "platform", "price", "area_sqm", "rooms", "floor",
	"days_on_market", "price_drops", "price_drop_pct", "description", "active", "updated_at",
}

// listingCompareColumns are the listing fields whose change counts as an update.
var listingCompareColumns = []string{
	"entity_id", "price", "area_sqm", "rooms", "floor",
	"days_on_market", "price_drops", "price_drop_pct", "description", "active",
}

func listingRow(l model.Listing) []any {
	updated := l.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return []any{
		l.EntityID, l.ExternalID, l.Platform, l.Price, l.AreaSqm, l.Rooms, l.Floor,
		l.DaysOnMarket, l.PriceDrops, l.PriceDropPct, l.Description, l.Active, updated,
	}
}

// applyCommittee runs fn on a copy of prev and enforces the persisted
// invariants: approval dates are never cleared or moved and the certainty
// factor never decreases nor exceeds model.MaxCertainty.
func applyCommittee(prev model.CommitteeState, at time.Time, fn CommitteeFunc) (model.CommitteeState, error) {
	next := prev
	if next.Certainty <= 0 {
		next.Certainty = model.DefaultCertainty
	}
	if err := fn(&next); err != nil {
		return prev, err
	}
	for _, lvl := range []model.CommitteeLevel{model.CommitteeLocal, model.CommitteeDistrict, model.CommitteeNational} {
		if old := prev.ApprovedAt(lvl); old != nil {
			restoreApproval(&next, lvl, *old)
		}
	}
	floor := prev.Certainty
	if floor <= 0 {
		floor = model.DefaultCertainty
	}
	if next.Certainty < floor {
		next.Certainty = floor
	}
	if next.Certainty > model.MaxCertainty {
		next.Certainty = model.MaxCertainty
	}
	checked := at
	next.CheckedAt = &checked
	return next, nil
}

func restoreApproval(c *model.CommitteeState, lvl model.CommitteeLevel, at time.Time) {
	t := at
	switch lvl {
	case model.CommitteeLocal:
		c.LocalApprovedAt = &t
	case model.CommitteeDistrict:
		c.DistrictApprovedAt = &t
	case model.CommitteeNational:
		c.NationalApprovedAt = &t
	}
}

func alertLimit(n int) int {
	if n <= 0 || n > defaultListLimit {
		return 100
	}
	return n
}
