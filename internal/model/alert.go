package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertNewEntity            AlertType = "new_entity"
	AlertCommitteeApproval    AlertType = "committee_approval"
	AlertUpcomingHearing      AlertType = "upcoming_hearing"
	AlertOpportunityThreshold AlertType = "opportunity_threshold"
	AlertPriceDrop            AlertType = "price_drop"
	AlertStressedSeller       AlertType = "stressed_seller"
)

// ParseAlertType validates an alert type string.
func ParseAlertType(s string) (AlertType, error) {
	switch t := AlertType(strings.ToLower(strings.TrimSpace(s))); t {
	case AlertNewEntity, AlertCommitteeApproval, AlertUpcomingHearing,
		AlertOpportunityThreshold, AlertPriceDrop, AlertStressedSeller:
		return t, nil
	}
	return "", eris.Wrapf(ErrInvalidStatus, "alert type %q", s)
}

// Deduplicated reports whether alerts of this type are subject to the
// de-duplication window. Discovery alerts are append-only.
func (t AlertType) Deduplicated() bool {
	return t != AlertNewEntity
}

// Severity ranks alert urgency.
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is an immutable notification tied to an entity.
type Alert struct {
	ID       int64          `json:"id" db:"id"`
	EntityID int64          `json:"entity_id" db:"entity_id"`
	Type     AlertType      `json:"type" db:"type"`
	Severity Severity       `json:"severity" db:"severity"`
	Title    string         `json:"title" db:"title"`
	Message  string         `json:"message" db:"message"`
	Payload  map[string]any `json:"payload,omitempty" db:"payload"`
	// DedupKey narrows the de-duplication scope within a type, e.g. the
	// committee level for approval alerts.
	DedupKey  string    `json:"dedup_key,omitempty" db:"dedup_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Read      bool      `json:"read" db:"read"`
}
