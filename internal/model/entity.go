// Package model defines the shared domain types for the opportunity pipeline.
package model

import (
	"time"
)

// Certainty factor bounds. Approvals only ever raise the factor.
const (
	DefaultCertainty = 1.0
	MaxCertainty     = 2.0
)

// Entity is an urban-renewal complex tracked for investment analysis.
type Entity struct {
	ID            int64          `json:"id" db:"id"`
	Name          string         `json:"name" db:"name"`
	Locality      string         `json:"locality" db:"locality"`
	Address       string         `json:"address,omitempty" db:"address"`
	ExistingUnits int            `json:"existing_units" db:"existing_units"`
	PlannedUnits  int            `json:"planned_units" db:"planned_units"`
	Developer     string         `json:"developer,omitempty" db:"developer"`
	PlanNumber    string         `json:"plan_number,omitempty" db:"plan_number"`
	Status        PlanningStatus `json:"planning_status,omitempty" db:"planning_status"`
	// StageText keeps the raw stage description when research returns free text.
	StageText string `json:"stage_text,omitempty" db:"stage_text"`

	DeveloperStrength string `json:"developer_strength,omitempty" db:"developer_strength"`
	DeveloperRisk     string `json:"developer_risk,omitempty" db:"developer_risk"`
	NewsSentiment     string `json:"news_sentiment,omitempty" db:"news_sentiment"`
	NegativeNews      bool   `json:"negative_news" db:"negative_news"`

	TheoreticalPremiumPct *float64 `json:"theoretical_premium_pct,omitempty" db:"theoretical_premium_pct"`
	ActualPremiumPct      *float64 `json:"actual_premium_pct,omitempty" db:"actual_premium_pct"`
	SignaturePct          *float64 `json:"signature_pct,omitempty" db:"signature_pct"`
	Transactions          int      `json:"transactions" db:"transactions"`

	Enforcement  bool `json:"enforcement" db:"enforcement"`
	Receivership bool `json:"receivership" db:"receivership"`
	Bankruptcy   bool `json:"bankruptcy" db:"bankruptcy"`

	Committee CommitteeState `json:"committee"`
	Scores    Scores         `json:"scores"`

	Source     string     `json:"source" db:"source"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	EnrichedAt *time.Time `json:"enriched_at,omitempty" db:"enriched_at"`
}

// Multiplier returns planned over existing units, or 0 when unknown.
func (e *Entity) Multiplier() float64 {
	if e.ExistingUnits <= 0 || e.PlannedUnits <= 0 {
		return 0
	}
	return float64(e.PlannedUnits) / float64(e.ExistingUnits)
}

// CommitteeState is the persisted approval state of an entity. Approval dates
// are never cleared once stamped.
type CommitteeState struct {
	LocalApprovedAt    *time.Time `json:"local_approved_at,omitempty"`
	DistrictApprovedAt *time.Time `json:"district_approved_at,omitempty"`
	NationalApprovedAt *time.Time `json:"national_approved_at,omitempty"`
	Certainty          float64    `json:"certainty_factor"`
	CheckedAt          *time.Time `json:"checked_at,omitempty"`
}

// ApprovedAt returns the approval date recorded for a level.
func (c *CommitteeState) ApprovedAt(level CommitteeLevel) *time.Time {
	switch level {
	case CommitteeLocal:
		return c.LocalApprovedAt
	case CommitteeDistrict:
		return c.DistrictApprovedAt
	case CommitteeNational:
		return c.NationalApprovedAt
	}
	return nil
}

// SetApprovedAt stamps the approval date for a level. It is a no-op when a
// date is already recorded.
func (c *CommitteeState) SetApprovedAt(level CommitteeLevel, at time.Time) bool {
	if c.ApprovedAt(level) != nil {
		return false
	}
	t := at
	switch level {
	case CommitteeLocal:
		c.LocalApprovedAt = &t
	case CommitteeDistrict:
		c.DistrictApprovedAt = &t
	case CommitteeNational:
		c.NationalApprovedAt = &t
	default:
		return false
	}
	return true
}

// Scores holds the computed ranking signals for an entity.
type Scores struct {
	Priority                 float64            `json:"priority"`
	PriorityComponents       map[string]float64 `json:"priority_components,omitempty"`
	Attractiveness           float64            `json:"attractiveness"`
	AttractivenessComponents map[string]float64 `json:"attractiveness_components,omitempty"`
	MaxStress                float64            `json:"max_stress"`
	AvgStress                float64            `json:"avg_stress"`
	Tier                     Tier               `json:"tier,omitempty"`
	ScoredAt                 *time.Time         `json:"scored_at,omitempty"`
}

// EntityPatch is a sparse update produced by enrichment. Nil fields are left
// untouched.
type EntityPatch struct {
	Address               *string         `json:"address,omitempty"`
	ExistingUnits         *int            `json:"existing_units,omitempty"`
	PlannedUnits          *int            `json:"planned_units,omitempty"`
	Developer             *string         `json:"developer,omitempty"`
	DeveloperStrength     *string         `json:"developer_strength,omitempty"`
	DeveloperRisk         *string         `json:"developer_risk,omitempty"`
	PlanNumber            *string         `json:"plan_number,omitempty"`
	Status                *PlanningStatus `json:"planning_status,omitempty"`
	StageText             *string         `json:"stage_text,omitempty"`
	NewsSentiment         *string         `json:"news_sentiment,omitempty"`
	NegativeNews          *bool           `json:"negative_news,omitempty"`
	TheoreticalPremiumPct *float64        `json:"theoretical_premium_pct,omitempty"`
	ActualPremiumPct      *float64        `json:"actual_premium_pct,omitempty"`
	SignaturePct          *float64        `json:"signature_pct,omitempty"`
	Transactions          *int            `json:"transactions,omitempty"`
	Enforcement           *bool           `json:"enforcement,omitempty"`
	Receivership          *bool           `json:"receivership,omitempty"`
	Bankruptcy            *bool           `json:"bankruptcy,omitempty"`
}

// Empty reports whether the patch carries no field updates.
func (p EntityPatch) Empty() bool {
	return p.Address == nil && p.ExistingUnits == nil && p.PlannedUnits == nil &&
		p.Developer == nil && p.DeveloperStrength == nil && p.DeveloperRisk == nil &&
		p.PlanNumber == nil && p.Status == nil && p.StageText == nil &&
		p.NewsSentiment == nil && p.NegativeNews == nil &&
		p.TheoreticalPremiumPct == nil && p.ActualPremiumPct == nil &&
		p.SignaturePct == nil && p.Transactions == nil &&
		p.Enforcement == nil && p.Receivership == nil && p.Bankruptcy == nil
}

// Apply copies the non-nil patch fields onto e.
func (p EntityPatch) Apply(e *Entity) {
	if p.Address != nil {
		e.Address = *p.Address
	}
	if p.ExistingUnits != nil {
		e.ExistingUnits = *p.ExistingUnits
	}
	if p.PlannedUnits != nil {
		e.PlannedUnits = *p.PlannedUnits
	}
	if p.Developer != nil {
		e.Developer = *p.Developer
	}
	if p.DeveloperStrength != nil {
		e.DeveloperStrength = *p.DeveloperStrength
	}
	if p.DeveloperRisk != nil {
		e.DeveloperRisk = *p.DeveloperRisk
	}
	if p.PlanNumber != nil {
		e.PlanNumber = *p.PlanNumber
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.StageText != nil {
		e.StageText = *p.StageText
	}
	if p.NewsSentiment != nil {
		e.NewsSentiment = *p.NewsSentiment
	}
	if p.NegativeNews != nil {
		e.NegativeNews = *p.NegativeNews
	}
	if p.TheoreticalPremiumPct != nil {
		v := *p.TheoreticalPremiumPct
		e.TheoreticalPremiumPct = &v
	}
	if p.ActualPremiumPct != nil {
		v := *p.ActualPremiumPct
		e.ActualPremiumPct = &v
	}
	if p.SignaturePct != nil {
		v := *p.SignaturePct
		e.SignaturePct = &v
	}
	if p.Transactions != nil {
		e.Transactions = *p.Transactions
	}
	if p.Enforcement != nil {
		e.Enforcement = *p.Enforcement
	}
	if p.Receivership != nil {
		e.Receivership = *p.Receivership
	}
	if p.Bankruptcy != nil {
		e.Bankruptcy = *p.Bankruptcy
	}
}
