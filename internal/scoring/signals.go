// Package scoring computes the priority, attractiveness and seller-stress
// indices that rank opportunities.
package scoring

import (
	"math"

	"github.com/sells-group/opportunity-intel/internal/model"
)

// Signals is the denormalized input to the score functions. It is built from
// an entity and its listings by SignalsFor, or directly in tests.
type Signals struct {
	TheoreticalPremiumPct *float64
	ActualPremiumPct      *float64
	Multiplier            float64

	Status       model.PlanningStatus
	StageText    string
	SignaturePct *float64

	DeveloperStrength string
	DeveloperRisk     string
	NewsSentiment     string
	NegativeNews      bool

	ActiveListings int
	Transactions   int

	MaxStress    float64
	AvgStress    float64
	Enforcement  bool
	Receivership bool
	Bankruptcy   bool

	Certainty float64
}

// SignalsFor builds Signals from an entity and its listings. Listing stress
// scores must already be current.
func SignalsFor(e *model.Entity, listings []model.Listing) Signals {
	maxStress, avgStress, active := AggregateStress(listings)
	return Signals{
		TheoreticalPremiumPct: e.TheoreticalPremiumPct,
		ActualPremiumPct:      e.ActualPremiumPct,
		Multiplier:            e.Multiplier(),
		Status:                e.Status,
		StageText:             e.StageText,
		SignaturePct:          e.SignaturePct,
		DeveloperStrength:     e.DeveloperStrength,
		DeveloperRisk:         e.DeveloperRisk,
		NewsSentiment:         e.NewsSentiment,
		NegativeNews:          e.NegativeNews,
		ActiveListings:        active,
		Transactions:          e.Transactions,
		MaxStress:             maxStress,
		AvgStress:             avgStress,
		Enforcement:           e.Enforcement,
		Receivership:          e.Receivership,
		Bankruptcy:            e.Bankruptcy,
		Certainty:             e.Committee.Certainty,
	}
}

// premiumGap is the theoretical premium not yet priced in by the market.
func (s Signals) premiumGap() float64 {
	if s.TheoreticalPremiumPct == nil {
		return 0
	}
	gap := *s.TheoreticalPremiumPct
	if s.ActualPremiumPct != nil {
		gap -= *s.ActualPremiumPct
	}
	return gap
}

// stage resolves the planning stage index, falling back to free-text
// matching of StageText. Returns -1 when unknown.
func (s Signals) stage() int {
	if idx := s.Status.Stage(); idx >= 0 {
		return idx
	}
	if s.StageText == "" {
		return -1
	}
	st, err := model.ParsePlanningStatus(s.StageText)
	if err != nil {
		return -1
	}
	return st.Stage()
}

// clamp bounds v to [lo, hi]. NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
