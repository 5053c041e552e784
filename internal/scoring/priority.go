package scoring

import (
	"strings"

	"github.com/sells-group/opportunity-intel/internal/model"
)

// Component caps for the priority score.
const (
	MaxReturnPotential = 30.0
	MaxVelocity        = 25.0
	MaxRiskShield      = 20.0
	MaxStealth         = 15.0
	MaxDistress        = 10.0
)

// Priority component names.
const (
	ComponentReturnPotential = "return_potential"
	ComponentVelocity        = "velocity"
	ComponentRiskShield      = "risk_shield"
	ComponentStealth         = "stealth"
	ComponentDistress        = "distress"
)

// Thresholds are the priority cut-offs for tiers.
type Thresholds struct {
	Hot    float64
	Active float64
}

// DefaultThresholds returns the standard tier cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{Hot: 45, Active: 25}
}

// TierFor buckets a priority score.
func TierFor(score float64, th Thresholds) model.Tier {
	switch {
	case score >= th.Hot:
		return model.TierHot
	case score >= th.Active:
		return model.TierActive
	default:
		return model.TierDormant
	}
}

// Priority computes the priority score and its components. Components are
// capped individually, summed, then the total is clamped to [0,100].
func Priority(s Signals) (float64, map[string]float64) {
	components := map[string]float64{
		ComponentReturnPotential: scoreReturnPotential(s),
		ComponentVelocity:        scoreVelocity(s),
		ComponentRiskShield:      scoreRiskShield(s),
		ComponentStealth:         scoreStealth(s),
		ComponentDistress:        scoreDistress(s),
	}

	var total float64
	for k, v := range components {
		components[k] = round2(v)
		total += v
	}
	return round2(clamp(total, 0, 100)), components
}

func scoreReturnPotential(s Signals) float64 {
	score := clamp(s.premiumGap()/5, 0, 20)

	switch m := s.Multiplier; {
	case m >= 4:
		score += 6
	case m >= 3:
		score += 4
	case m >= 2:
		score += 2
	}

	// Market has not caught up yet.
	if s.ActualPremiumPct != nil && s.TheoreticalPremiumPct != nil {
		switch a := *s.ActualPremiumPct; {
		case a < 10:
			score += 4
		case a < 20:
			score += 2
		}
	}
	return clamp(score, 0, MaxReturnPotential)
}

// stagePoints is indexed by model.PlanningStatus.Stage().
var stagePoints = [...]float64{
	4,  // declared
	7,  // planning
	11, // pre_deposit
	15, // deposited
	20, // approved
	10, // construction
	18, // permit
}

// unknownStagePoints separates unscored from actively negative.
const unknownStagePoints = 2.0

func scoreVelocity(s Signals) float64 {
	score := unknownStagePoints
	if idx := s.stage(); idx >= 0 && idx < len(stagePoints) {
		score = stagePoints[idx]
	}

	if s.SignaturePct != nil {
		switch p := *s.SignaturePct; {
		case p >= 80:
			score += 5
		case p >= 66:
			score += 3
		case p >= 50:
			score += 1
		}
	}
	return clamp(score, 0, MaxVelocity)
}

func scoreRiskShield(s Signals) float64 {
	score := lookup(developerStrengthPoints, s.DeveloperStrength, 3) +
		lookup(developerRiskPoints, s.DeveloperRisk, 3) +
		lookup(sentimentPoints, s.NewsSentiment, 2)
	if s.NegativeNews {
		score -= 5
	}
	return clamp(score, 0, MaxRiskShield)
}

func scoreStealth(s Signals) float64 {
	var score float64
	switch n := s.ActiveListings; {
	case n <= 0:
		score += 8
	case n <= 2:
		score += 6
	case n <= 5:
		score += 4
	case n <= 10:
		score += 2
	}
	switch n := s.Transactions; {
	case n <= 0:
		score += 7
	case n <= 2:
		score += 5
	case n <= 5:
		score += 3
	case n <= 10:
		score += 1
	}
	return clamp(score, 0, MaxStealth)
}

func scoreDistress(s Signals) float64 {
	var score float64
	switch m := s.MaxStress; {
	case m >= 70:
		score += 5
	case m >= 50:
		score += 3
	case m >= 30:
		score += 1
	}
	switch a := s.AvgStress; {
	case a >= 50:
		score += 2
	case a >= 30:
		score += 1
	}
	for _, flag := range []bool{s.Enforcement, s.Receivership, s.Bankruptcy} {
		if flag {
			score += 2
		}
	}
	return clamp(score, 0, MaxDistress)
}

// Lookup tables accept the synonyms research engines tend to return.
var (
	developerStrengthPoints = map[string]float64{
		"strong": 8, "high": 8, "tier 1": 8, "a": 8,
		"medium": 5, "moderate": 5, "average": 5, "b": 5,
		"weak": 1, "low": 1, "small": 1, "c": 1,
	}
	developerRiskPoints = map[string]float64{
		"low": 7, "minimal": 7,
		"medium": 4, "moderate": 4,
		"high": 0, "severe": 0,
	}
	sentimentPoints = map[string]float64{
		"positive": 5,
		"neutral":  3, "mixed": 3,
		"negative": 0,
	}
)

func lookup(table map[string]float64, key string, fallback float64) float64 {
	if v, ok := table[strings.ToLower(strings.TrimSpace(key))]; ok {
		return v
	}
	return fallback
}
