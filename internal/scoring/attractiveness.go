package scoring

import "github.com/sells-group/opportunity-intel/internal/model"

// Attractiveness component names.
const (
	ComponentPremium   = "premium"
	ComponentStage     = "stage"
	ComponentDeveloper = "developer"
	ComponentCertainty = "certainty"
)

// Attractiveness scores the investment case of an entity from the premium
// gap, planning progress and developer quality, scaled by the certainty
// factor and clamped to [0,100].
func Attractiveness(s Signals) (float64, map[string]float64) {
	premium := clamp(s.premiumGap()*0.5, 0, 50)

	stage := 3.0
	if idx := s.stage(); idx >= 0 {
		stage = float64(idx+1) / float64(len(model.PlanningStatuses)) * 30
	}

	developer := clamp(
		lookup(attractStrengthPoints, s.DeveloperStrength, 5)+lookup(attractRiskPoints, s.DeveloperRisk, 3),
		0, 20,
	)

	certainty := s.Certainty
	if certainty <= 0 {
		certainty = model.DefaultCertainty
	}

	total := clamp((premium+stage+developer)*certainty, 0, 100)
	return round2(total), map[string]float64{
		ComponentPremium:   round2(premium),
		ComponentStage:     round2(stage),
		ComponentDeveloper: round2(developer),
		ComponentCertainty: round2(certainty),
	}
}

var (
	attractStrengthPoints = map[string]float64{
		"strong": 12, "high": 12, "tier 1": 12, "a": 12,
		"medium": 8, "moderate": 8, "average": 8, "b": 8,
		"weak": 3, "low": 3, "small": 3, "c": 3,
	}
	attractRiskPoints = map[string]float64{
		"low": 8, "minimal": 8,
		"medium": 5, "moderate": 5,
		"high": 0, "severe": 0,
	}
)
