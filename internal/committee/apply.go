package committee

import (
	"time"

	"github.com/sells-group/opportunity-intel/internal/model"
)

// Increments is the certainty-factor increase for a first approval at each
// committee level.
var Increments = map[model.CommitteeLevel]float64{
	model.CommitteeLocal:    0.15,
	model.CommitteeDistrict: 0.25,
	model.CommitteeNational: 0.35,
}

// Approval is a committee level that reached approved for the first time.
type Approval struct {
	Level     model.CommitteeLevel `json:"level"`
	At        time.Time            `json:"approved_at"`
	Increment float64              `json:"increment"`
}

// Apply folds an observation into st and returns the levels approved for
// the first time. Levels with a recorded approval date are left alone, so
// replaying the same observation is a no-op. A level first seen approved
// after earlier polls missed it still earns its full increment.
//
// The certainty factor rises by the sum of the new increments and is capped
// at model.MaxCertainty. It never decreases.
func Apply(st *model.CommitteeState, obs *Observation, now time.Time) []Approval {
	if st.Certainty <= 0 {
		st.Certainty = model.DefaultCertainty
	}
	if obs == nil {
		return nil
	}

	var (
		approved []Approval
		sum      float64
	)
	for _, lvl := range model.CommitteeLevels {
		d, ok := obs.Levels[lvl]
		if !ok || d.Status != model.DecisionApproved {
			continue
		}
		at := d.Date
		if at.IsZero() || at.After(now) {
			at = now
		}
		at = at.UTC().Truncate(24 * time.Hour)
		if !st.SetApprovedAt(lvl, at) {
			continue
		}
		inc := Increments[lvl]
		sum += inc
		approved = append(approved, Approval{Level: lvl, At: at, Increment: inc})
	}

	if sum > 0 {
		next := min(st.Certainty+sum, model.MaxCertainty)
		if next > st.Certainty {
			st.Certainty = next
		}
	}
	return approved
}
