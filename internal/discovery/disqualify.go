package discovery

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/opportunity-intel/internal/match"
	"github.com/sells-group/opportunity-intel/internal/model"
)

// Disqualification reason codes.
const (
	ReasonNoName        = "no_name"
	ReasonBelowMinUnits = "below_min_units"
	ReasonDuplicate     = "duplicate"
)

// response is the JSON layout requested from the research engine.
type response struct {
	Projects []Candidate `json:"projects"`
}

// Candidate is one complex proposed by research.
type Candidate struct {
	Name          string  `json:"name"`
	Address       string  `json:"address"`
	ExistingUnits flexInt `json:"existing_units"`
	PlannedUnits  flexInt `json:"planned_units"`
	Developer     string  `json:"developer"`
	Status        string  `json:"status"`
	PlanNumber    string  `json:"plan_number"`
}

// Disqualify applies the programmatic checks to a candidate. Returns true
// and the reason if the candidate should be dropped.
func Disqualify(c Candidate, known *match.NameSet, minUnits int) (bool, string) {
	if strings.TrimSpace(c.Name) == "" {
		return true, ReasonNoName
	}
	if int(c.ExistingUnits) < minUnits {
		return true, ReasonBelowMinUnits
	}
	if known != nil {
		if _, ok := known.Contains(c.Name); ok {
			return true, ReasonDuplicate
		}
	}
	return false, ""
}

// Entity converts an accepted candidate into a new entity. A status that
// maps to no planning stage is kept as raw stage text.
func (c Candidate) Entity(locality string, now time.Time) model.Entity {
	e := model.Entity{
		Name:          match.DisplayName(c.Name),
		Locality:      locality,
		Address:       strings.TrimSpace(c.Address),
		ExistingUnits: int(c.ExistingUnits),
		PlannedUnits:  int(c.PlannedUnits),
		Developer:     strings.TrimSpace(c.Developer),
		PlanNumber:    strings.TrimSpace(c.PlanNumber),
		Source:        Source,
		CreatedAt:     now,
	}
	if raw := strings.TrimSpace(c.Status); raw != "" {
		if st, err := model.ParsePlanningStatus(raw); err == nil {
			e.Status = st
		} else {
			e.StageText = raw
		}
	}
	return e
}

// flexInt decodes unit counts sent as numbers, numeric strings ("1,200",
// "~80") or null. Counts outside [0, maxUnits] decode as 0 ("unknown").
type flexInt int

const maxUnits = math.MaxInt32

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexInt(parseLooseInt(s))
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if math.IsNaN(n) || n < 0 || n > maxUnits {
		n = 0
	}
	*f = flexInt(math.Round(n))
	return nil
}

// parseLooseInt reads the first run of digits in s, ignoring thousands
// separators. Unparseable text yields 0.
func parseLooseInt(s string) int {
	var digits strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ',' && digits.Len() > 0:
		case digits.Len() > 0:
			return boundedAtoi(digits.String())
		}
	}
	return boundedAtoi(digits.String())
}

func boundedAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n > maxUnits {
		return 0
	}
	return n
}
