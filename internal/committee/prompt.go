package committee

import (
	"fmt"
	"strings"

	"github.com/sells-group/opportunity-intel/internal/model"
)

const systemPrompt = `You track planning-committee decisions for urban-renewal projects.
Answer with a single JSON object and nothing else, shaped as:
{
  "committees": {
    "local":    {"status": "...", "date": "YYYY-MM-DD or null"},
    "district": {"status": "...", "date": "YYYY-MM-DD or null"},
    "national": {"status": "...", "date": "YYYY-MM-DD or null"}
  },
  "upcoming_hearings": [{"level": "local|district|national", "date": "YYYY-MM-DD", "subject": "..."}]
}
status is one of: not_discussed, pending, deferred, approved, rejected.
date is the decision date when status is approved, otherwise null.
Only report decisions you can attribute to an official protocol or publication.`

// BuildPrompt returns the per-entity committee status request.
func BuildPrompt(e model.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Find the current planning-committee status of the urban-renewal project %q in %s.\n", e.Name, e.Locality)
	if e.PlanNumber != "" {
		fmt.Fprintf(&b, "Plan number: %s.\n", e.PlanNumber)
	}
	if e.Address != "" {
		fmt.Fprintf(&b, "Address or bounds: %s.\n", e.Address)
	}
	if e.Developer != "" {
		fmt.Fprintf(&b, "Developer: %s.\n", e.Developer)
	}

	var known []string
	for _, lvl := range model.CommitteeLevels {
		if at := e.Committee.ApprovedAt(lvl); at != nil {
			known = append(known, fmt.Sprintf("%s approved on %s", lvl, at.Format("2006-01-02")))
		}
	}
	if len(known) > 0 {
		fmt.Fprintf(&b, "Already recorded: %s.\n", strings.Join(known, "; "))
	}
	b.WriteString("Include any hearing scheduled in the next 90 days.")
	return b.String()
}
