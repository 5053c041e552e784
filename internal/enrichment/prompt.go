package enrichment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/opportunity-intel/internal/model"
)

const findingsSchema = `{"address":null,"existing_units":null,"planned_units":null,"developer":null,
"developer_strength":null,"developer_risk":null,"plan_number":null,"planning_status":null,
"news_sentiment":null,"negative_news":null,"theoretical_premium_pct":null,"actual_premium_pct":null,
"signature_pct":null,"transactions":null,"enforcement":null,"receivership":null,"bankruptcy":null}`

const researchSystemPrompt = `You research Israeli urban-renewal (demolish and rebuild) complexes on the web.
Answer with one JSON object in exactly this shape and nothing else:
` + findingsSchema + `
planning_status is one of: declared, planning, pre_deposit, deposited, approved, construction, permit.
developer_strength and developer_risk are low, medium or high. news_sentiment is positive, neutral or negative.
Percentages are numbers between 0 and 100 (premiums may exceed 100). transactions counts recent
apartment sales in the complex. enforcement, receivership and bankruptcy report distressed sellers.
Use null for anything you could not confirm in a source.`

const validationSystemPrompt = `You verify research findings about an Israeli urban-renewal complex.
Check every field against what you know, correct wrong values and set unverifiable values to null.
Answer with one JSON object in exactly this shape and nothing else:
` + findingsSchema

// BuildResearchPrompt asks the research engine about one entity.
func BuildResearchPrompt(e model.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Complex: %s\nLocality: %s\n", e.Name, e.Locality)
	if e.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", e.Address)
	}
	if e.PlanNumber != "" {
		fmt.Fprintf(&b, "Plan number: %s\n", e.PlanNumber)
	}
	if e.Developer != "" {
		fmt.Fprintf(&b, "Developer: %s\n", e.Developer)
	}
	if e.ExistingUnits > 0 {
		fmt.Fprintf(&b, "Existing units: %d\n", e.ExistingUnits)
	}
	b.WriteString("Find the current planning stage, unit counts, developer profile, recent news, " +
		"apartment price premiums, tenant signature rate and any distressed-sale signals.")
	return b.String()
}

// BuildValidationPrompt asks the validation engine to check the research
// findings. A nil findings value asks it to research from scratch.
func BuildValidationPrompt(e model.Entity, research *Findings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Complex: %s\nLocality: %s\n", e.Name, e.Locality)
	if research == nil {
		b.WriteString("No prior findings are available; answer from your own knowledge.")
		return b.String()
	}
	data, err := json.Marshal(research)
	if err != nil {
		b.WriteString("No prior findings are available; answer from your own knowledge.")
		return b.String()
	}
	b.WriteString("Findings to verify:\n")
	b.Write(data)
	return b.String()
}
