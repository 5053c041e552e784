package discovery

import (
	"fmt"
	"strings"
)

// maxExcluded caps the known names listed in a prompt.
const maxExcluded = 80

const systemPrompt = `You research urban-renewal (demolish and rebuild) complexes in Israel.
Answer with a single JSON object and nothing else:
{"projects":[{"name":"","address":"","existing_units":0,"planned_units":0,
"developer":"","status":"","plan_number":""}]}
status is one of: declared, planning, pre_deposit, deposited, approved,
construction, permit. Use an empty string or 0 when a value is unknown.
Only list complexes you found in a source.`

// BuildPrompt asks for the complexes of locality, excluding the names
// already tracked there.
func BuildPrompt(locality string, exclude []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "List the urban-renewal complexes in %s that are declared, in planning or further along.\n", locality)
	b.WriteString("Include each complex's existing and planned housing units.\n")
	if len(exclude) > 0 {
		if len(exclude) > maxExcluded {
			exclude = exclude[:maxExcluded]
		}
		b.WriteString("Skip these complexes, they are already known:\n")
		for _, n := range exclude {
			b.WriteString("- ")
			b.WriteString(n)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
