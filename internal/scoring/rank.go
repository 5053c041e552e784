package scoring

import (
	"cmp"
	"slices"

	"github.com/sells-group/opportunity-intel/internal/model"
)

// Compare orders entities by priority desc, attractiveness desc, id asc.
func Compare(a, b model.Entity) int {
	if c := cmp.Compare(b.Scores.Priority, a.Scores.Priority); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Scores.Attractiveness, a.Scores.Attractiveness); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Rank sorts entities in place into ranking order.
func Rank(entities []model.Entity) {
	slices.SortStableFunc(entities, Compare)
}
