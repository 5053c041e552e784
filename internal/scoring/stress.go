package scoring

import (
	"strings"

	"github.com/sells-group/opportunity-intel/internal/model"
)

// MaxStress is the cap of the listing stress score.
const MaxStress = 100.0

// urgentKeywords signal a motivated seller in listing descriptions.
var urgentKeywords = []string{
	"urgent",
	"must sell",
	"quick sale",
	"immediate",
	"motivated seller",
	"below market",
	"relocating",
	"divorce",
	"inheritance",
	"estate sale",
	"דחוף",
	"חייב למכור",
	"מכירה מהירה",
	"מתחת למחיר",
	"ירושה",
	"גירושין",
	"עוזבים את הארץ",
}

// ListingStress scores how pressured a listing's seller appears, in [0,100].
func ListingStress(l model.Listing) float64 {
	var score float64

	switch d := l.DaysOnMarket; {
	case d >= 180:
		score += 30
	case d >= 120:
		score += 22
	case d >= 90:
		score += 15
	case d >= 60:
		score += 8
	}

	switch n := l.PriceDrops; {
	case n >= 3:
		score += 20
	case n == 2:
		score += 14
	case n == 1:
		score += 8
	}

	switch p := l.PriceDropPct; {
	case p >= 15:
		score += 25
	case p >= 10:
		score += 18
	case p >= 5:
		score += 10
	case p > 0:
		score += 4
	}

	switch hits := countUrgent(l.Description); {
	case hits >= 2:
		score += 25
	case hits == 1:
		score += 15
	}

	return round2(clamp(score, 0, MaxStress))
}

func countUrgent(desc string) int {
	if desc == "" {
		return 0
	}
	text := strings.ToLower(desc)
	hits := 0
	for _, kw := range urgentKeywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return hits
}

// AggregateStress returns the max and mean stress over active listings and
// the number of active listings.
func AggregateStress(listings []model.Listing) (maxStress, avgStress float64, active int) {
	var sum float64
	for _, l := range listings {
		if !l.Active {
			continue
		}
		active++
		sum += l.StressScore
		if l.StressScore > maxStress {
			maxStress = l.StressScore
		}
	}
	if active > 0 {
		avgStress = round2(sum / float64(active))
	}
	return maxStress, avgStress, active
}
