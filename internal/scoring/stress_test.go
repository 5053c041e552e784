package scoring

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/opportunity-intel/internal/model"
)

func TestListingStress(t *testing.T) {
	tests := []struct {
		name string
		l    model.Listing
		want float64
	}{
		{"fresh listing", model.Listing{DaysOnMarket: 10}, 0},
		{"stale", model.Listing{DaysOnMarket: 95}, 15},
		{"drops", model.Listing{DaysOnMarket: 130, PriceDrops: 2, PriceDropPct: 12}, 22 + 14 + 18},
		{"urgent english", model.Listing{Description: "URGENT sale, owner relocating abroad"}, 25},
		{"urgent hebrew", model.Listing{Description: "דירה למכירה דחוף"}, 15},
		{
			"maxed",
			model.Listing{DaysOnMarket: 400, PriceDrops: 6, PriceDropPct: 30, Description: "must sell, divorce, urgent"},
			100,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ListingStress(tt.l), 0.001)
		})
	}
}

func TestListingStress_BoundsUnderRandomInput(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 9))
	descs := []string{"", "urgent", "quick sale below market", "nice view", "ירושה דחוף"}
	for range 2000 {
		l := model.Listing{
			DaysOnMarket: r.IntN(2000) - 500,
			PriceDrops:   r.IntN(40) - 10,
			PriceDropPct: r.Float64()*400 - 200,
			Description:  descs[r.IntN(len(descs))],
		}
		s := ListingStress(l)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, MaxStress)
	}
}

func TestAggregateStress_ActiveOnly(t *testing.T) {
	listings := []model.Listing{
		{Active: true, StressScore: 80},
		{Active: true, StressScore: 20},
		{Active: false, StressScore: 100},
	}
	maxS, avgS, active := AggregateStress(listings)
	assert.InDelta(t, 80, maxS, 0.001)
	assert.InDelta(t, 50, avgS, 0.001)
	assert.Equal(t, 2, active)

	maxS, avgS, active = AggregateStress(nil)
	assert.Zero(t, maxS)
	assert.Zero(t, avgS)
	assert.Zero(t, active)
}
