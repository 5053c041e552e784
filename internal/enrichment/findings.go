package enrichment

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/sells-group/opportunity-intel/internal/model"
)

// Findings is the JSON object both engines are asked to return. Null or
// missing fields mean "unknown" and never overwrite stored values.
type Findings struct {
	Address               *string `json:"address"`
	ExistingUnits         *number `json:"existing_units"`
	PlannedUnits          *number `json:"planned_units"`
	Developer             *string `json:"developer"`
	DeveloperStrength     *string `json:"developer_strength"`
	DeveloperRisk         *string `json:"developer_risk"`
	PlanNumber            *string `json:"plan_number"`
	PlanningStatus        *string `json:"planning_status"`
	NewsSentiment         *string `json:"news_sentiment"`
	NegativeNews          *bool   `json:"negative_news"`
	TheoreticalPremiumPct *number `json:"theoretical_premium_pct"`
	ActualPremiumPct      *number `json:"actual_premium_pct"`
	SignaturePct          *number `json:"signature_pct"`
	Transactions          *number `json:"transactions"`
	Enforcement           *bool   `json:"enforcement"`
	Receivership          *bool   `json:"receivership"`
	Bankruptcy            *bool   `json:"bankruptcy"`
}

// Patch converts the findings into a sparse patch, dropping values outside
// their valid range.
func (f *Findings) Patch() model.EntityPatch {
	var p model.EntityPatch
	if f == nil {
		return p
	}
	p.Address = text(f.Address)
	p.Developer = text(f.Developer)
	p.DeveloperStrength = label(f.DeveloperStrength)
	p.DeveloperRisk = label(f.DeveloperRisk)
	p.PlanNumber = text(f.PlanNumber)
	p.NewsSentiment = label(f.NewsSentiment)
	p.NegativeNews = f.NegativeNews
	p.Enforcement = f.Enforcement
	p.Receivership = f.Receivership
	p.Bankruptcy = f.Bankruptcy

	p.ExistingUnits = count(f.ExistingUnits)
	p.PlannedUnits = count(f.PlannedUnits)
	p.Transactions = count(f.Transactions)
	p.TheoreticalPremiumPct = pct(f.TheoreticalPremiumPct, 1000)
	p.ActualPremiumPct = pct(f.ActualPremiumPct, 1000)
	p.SignaturePct = pct(f.SignaturePct, 100)

	if raw := text(f.PlanningStatus); raw != nil {
		if st, err := model.ParsePlanningStatus(*raw); err == nil {
			p.Status = &st
		} else {
			p.StageText = raw
		}
	}
	return p
}

// Merge layers patches in order; a later non-nil field overrides an earlier
// one. Validation findings are passed last so they win.
func Merge(patches ...model.EntityPatch) model.EntityPatch {
	var out model.EntityPatch
	dst := reflect.ValueOf(&out).Elem()
	for _, p := range patches {
		src := reflect.ValueOf(p)
		for i := 0; i < src.NumField(); i++ {
			if f := src.Field(i); !f.IsNil() {
				dst.Field(i).Set(f)
			}
		}
	}
	// A parsed status supersedes free-text stage from another layer.
	if out.Status != nil {
		out.StageText = nil
	}
	return out
}

// FieldCount returns the number of fields a patch sets.
func FieldCount(p model.EntityPatch) int {
	v := reflect.ValueOf(p)
	n := 0
	for i := 0; i < v.NumField(); i++ {
		if !v.Field(i).IsNil() {
			n++
		}
	}
	return n
}

func text(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.Join(strings.Fields(*s), " ")
	switch strings.ToLower(t) {
	case "", "unknown", "n/a", "none", "null":
		return nil
	}
	return &t
}

func label(s *string) *string {
	t := text(s)
	if t == nil {
		return nil
	}
	l := strings.ToLower(*t)
	return &l
}

func count(n *number) *int {
	if n == nil || *n < 0 || float64(*n) > math.MaxInt32 {
		return nil
	}
	v := int(math.Round(float64(*n)))
	return &v
}

func pct(n *number, limit float64) *float64 {
	if n == nil {
		return nil
	}
	v := float64(*n)
	if v < 0 || v > limit {
		return nil
	}
	return &v
}

// number decodes JSON numbers and numeric strings such as "45%" or "1,200".
// Text that does not parse to a finite value decodes as -1 ("unknown").
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.NewReplacer(",", "", "%", "", "~", "", " ", "").Replace(s)
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			// Unparseable text is "unknown"; the caller keeps the stored value.
			*n = -1
			return nil
		}
		*n = number(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = number(v)
	return nil
}
