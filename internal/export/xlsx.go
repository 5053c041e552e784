// Package export writes ranked opportunity reports.
package export

import (
	"io"
	"os"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/opportunity-intel/internal/model"
	"github.com/sells-group/opportunity-intel/internal/scoring"
)

// SheetName is the name of the opportunities worksheet.
const SheetName = "Opportunities"

const dateLayout = "2006-01-02"

type column struct {
	header string
	write  func(c *xlsx.Cell, rank int, e *model.Entity)
}

func str(f func(e *model.Entity) string) func(*xlsx.Cell, int, *model.Entity) {
	return func(c *xlsx.Cell, _ int, e *model.Entity) { c.SetString(f(e)) }
}

func num(f func(e *model.Entity) float64) func(*xlsx.Cell, int, *model.Entity) {
	return func(c *xlsx.Cell, _ int, e *model.Entity) { c.SetFloat(f(e)) }
}

func optNum(f func(e *model.Entity) *float64) func(*xlsx.Cell, int, *model.Entity) {
	return func(c *xlsx.Cell, _ int, e *model.Entity) {
		if v := f(e); v != nil {
			c.SetFloat(*v)
		}
	}
}

func date(f func(e *model.Entity) *time.Time) func(*xlsx.Cell, int, *model.Entity) {
	return func(c *xlsx.Cell, _ int, e *model.Entity) {
		if t := f(e); t != nil {
			c.SetString(t.UTC().Format(dateLayout))
		}
	}
}

func component(key string, prio bool) func(*xlsx.Cell, int, *model.Entity) {
	return func(c *xlsx.Cell, _ int, e *model.Entity) {
		m := e.Scores.AttractivenessComponents
		if prio {
			m = e.Scores.PriorityComponents
		}
		if v, ok := m[key]; ok {
			c.SetFloat(v)
		}
	}
}

var columns = []column{
	{"Rank", func(c *xlsx.Cell, rank int, _ *model.Entity) { c.SetInt(rank) }},
	{"ID", func(c *xlsx.Cell, _ int, e *model.Entity) { c.SetInt64(e.ID) }},
	{"Name", str(func(e *model.Entity) string { return e.Name })},
	{"Locality", str(func(e *model.Entity) string { return e.Locality })},
	{"Tier", str(func(e *model.Entity) string { return string(e.Scores.Tier) })},
	{"Priority", num(func(e *model.Entity) float64 { return e.Scores.Priority })},
	{"Attractiveness", num(func(e *model.Entity) float64 { return e.Scores.Attractiveness })},
	{"Return Potential", component(scoring.ComponentReturnPotential, true)},
	{"Velocity", component(scoring.ComponentVelocity, true)},
	{"Risk Shield", component(scoring.ComponentRiskShield, true)},
	{"Stealth", component(scoring.ComponentStealth, true)},
	{"Distress", component(scoring.ComponentDistress, true)},
	{"Premium Pts", component(scoring.ComponentPremium, false)},
	{"Stage Pts", component(scoring.ComponentStage, false)},
	{"Developer Pts", component(scoring.ComponentDeveloper, false)},
	{"Certainty Pts", component(scoring.ComponentCertainty, false)},
	{"Planning Status", str(stage)},
	{"Existing Units", func(c *xlsx.Cell, _ int, e *model.Entity) { c.SetInt(e.ExistingUnits) }},
	{"Planned Units", func(c *xlsx.Cell, _ int, e *model.Entity) { c.SetInt(e.PlannedUnits) }},
	{"Multiplier", num(func(e *model.Entity) float64 { return e.Multiplier() })},
	{"Theoretical Premium %", optNum(func(e *model.Entity) *float64 { return e.TheoreticalPremiumPct })},
	{"Actual Premium %", optNum(func(e *model.Entity) *float64 { return e.ActualPremiumPct })},
	{"Certainty Factor", num(func(e *model.Entity) float64 { return e.Committee.Certainty })},
	{"Max Stress", num(func(e *model.Entity) float64 { return e.Scores.MaxStress })},
	{"Developer", str(func(e *model.Entity) string { return e.Developer })},
	{"Local Approval", date(func(e *model.Entity) *time.Time { return e.Committee.LocalApprovedAt })},
	{"District Approval", date(func(e *model.Entity) *time.Time { return e.Committee.DistrictApprovedAt })},
	{"Scored", date(func(e *model.Entity) *time.Time { return e.Scores.ScoredAt })},
}

// Headers returns the worksheet header row.
func Headers() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.header
	}
	return out
}

func stage(e *model.Entity) string {
	if e.Status != "" {
		return string(e.Status)
	}
	return e.StageText
}

// Build lays out entities in ranking order on a new workbook. The input
// slice is not reordered.
func Build(entities []model.Entity) (*xlsx.File, error) {
	ranked := slices.Clone(entities)
	scoring.Rank(ranked)

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range columns {
		header.AddCell().SetString(c.header)
	}
	for i := range ranked {
		row := sheet.AddRow()
		for _, c := range columns {
			c.write(row.AddCell(), i+1, &ranked[i])
		}
	}
	return f, nil
}

// WriteXLSX writes the ranked workbook to w.
func WriteXLSX(w io.Writer, entities []model.Entity) error {
	f, err := Build(entities)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

// SaveXLSX writes the ranked workbook to path.
func SaveXLSX(path string, entities []model.Entity) error {
	out, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := WriteXLSX(out, entities); err != nil {
		out.Close() //nolint:errcheck
		return err
	}
	return eris.Wrap(out.Close(), "export: close workbook")
}
