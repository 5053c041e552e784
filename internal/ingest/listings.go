package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-intel/internal/model"
)

// Required listing columns. Header matching ignores case and treats spaces
// and dashes as underscores.
var requiredColumns = []string{"entity_id", "platform", "external_id"}

// RowError describes a data row that could not be converted.
type RowError struct {
	Row int // record number, header is 1
	Err string
}

// Result is the outcome of reading a listing feed.
type Result struct {
	Listings []model.Listing
	Rejected []RowError
}

// ReadListingsFile reads a .csv, .tsv or .xlsx listing feed.
func ReadListingsFile(ctx context.Context, path string, now time.Time) (*Result, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, errs := StreamXLSX(ctx, path)
		return ReadListings(rows, errs, now)
	case ".csv", ".tsv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		delim := ','
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			delim = '\t'
		}
		rows, errs := StreamCSV(ctx, f, delim)
		return ReadListings(rows, errs, now)
	}
	return nil, eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
}

// ReadListings converts streamed rows into listings. The first row is the
// header. Bad rows are rejected individually; a missing required column or a
// stream error fails the whole read.
func ReadListings(rows <-chan []string, errs <-chan error, now time.Time) (*Result, error) {
	res := &Result{}
	var (
		index     map[string]int
		n         int
		headerErr error
	)
	for row := range rows {
		n++
		if index == nil {
			index, headerErr = headerIndex(row)
			if headerErr != nil {
				// Drain so the producer can exit.
				for range rows {
				}
				break
			}
			continue
		}
		if blank(row) {
			continue
		}
		l, err := parseListing(row, index)
		if err != nil {
			res.Rejected = append(res.Rejected, RowError{Row: n, Err: err.Error()})
			continue
		}
		l.UpdatedAt = now
		res.Listings = append(res.Listings, l)
	}
	for err := range errs {
		if err != nil {
			return nil, err
		}
	}
	if headerErr != nil {
		return nil, headerErr
	}
	if index == nil {
		return nil, eris.New("ingest: feed is empty")
	}
	return res, nil
}

func headerIndex(row []string) (map[string]int, error) {
	index := make(map[string]int, len(row))
	for i, h := range row {
		key := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(h)))
		if _, dup := index[key]; !dup && key != "" {
			index[key] = i
		}
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, eris.Errorf("ingest: missing required column %q", col)
		}
	}
	return index, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}

type rowReader struct {
	row   []string
	index map[string]int
	err   error
}

func (r *rowReader) get(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.row) {
		return ""
	}
	return strings.TrimSpace(r.row[i])
}

func (r *rowReader) number(col string, signed bool) float64 {
	v := strings.NewReplacer(",", "", "₪", "", "%", "").Replace(r.get(col))
	if v == "" || r.err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || (f < 0 && !signed) {
		r.err = eris.Errorf("%s: invalid number %q", col, r.get(col))
		return 0
	}
	return f
}

func (r *rowReader) float(col string) float64 { return r.number(col, false) }

func (r *rowReader) int(col string) int { return int(r.number(col, false)) }

func (r *rowReader) bool(col string, def bool) bool {
	switch strings.ToLower(r.get(col)) {
	case "":
		return def
	case "true", "yes", "y", "1", "active":
		return true
	case "false", "no", "n", "0", "inactive":
		return false
	}
	if r.err == nil {
		r.err = eris.Errorf("%s: invalid boolean %q", col, r.get(col))
	}
	return def
}

func parseListing(row []string, index map[string]int) (model.Listing, error) {
	r := &rowReader{row: row, index: index}

	entityID, err := strconv.ParseInt(r.get("entity_id"), 10, 64)
	if err != nil || entityID <= 0 {
		return model.Listing{}, eris.Errorf("entity_id: invalid id %q", r.get("entity_id"))
	}
	l := model.Listing{
		EntityID:     entityID,
		Platform:     strings.ToLower(r.get("platform")),
		ExternalID:   r.get("external_id"),
		Price:        r.float("price"),
		AreaSqm:      r.float("area_sqm"),
		Rooms:        r.float("rooms"),
		Floor:        int(r.number("floor", true)),
		DaysOnMarket: r.int("days_on_market"),
		PriceDrops:   r.int("price_drops"),
		PriceDropPct: r.float("price_drop_pct"),
		Description:  r.get("description"),
		Active:       r.bool("active", true),
	}
	if l.Platform == "" || l.ExternalID == "" {
		return model.Listing{}, eris.New("platform and external_id are required")
	}
	if r.err != nil {
		return model.Listing{}, r.err
	}
	return l, nil
}
