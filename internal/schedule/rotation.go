// Package schedule decides which localities discovery visits each day and
// drives the recurring discovery, committee and housekeeping runs.
package schedule

import (
	"time"
)

// Rotation shards a locality list across days so every locality is visited
// once per cycle of Shards days.
type Rotation struct {
	Localities []string
	Shards     int
}

// ForDay returns the localities due on t's UTC day-of-year, in list order.
// With fewer than two shards every locality is due every day.
func (r Rotation) ForDay(t time.Time) []string {
	if r.Shards <= 1 {
		return append([]string(nil), r.Localities...)
	}
	shard := t.UTC().YearDay() % r.Shards
	var out []string
	for i, loc := range r.Localities {
		if i%r.Shards == shard {
			out = append(out, loc)
		}
	}
	return out
}
