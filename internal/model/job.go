package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Finished reports whether the job reached a terminal state.
func (s JobStatus) Finished() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Mode selects which research engines an enrichment run uses.
type Mode string

const (
	// ModeFast runs the web-research engine only.
	ModeFast Mode = "fast"
	// ModeStandard runs web research followed by validation.
	ModeStandard Mode = "standard"
	// ModeFull runs both engines on their deep models.
	ModeFull Mode = "full"
)

// ParseMode validates a mode string. Empty input yields ModeStandard.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeStandard, nil
	case ModeFast, ModeStandard, ModeFull:
		return m, nil
	}
	return "", eris.Wrapf(ErrInvalidStatus, "mode %q", s)
}

// UsesValidation reports whether the validation engine runs in this mode.
func (m Mode) UsesValidation() bool { return m != ModeFast }

// Deep reports whether engines should use their deep models.
func (m Mode) Deep() bool { return m == ModeFull }

// Selection chooses the working set of an enrichment batch. Explicit IDs win
// over the filter fields.
type Selection struct {
	IDs               []int64  `json:"ids,omitempty"`
	Locality          string   `json:"locality,omitempty"`
	StaleAfter        Duration `json:"stale_after,omitempty"`
	MinAttractiveness float64  `json:"min_attractiveness,omitempty"`
	Limit             int      `json:"limit,omitempty"`
}

// Duration is a time.Duration that marshals as a Go duration string.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return eris.Wrapf(err, "model: parse duration %q", string(b))
	}
	*d = Duration(v)
	return nil
}

// ItemStatus is the outcome of one item within a batch.
type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
)

// ItemResult records the outcome of one batch item.
type ItemResult struct {
	EntityID int64      `json:"entity_id"`
	Name     string     `json:"name,omitempty"`
	Status   ItemStatus `json:"status"`
	Fields   int        `json:"fields_updated,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// BatchJob is the orchestration state of one enrichment run. It is written
// only by the worker owning its ID.
type BatchJob struct {
	ID          string       `json:"id"`
	Status      JobStatus    `json:"status"`
	Mode        Mode         `json:"mode"`
	Selection   Selection    `json:"selection"`
	Total       int          `json:"total"`
	Processed   int          `json:"processed"`
	Succeeded   int          `json:"succeeded"`
	Failed      int          `json:"failed"`
	Skipped     int          `json:"skipped"`
	CurrentItem string       `json:"current_item,omitempty"`
	Errors      []string     `json:"errors"`
	Details     []ItemResult `json:"details"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Summary is the user-visible outcome of any batch operation.
type Summary struct {
	Scanned   int          `json:"scanned"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Details   []ItemResult `json:"details"`
}

// MarshalJSON always emits details as an array, empty for a run with no items.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	if s.Details == nil {
		s.Details = []ItemResult{}
	}
	return json.Marshal(plain(s))
}

// Record appends an item outcome and updates the counters.
func (s *Summary) Record(r ItemResult) {
	s.Scanned++
	switch r.Status {
	case ItemSucceeded:
		s.Succeeded++
	case ItemFailed:
		s.Failed++
	case ItemSkipped:
		s.Skipped++
	}
	s.Details = append(s.Details, r)
}

// Merge adds the counters and details of o to s.
func (s *Summary) Merge(o Summary) {
	s.Scanned += o.Scanned
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.Details = append(s.Details, o.Details...)
}
