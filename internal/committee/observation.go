package committee

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-intel/internal/model"
	"github.com/sells-group/opportunity-intel/internal/research"
)

// ErrNoCommittees is returned when a research answer decodes but carries no
// committee section.
var ErrNoCommittees = eris.New("committee: answer has no committees section")

// Decision is the observed state of one committee level.
type Decision struct {
	Status model.CommitteeStatus
	Date   time.Time
}

// Observation is one parsed committee-status research answer.
type Observation struct {
	Levels   map[model.CommitteeLevel]Decision
	Hearings []model.Hearing
}

type wireDecision struct {
	Status string `json:"status"`
	Date   string `json:"date"`
}

type wireHearing struct {
	Level   string `json:"level"`
	Date    string `json:"date"`
	Subject string `json:"subject"`
}

type wireObservation struct {
	Committees map[string]wireDecision `json:"committees"`
	Hearings   []wireHearing           `json:"upcoming_hearings"`
}

// ParseObservation extracts an Observation from free-form research text.
// Unknown committee levels or decision values fail the whole parse so the
// entity is retried on the next cycle instead of persisting a guess.
func ParseObservation(text string) (*Observation, error) {
	var w wireObservation
	if err := research.ExtractJSON(text, &w); err != nil {
		return nil, err
	}
	if w.Committees == nil {
		return nil, ErrNoCommittees
	}

	obs := &Observation{Levels: make(map[model.CommitteeLevel]Decision, len(w.Committees))}
	for rawLevel, wd := range w.Committees {
		lvl, err := model.ParseCommitteeLevel(rawLevel)
		if err != nil {
			return nil, eris.Wrap(err, "committee: parse level")
		}
		status, err := model.ParseCommitteeStatus(wd.Status)
		if err != nil {
			return nil, eris.Wrapf(err, "committee: parse %s decision", lvl)
		}
		d := Decision{Status: status}
		if t, ok := parseDate(wd.Date); ok {
			d.Date = t
		}
		obs.Levels[lvl] = d
	}

	for _, wh := range w.Hearings {
		lvl, err := model.ParseCommitteeLevel(wh.Level)
		if err != nil {
			continue
		}
		t, ok := parseDate(wh.Date)
		if !ok {
			continue
		}
		obs.Hearings = append(obs.Hearings, model.Hearing{
			Level:   lvl,
			Date:    t,
			Subject: strings.TrimSpace(wh.Subject),
		})
	}
	return obs, nil
}

var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"02/01/2006",
	"2.1.2006",
	"2006/01/02",
}

// parseDate accepts the date shapes research engines commonly return.
// Day-first slash dates follow the local convention of the planning
// registries.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
