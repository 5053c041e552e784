package model

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// ErrInvalidStatus is returned when free text cannot be mapped to a known status.
var ErrInvalidStatus = eris.New("model: invalid status")

// PlanningStatus is the planning stage of a complex.
type PlanningStatus string

const (
	PlanningDeclared     PlanningStatus = "declared"
	PlanningPlanning     PlanningStatus = "planning"
	PlanningPreDeposit   PlanningStatus = "pre_deposit"
	PlanningDeposited    PlanningStatus = "deposited"
	PlanningApproved     PlanningStatus = "approved"
	PlanningConstruction PlanningStatus = "construction"
	PlanningPermit       PlanningStatus = "permit"
)

// PlanningStatuses lists every stage in pipeline order.
var PlanningStatuses = []PlanningStatus{
	PlanningDeclared,
	PlanningPlanning,
	PlanningPreDeposit,
	PlanningDeposited,
	PlanningApproved,
	PlanningConstruction,
	PlanningPermit,
}

// planningSynonyms maps normalized free text to a stage. Checked for exact
// match first, then as substrings in declaration order of planningKeywords.
var planningSynonyms = map[string]PlanningStatus{
	"declared":           PlanningDeclared,
	"declaration":        PlanningDeclared,
	"announced":          PlanningDeclared,
	"planning":           PlanningPlanning,
	"in planning":        PlanningPlanning,
	"pre deposit":        PlanningPreDeposit,
	"pre_deposit":        PlanningPreDeposit,
	"predeposit":         PlanningPreDeposit,
	"deposited":          PlanningDeposited,
	"deposit":            PlanningDeposited,
	"approved":           PlanningApproved,
	"plan approved":      PlanningApproved,
	"construction":       PlanningConstruction,
	"under construction": PlanningConstruction,
	"permit":             PlanningPermit,
	"building permit":    PlanningPermit,
}

var planningKeywords = []struct {
	keyword string
	status  PlanningStatus
}{
	{"permit", PlanningPermit},
	{"construction", PlanningConstruction},
	{"pre deposit", PlanningPreDeposit},
	{"deposit", PlanningDeposited},
	{"approv", PlanningApproved},
	{"planning", PlanningPlanning},
	{"declar", PlanningDeclared},
}

// planningQualifiers mark text describing a stage not yet reached. Such text
// never matches by keyword; only an exact synonym maps it.
var planningQualifiers = map[string]bool{
	"not":       true,
	"no":        true,
	"yet":       true,
	"awaiting":  true,
	"pending":   true,
	"before":    true,
	"prior":     true,
	"pre":       true,
	"expected":  true,
	"requested": true,
	"submitted": true,
	"toward":    true,
	"towards":   true,
}

func qualified(key string) bool {
	// "pre deposit" names a stage of its own.
	key = strings.ReplaceAll(key, "pre deposit", "predeposit")
	words := strings.FieldsFunc(key, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if planningQualifiers[w] {
			return true
		}
	}
	return false
}

// ParsePlanningStatus maps free text to a PlanningStatus. Text that matches
// no synonym is scanned for stage keywords unless it is negated or describes
// a stage still to come ("not yet approved", "awaiting deposit").
func ParsePlanningStatus(s string) (PlanningStatus, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", " ")
	if key == "" {
		return "", eris.Wrap(ErrInvalidStatus, "planning status: empty")
	}
	if st, ok := planningSynonyms[key]; ok {
		return st, nil
	}
	if qualified(key) {
		return "", eris.Wrapf(ErrInvalidStatus, "planning status %q", s)
	}
	for _, kw := range planningKeywords {
		if strings.Contains(key, kw.keyword) {
			return kw.status, nil
		}
	}
	return "", eris.Wrapf(ErrInvalidStatus, "planning status %q", s)
}

// Stage returns the zero-based position of the status in PlanningStatuses, or -1.
func (p PlanningStatus) Stage() int {
	for i, st := range PlanningStatuses {
		if st == p {
			return i
		}
	}
	return -1
}

// CommitteeLevel is the planning committee tier.
type CommitteeLevel string

const (
	CommitteeLocal    CommitteeLevel = "local"
	CommitteeDistrict CommitteeLevel = "district"
	CommitteeNational CommitteeLevel = "national"
)

// CommitteeLevels lists levels from lowest to highest.
var CommitteeLevels = []CommitteeLevel{CommitteeLocal, CommitteeDistrict, CommitteeNational}

// ParseCommitteeLevel maps free text to a CommitteeLevel.
func ParseCommitteeLevel(s string) (CommitteeLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "municipal", "local committee":
		return CommitteeLocal, nil
	case "district", "regional", "district committee":
		return CommitteeDistrict, nil
	case "national", "national committee", "national infrastructure":
		return CommitteeNational, nil
	}
	return "", eris.Wrapf(ErrInvalidStatus, "committee level %q", s)
}

// CommitteeStatus is the observed decision state at one committee level.
type CommitteeStatus string

const (
	DecisionNotDiscussed CommitteeStatus = "not_discussed"
	DecisionPending      CommitteeStatus = "pending"
	DecisionDeferred     CommitteeStatus = "deferred"
	DecisionApproved     CommitteeStatus = "approved"
	DecisionRejected     CommitteeStatus = "rejected"
)

// ParseCommitteeStatus maps free text to a CommitteeStatus. Empty or null-like
// input means the level has not been discussed.
func ParseCommitteeStatus(s string) (CommitteeStatus, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", " ", "_", " ").Replace(key)
	switch key {
	case "", "null", "none", "unknown", "not discussed", "not yet discussed":
		return DecisionNotDiscussed, nil
	case "pending", "scheduled", "under review", "in discussion":
		return DecisionPending, nil
	case "deferred", "postponed", "tabled":
		return DecisionDeferred, nil
	case "approved", "approved with conditions", "conditionally approved", "granted":
		return DecisionApproved, nil
	case "rejected", "denied", "declined":
		return DecisionRejected, nil
	}
	return "", eris.Wrapf(ErrInvalidStatus, "committee status %q", s)
}

// Tier is the coarse scan-frequency bucket derived from the priority score.
type Tier string

const (
	TierHot     Tier = "hot"
	TierActive  Tier = "active"
	TierDormant Tier = "dormant"
)

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierHot, TierActive, TierDormant:
		return t, nil
	}
	return "", eris.Wrapf(ErrInvalidStatus, "tier %q", s)
}
