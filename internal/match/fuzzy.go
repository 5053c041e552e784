package match

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// Minimum lengths, in runes, for the containment rules.
const (
	minCoreLen = 3
	minFullLen = 4
)

// Match reports whether two complex names refer to the same project. It
// matches when the normalized full names are equal, when the core names
// are equal (at least 3 runes), when one core contains the other (both at
// least 3 runes), or when one full name contains the other (both at least
// 4 runes).
func Match(a, b string) bool {
	return matchKeys(newKey(a), newKey(b))
}

type key struct {
	full, core       string
	fullLen, coreLen int
}

func newKey(name string) key {
	full := NormalizeName(name)
	core := CoreName(name)
	return key{full: full, core: core, fullLen: runeLen(full), coreLen: runeLen(core)}
}

func matchKeys(a, b key) bool {
	if a.full == "" || b.full == "" {
		return false
	}
	if a.full == b.full {
		return true
	}
	if a.coreLen >= minCoreLen && b.coreLen >= minCoreLen {
		if a.core == b.core || strings.Contains(a.core, b.core) || strings.Contains(b.core, a.core) {
			return true
		}
	}
	if a.fullLen >= minFullLen && b.fullLen >= minFullLen {
		if strings.Contains(a.full, b.full) || strings.Contains(b.full, a.full) {
			return true
		}
	}
	return false
}

// MatchAny returns the first existing name that matches candidate.
func MatchAny(candidate string, existing []string) (string, bool) {
	c := newKey(candidate)
	for _, name := range existing {
		if matchKeys(c, newKey(name)) {
			return name, true
		}
	}
	return "", false
}

// NameSet is a snapshot of the names known in one locality. It grows as
// callers accept new candidates so duplicates inside one research response
// are caught too. Not safe for concurrent use.
type NameSet struct {
	keys  []key
	names []string
}

// NewNameSet builds a set from existing names.
func NewNameSet(names []string) *NameSet {
	s := &NameSet{}
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Contains returns the matching known name, if any.
func (s *NameSet) Contains(name string) (string, bool) {
	k := newKey(name)
	for i, other := range s.keys {
		if matchKeys(k, other) {
			return s.names[i], true
		}
	}
	return "", false
}

// Add records a name as known.
func (s *NameSet) Add(name string) {
	s.keys = append(s.keys, newKey(name))
	s.names = append(s.names, name)
}

// Names returns the known names in insertion order.
func (s *NameSet) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of known names.
func (s *NameSet) Len() int { return len(s.names) }

// NameSource lists the entity names already stored for a locality.
type NameSource interface {
	ExistingNames(ctx context.Context, locality string) ([]string, error)
}

// Matcher answers existence checks against stored entities.
type Matcher struct {
	names      NameSource
	localities *LocalityTable
}

// NewMatcher creates a Matcher. A nil table uses DefaultLocalityTable.
func NewMatcher(names NameSource, localities *LocalityTable) *Matcher {
	if localities == nil {
		localities = DefaultLocalityTable()
	}
	return &Matcher{names: names, localities: localities}
}

// Localities returns the canonicalization table in use.
func (m *Matcher) Localities() *LocalityTable { return m.localities }

// Snapshot loads the known names of the canonical locality.
func (m *Matcher) Snapshot(ctx context.Context, locality string) (*NameSet, error) {
	names, err := m.names.ExistingNames(ctx, m.localities.Canonical(locality))
	if err != nil {
		return nil, eris.Wrapf(err, "match: existing names for %q", locality)
	}
	return NewNameSet(names), nil
}

// Exists reports whether candidate already exists in locality.
func (m *Matcher) Exists(ctx context.Context, candidate, locality string) (bool, error) {
	set, err := m.Snapshot(ctx, locality)
	if err != nil {
		return false, err
	}
	_, ok := set.Contains(candidate)
	return ok, nil
}
