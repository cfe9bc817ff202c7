package patterns

import (
	"fmt"
	"sort"
	"time"

	"github.com/otherjamesbrown/binaudit/pkg/audit"
	"github.com/otherjamesbrown/binaudit/pkg/logging"
)

// Compiled is a validated pattern ready to render.
type Compiled struct {
	Pattern  ResponsePattern
	Template Template
}

// Compile validates p: its condition must be a known code and its template
// must parse.
func Compile(p ResponsePattern) (Compiled, error) {
	if !p.Condition.Valid() {
		return Compiled{}, fmt.Errorf("pattern %d: unknown condition %q", p.ID, p.Condition)
	}
	t, err := ParseTemplate(p.Template)
	if err != nil {
		return Compiled{}, fmt.Errorf("pattern %d: %w", p.ID, err)
	}
	return Compiled{Pattern: p, Template: t}, nil
}

// Skipped records a pattern left out of a Set because it failed to compile.
type Skipped struct {
	Pattern ResponsePattern
	Err     error
}

// Set is an immutable, ordered snapshot of one organization's live
// patterns. It is safe for concurrent use.
type Set struct {
	organizationID string
	patterns       []Compiled
	skipped        []Skipped
}

// NewSet snapshots the patterns live at now, in ascending priority with
// ties kept in input order. Invalid patterns are skipped and logged.
func NewSet(organizationID string, ps []ResponsePattern, now time.Time, log logging.Logger) *Set {
	if log == nil {
		log = logging.NewNopLogger()
	}
	s := &Set{organizationID: organizationID}
	for _, p := range ps {
		if !p.Live(now) {
			continue
		}
		c, err := Compile(p)
		if err != nil {
			log.Warn("Skipping invalid response pattern",
				logging.F("organization_id", organizationID),
				logging.F("pattern_id", p.ID),
				logging.Err(err))
			s.skipped = append(s.skipped, Skipped{Pattern: p, Err: err})
			continue
		}
		s.patterns = append(s.patterns, c)
	}
	sort.SliceStable(s.patterns, func(i, j int) bool {
		return s.patterns[i].Pattern.Priority < s.patterns[j].Pattern.Priority
	})
	return s
}

// EmptySet is a set with no patterns; rendering falls back to defaults.
func EmptySet(organizationID string) *Set {
	return &Set{organizationID: organizationID}
}

// OrganizationID returns the organization the set belongs to.
func (s *Set) OrganizationID() string { return s.organizationID }

// Len returns the number of usable patterns.
func (s *Set) Len() int { return len(s.patterns) }

// Patterns returns the usable patterns in match order.
func (s *Set) Patterns() []Compiled {
	out := make([]Compiled, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Skipped returns the patterns rejected while building the set.
func (s *Set) Skipped() []Skipped {
	out := make([]Skipped, len(s.skipped))
	copy(out, s.skipped)
	return out
}

// Match returns the first pattern whose condition is code.
func (s *Set) Match(code audit.Code) (Compiled, bool) {
	if s == nil {
		return Compiled{}, false
	}
	for _, c := range s.patterns {
		if c.Pattern.Condition == code {
			return c, true
		}
	}
	return Compiled{}, false
}
