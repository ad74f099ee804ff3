// Package odds provides read access to the matches and per-outcome odds of an Oddyssey cycle.
package odds

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CycleID identifies one competition round.
type CycleID uint64

// MatchID identifies one fixture on the contract.
type MatchID uint64

// Outcome is a selectable result of a match.
type Outcome string

const (
	OutcomeHome  Outcome = "home"
	OutcomeDraw  Outcome = "draw"
	OutcomeAway  Outcome = "away"
	OutcomeOver  Outcome = "over"
	OutcomeUnder Outcome = "under"
)

// Outcomes lists every outcome in display order.
var Outcomes = []Outcome{OutcomeHome, OutcomeDraw, OutcomeAway, OutcomeOver, OutcomeUnder}

// ParseOutcome parses an outcome name (case-insensitive).
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	if !o.Valid() {
		return "", fmt.Errorf("unknown outcome %q", s)
	}
	return o, nil
}

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeHome, OutcomeDraw, OutcomeAway, OutcomeOver, OutcomeUnder:
		return true
	}
	return false
}

// IsMoneyline reports whether o belongs to the home/draw/away market.
func (o Outcome) IsMoneyline() bool {
	return o == OutcomeHome || o == OutcomeDraw || o == OutcomeAway
}

// Match is one fixture of the active cycle.
type Match struct {
	ID       MatchID   `json:"id"`
	Kickoff  time.Time `json:"kickoff"`
	HomeTeam string    `json:"home_team"`
	AwayTeam string    `json:"away_team"`
	League   string    `json:"league"`

	// Odds holds only the markets on offer. A missing key means the
	// outcome cannot be picked.
	Odds map[Outcome]decimal.Decimal `json:"odds"`
}

// OddsFor returns the odds of an outcome and whether the market is offered.
func (m Match) OddsFor(o Outcome) (decimal.Decimal, bool) {
	d, ok := m.Odds[o]
	return d, ok
}

// Started reports whether kickoff is at or before now.
func (m Match) Started(now time.Time) bool {
	return !m.Kickoff.After(now)
}

// Title returns "Home vs Away".
func (m Match) Title() string {
	return m.HomeTeam + " vs " + m.AwayTeam
}

// Snapshot is the match list of one cycle as read at FetchedAt.
type Snapshot struct {
	Cycle     CycleID   `json:"cycle"`
	Matches   []Match   `json:"matches"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Match looks up a match by id.
func (s Snapshot) Match(id MatchID) (Match, bool) {
	for _, m := range s.Matches {
		if m.ID == id {
			return m, true
		}
	}
	return Match{}, false
}

// Earliest returns the match with the earliest kickoff.
func (s Snapshot) Earliest() (Match, bool) {
	if len(s.Matches) == 0 {
		return Match{}, false
	}
	best := s.Matches[0]
	for _, m := range s.Matches[1:] {
		if m.Kickoff.Before(best.Kickoff) {
			best = m
		}
	}
	return best, true
}

// ByKickoff returns a copy of the matches sorted by kickoff time.
func (s Snapshot) ByKickoff() []Match {
	out := make([]Match, len(s.Matches))
	copy(out, s.Matches)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Kickoff.Before(out[j].Kickoff)
	})
	return out
}
