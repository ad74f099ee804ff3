// Package picks holds the in-progress selections of a draft slip.
package picks

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// MaxPicks is the number of predictions in a complete slip.
const MaxPicks = 10

// Selection errors.
var (
	ErrMatchNotFound   = errors.New("match not found in this cycle")
	ErrMarketClosed    = errors.New("betting on this match is closed")
	ErrOddsUnavailable = errors.New("odds not available for this outcome")
	ErrSlipFull        = errors.New("slip already has 10 picks")
)

// Board resolves match ids against the loaded cycle. odds.Snapshot implements it.
type Board interface {
	Match(id odds.MatchID) (odds.Match, bool)
}

// Pick is one selection. Odds are the value seen when the pick was made.
type Pick struct {
	MatchID    odds.MatchID    `json:"match_id"`
	Outcome    odds.Outcome    `json:"outcome"`
	Odds       decimal.Decimal `json:"odds"`
	HomeTeam   string          `json:"home_team"`
	AwayTeam   string          `json:"away_team"`
	League     string          `json:"league"`
	Kickoff    time.Time       `json:"kickoff"`
	SelectedAt time.Time       `json:"selected_at"`
}

// Progress summarises how far the draft is from complete.
type Progress struct {
	Count     int  `json:"count"`
	Remaining int  `json:"remaining"`
	Complete  bool `json:"complete"`
}

// Set is an ordered draft of at most MaxPicks picks, one per match.
type Set struct {
	mu       sync.RWMutex
	picks    []Pick
	now      func() time.Time
	location *time.Location
}

// Option configures a Set.
type Option func(*Set)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Set) {
		s.now = now
	}
}

// WithLocation sets the location used to decide what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(s *Set) {
		s.location = loc
	}
}

// NewSet creates an empty draft.
func NewSet(opts ...Option) *Set {
	s := &Set{
		now:      time.Now,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select records outcome for matchID, replacing any earlier pick on that match.
func (s *Set) Select(board Board, matchID odds.MatchID, outcome odds.Outcome) (Pick, error) {
	m, ok := board.Match(matchID)
	if !ok {
		return Pick{}, ErrMatchNotFound
	}

	now := s.now()
	if m.Started(now) || m.Kickoff.Before(startOfDay(now, s.location)) {
		return Pick{}, ErrMarketClosed
	}

	price, ok := m.OddsFor(outcome)
	if !ok || !price.IsPositive() {
		return Pick{}, ErrOddsUnavailable
	}

	p := Pick{
		MatchID:    m.ID,
		Outcome:    outcome,
		Odds:       price,
		HomeTeam:   m.HomeTeam,
		AwayTeam:   m.AwayTeam,
		League:     m.League,
		Kickoff:    m.Kickoff,
		SelectedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.picks {
		if s.picks[i].MatchID == matchID {
			s.picks[i] = p
			return p, nil
		}
	}
	if len(s.picks) >= MaxPicks {
		return Pick{}, ErrSlipFull
	}
	s.picks = append(s.picks, p)
	return p, nil
}

// Deselect removes the pick on matchID if there is one.
func (s *Set) Deselect(matchID odds.MatchID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.picks {
		if s.picks[i].MatchID == matchID {
			s.picks = append(s.picks[:i], s.picks[i+1:]...)
			return true
		}
	}
	return false
}

// Clear empties the draft.
func (s *Set) Clear() {
	s.mu.Lock()
	s.picks = nil
	s.mu.Unlock()
}

// Len returns the number of picks.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.picks)
}

// Picks returns a copy of the picks in selection order.
func (s *Set) Picks() []Pick {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Pick, len(s.picks))
	copy(out, s.picks)
	return out
}

// Get returns the pick on matchID.
func (s *Set) Get(matchID odds.MatchID) (Pick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.picks {
		if p.MatchID == matchID {
			return p, true
		}
	}
	return Pick{}, false
}

// TotalOdds is the product of the stored pick odds. An empty draft is 1.
func (s *Set) TotalOdds() decimal.Decimal {
	return TotalOdds(s.Picks())
}

// TotalOddsDisplay formats TotalOdds with two decimals and digit grouping.
func (s *Set) TotalOddsDisplay() string {
	return FormatOdds(s.TotalOdds())
}

// Progress reports count and shortfall.
func (s *Set) Progress() Progress {
	n := s.Len()
	return Progress{
		Count:     n,
		Remaining: MaxPicks - n,
		Complete:  n == MaxPicks,
	}
}

// TotalOdds multiplies the odds of picks.
func TotalOdds(picks []Pick) decimal.Decimal {
	total := decimal.NewFromInt(1)
	for _, p := range picks {
		total = total.Mul(p.Odds)
	}
	return total
}

var printer = message.NewPrinter(language.English)

// FormatOdds renders odds rounded to two decimals, e.g. "1,234.57".
func FormatOdds(d decimal.Decimal) string {
	r := d.Round(2)
	whole := r.IntPart()
	frac := r.Sub(decimal.NewFromInt(whole)).Abs().Shift(2).IntPart()
	sign := ""
	if r.IsNegative() && whole == 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%02d", sign, printer.Sprintf("%d", whole), frac)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
