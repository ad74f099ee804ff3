package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/slip"
)

// Stats are the competition-wide numbers shown next to the slip builder.
type Stats struct {
	CurrentCycle   odds.CycleID    `json:"current_cycle"`
	TotalSlips     int             `json:"total_slips"`
	TotalPlayers   int             `json:"total_players"`
	WinRate        decimal.Decimal `json:"win_rate"`
	Volume         decimal.Decimal `json:"volume"`
	AverageCorrect decimal.Decimal `json:"average_correct"`
	PrizePool      decimal.Decimal `json:"prize_pool"`
}

// LeaderboardEntry is one ranked slip of a cycle.
type LeaderboardEntry struct {
	Rank         int             `json:"rank"`
	Player       string          `json:"player"`
	SlipID       uint64          `json:"slip_id"`
	FinalScore   decimal.Decimal `json:"final_score"`
	CorrectCount int             `json:"correct_count"`
	PrizeClaimed bool            `json:"prize_claimed"`
}

// Service is the off-chain evaluation surface.
type Service interface {
	SlipEvaluations(ctx context.Context, cycle odds.CycleID, address string) ([]slip.Evaluation, error)
	Stats(ctx context.Context) (Stats, error)
	Leaderboard(ctx context.Context, cycle odds.CycleID) ([]LeaderboardEntry, error)
}

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.StatusCode, e.Message)
}

// envelope is the {success, data, error} wrapper every endpoint returns.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

// matchDTO is the mirror's match shape. Odds are decimal strings; null means
// the market is not offered.
type matchDTO struct {
	ID        uint64                          `json:"id"`
	StartTime time.Time                       `json:"start_time"`
	HomeTeam  string                          `json:"home_team"`
	AwayTeam  string                          `json:"away_team"`
	League    string                          `json:"league_name"`
	Odds      map[string]*decimal.NullDecimal `json:"odds"`
}

func (m matchDTO) toMatch() odds.Match {
	out := odds.Match{
		ID:       odds.MatchID(m.ID),
		Kickoff:  m.StartTime.UTC(),
		HomeTeam: m.HomeTeam,
		AwayTeam: m.AwayTeam,
		League:   m.League,
		Odds:     make(map[odds.Outcome]decimal.Decimal, len(m.Odds)),
	}
	for k, v := range m.Odds {
		o, err := odds.ParseOutcome(k)
		if err != nil || v == nil || !v.Valid {
			continue
		}
		out.Odds[o] = v.Decimal
	}
	return out
}

type cycleDTO struct {
	CycleID odds.CycleID `json:"cycle_id"`
}
