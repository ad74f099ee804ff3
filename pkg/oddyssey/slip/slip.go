// Package slip merges on-chain slip records with the evaluation service's view
// of them.
package slip

import (
	"time"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/payload"
	"github.com/shopspring/decimal"
)

// Prediction is one stored pick of a submitted slip.
type Prediction struct {
	MatchID   odds.MatchID    `json:"match_id"`
	BetType   payload.BetType `json:"bet_type"`
	Selection string          `json:"selection"`
	Odds      decimal.Decimal `json:"odds"`
	HomeTeam  string          `json:"home_team,omitempty"`
	AwayTeam  string          `json:"away_team,omitempty"`

	// Result is the resolved outcome code of the match, once known.
	Result  string `json:"result,omitempty"`
	Correct *bool  `json:"correct,omitempty"`
}

// Slip is a submitted slip. Predictions, score and the evaluation flag come
// from the chain; LeaderboardRank and PrizeClaimed only from the backend and
// stay nil until it has indexed the slip.
type Slip struct {
	Cycle        odds.CycleID    `json:"cycle"`
	SlipID       uint64          `json:"slip_id"`
	Player       string          `json:"player"`
	PlacedAt     time.Time       `json:"placed_at"`
	Predictions  []Prediction    `json:"predictions"`
	Evaluated    bool            `json:"evaluated"`
	FinalScore   decimal.Decimal `json:"final_score"`
	CorrectCount int             `json:"correct_count"`

	LeaderboardRank *int  `json:"leaderboard_rank,omitempty"`
	PrizeClaimed    *bool `json:"prize_claimed,omitempty"`
}

// Key identifies a slip across sources.
type Key struct {
	Cycle  odds.CycleID
	SlipID uint64
}

// Key returns the slip's identity.
func (s Slip) Key() Key {
	return Key{Cycle: s.Cycle, SlipID: s.SlipID}
}

// Claimable reports whether the slip placed and its prize is still unclaimed.
func (s Slip) Claimable(prizeRanks int) bool {
	if !s.Evaluated || s.LeaderboardRank == nil || s.PrizeClaimed == nil {
		return false
	}
	return *s.LeaderboardRank >= 1 && *s.LeaderboardRank <= prizeRanks && !*s.PrizeClaimed
}

// PickResult is the backend's per-match verdict.
type PickResult struct {
	MatchID odds.MatchID `json:"match_id"`
	Correct bool         `json:"correct"`
	Result  string       `json:"result,omitempty"`
}

// Evaluation is the backend's record of a slip.
type Evaluation struct {
	Cycle  odds.CycleID `json:"cycle"`
	SlipID *uint64      `json:"slip_id,omitempty"`
	Player string       `json:"player"`

	FinalScore      decimal.Decimal `json:"final_score"`
	CorrectCount    int             `json:"correct_count"`
	LeaderboardRank *int            `json:"leaderboard_rank,omitempty"`
	PrizeClaimed    bool            `json:"prize_claimed"`
	Picks           []PickResult    `json:"picks,omitempty"`
}
