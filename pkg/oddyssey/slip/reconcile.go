package slip

import (
	"sort"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/shopspring/decimal"
)

// Reconcile overlays backend evaluations onto chain slips. Every chain slip is
// returned, in input order, whether or not the backend knows about it.
func Reconcile(chain []Slip, evals []Evaluation) []Slip {
	used := make([]bool, len(evals))
	out := make([]Slip, 0, len(chain))

	for _, c := range chain {
		merged := clone(c)
		if i := findEvaluation(c, evals, used); i >= 0 {
			used[i] = true
			overlay(&merged, evals[i])
		}
		normalize(&merged)
		out = append(out, merged)
	}
	return out
}

// findEvaluation prefers an exact (cycle, slip id) match and falls back to an
// unused record of the same cycle that carries no slip id.
func findEvaluation(s Slip, evals []Evaluation, used []bool) int {
	for i, e := range evals {
		if !used[i] && e.Cycle == s.Cycle && e.SlipID != nil && *e.SlipID == s.SlipID {
			return i
		}
	}
	for i, e := range evals {
		if !used[i] && e.Cycle == s.Cycle && e.SlipID == nil {
			return i
		}
	}
	return -1
}

func overlay(s *Slip, e Evaluation) {
	if e.LeaderboardRank != nil {
		rank := *e.LeaderboardRank
		s.LeaderboardRank = &rank
	}
	claimed := e.PrizeClaimed
	s.PrizeClaimed = &claimed

	if len(e.Picks) == 0 {
		return
	}
	byMatch := make(map[odds.MatchID]PickResult, len(e.Picks))
	for _, p := range e.Picks {
		byMatch[p.MatchID] = p
	}
	for i := range s.Predictions {
		p := &s.Predictions[i]
		r, ok := byMatch[p.MatchID]
		if !ok {
			continue
		}
		if p.Correct == nil {
			correct := r.Correct
			p.Correct = &correct
		}
		if p.Result == "" {
			p.Result = r.Result
		}
	}
}

// normalize keeps CorrectCount inside [0, len(Predictions)].
func normalize(s *Slip) {
	n := len(s.Predictions)
	if s.CorrectCount >= 0 && s.CorrectCount <= n {
		return
	}
	known, correct := 0, 0
	for _, p := range s.Predictions {
		if p.Correct != nil {
			known++
			if *p.Correct {
				correct++
			}
		}
	}
	switch {
	case known > 0:
		s.CorrectCount = correct
	case s.CorrectCount < 0:
		s.CorrectCount = 0
	default:
		s.CorrectCount = n
	}
}

func clone(s Slip) Slip {
	out := s
	out.Predictions = make([]Prediction, len(s.Predictions))
	for i, p := range s.Predictions {
		if p.Correct != nil {
			c := *p.Correct
			p.Correct = &c
		}
		out.Predictions[i] = p
	}
	if s.LeaderboardRank != nil {
		r := *s.LeaderboardRank
		out.LeaderboardRank = &r
	}
	if s.PrizeClaimed != nil {
		c := *s.PrizeClaimed
		out.PrizeClaimed = &c
	}
	return out
}

// History unions slips from several reads. A slip seen in a later group
// replaces the same slip from an earlier one. The result is ordered newest
// cycle first, then by slip id.
func History(groups ...[]Slip) []Slip {
	byKey := make(map[Key]Slip)
	for _, g := range groups {
		for _, s := range g {
			byKey[s.Key()] = s
		}
	}

	out := make([]Slip, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cycle != out[j].Cycle {
			return out[i].Cycle > out[j].Cycle
		}
		return out[i].SlipID > out[j].SlipID
	})
	return out
}

// Summary aggregates a player's slips.
type Summary struct {
	Slips          int             `json:"slips"`
	Evaluated      int             `json:"evaluated"`
	Pending        int             `json:"pending"`
	BestRank       *int            `json:"best_rank,omitempty"`
	Claimable      int             `json:"claimable"`
	AverageCorrect decimal.Decimal `json:"average_correct"`
}

// Summarize computes a Summary. prizeRanks is how many leaderboard places pay out.
func Summarize(slips []Slip, prizeRanks int) Summary {
	var sum Summary
	totalCorrect := 0
	for _, s := range slips {
		sum.Slips++
		if !s.Evaluated {
			sum.Pending++
			continue
		}
		sum.Evaluated++
		totalCorrect += s.CorrectCount
		if s.LeaderboardRank != nil && (sum.BestRank == nil || *s.LeaderboardRank < *sum.BestRank) {
			r := *s.LeaderboardRank
			sum.BestRank = &r
		}
		if s.Claimable(prizeRanks) {
			sum.Claimable++
		}
	}
	if sum.Evaluated > 0 {
		sum.AverageCorrect = decimal.NewFromInt(int64(totalCorrect)).
			Div(decimal.NewFromInt(int64(sum.Evaluated))).Round(2)
	}
	return sum
}

// ChangeKind describes what happened to a slip between two reads.
type ChangeKind string

const (
	ChangeEvaluated ChangeKind = "evaluated"
	ChangeRanked    ChangeKind = "ranked"
	ChangeClaimable ChangeKind = "claimable"
)

// Change is one observed slip transition.
type Change struct {
	Kind ChangeKind
	Slip Slip
}

// Diff reports slips that became evaluated, ranked or claimable in next.
func Diff(prev, next []Slip, prizeRanks int) []Change {
	old := make(map[Key]Slip, len(prev))
	for _, s := range prev {
		old[s.Key()] = s
	}

	var changes []Change
	for _, s := range next {
		p, seen := old[s.Key()]
		if s.Evaluated && (!seen || !p.Evaluated) {
			changes = append(changes, Change{Kind: ChangeEvaluated, Slip: s})
		}
		if s.LeaderboardRank != nil && (!seen || p.LeaderboardRank == nil) {
			changes = append(changes, Change{Kind: ChangeRanked, Slip: s})
		}
		if s.Claimable(prizeRanks) && (!seen || !p.Claimable(prizeRanks)) {
			changes = append(changes, Change{Kind: ChangeClaimable, Slip: s})
		}
	}
	return changes
}
