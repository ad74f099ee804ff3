package chain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/payload"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/slip"
)

// toMatches converts contract match slots. Empty slots (id 0) are skipped and
// zero odds mean the market is not offered.
func toMatches(ts []matchTuple) []odds.Match {
	out := make([]odds.Match, 0, len(ts))
	for _, t := range ts {
		if t.Id == 0 {
			continue
		}
		m := odds.Match{
			ID:       odds.MatchID(t.Id),
			Kickoff:  time.Unix(int64(t.StartTime), 0).UTC(),
			HomeTeam: t.HomeTeam,
			AwayTeam: t.AwayTeam,
			League:   t.LeagueName,
			Odds:     make(map[odds.Outcome]decimal.Decimal, 5),
		}
		setOdds(m.Odds, odds.OutcomeHome, t.OddsHome)
		setOdds(m.Odds, odds.OutcomeDraw, t.OddsDraw)
		setOdds(m.Odds, odds.OutcomeAway, t.OddsAway)
		setOdds(m.Odds, odds.OutcomeOver, t.OddsOver)
		setOdds(m.Odds, odds.OutcomeUnder, t.OddsUnder)
		out = append(out, m)
	}
	return out
}

func setOdds(dst map[odds.Outcome]decimal.Decimal, o odds.Outcome, scaled uint32) {
	if scaled == 0 {
		return
	}
	dst[o] = odds.UnscaleOdds(scaled)
}

func toPredictionTuples(preds []payload.Prediction) ([SlipSize]predictionTuple, error) {
	var out [SlipSize]predictionTuple
	if len(preds) != SlipSize {
		return out, fmt.Errorf("%w: got %d", ErrSlipSize, len(preds))
	}
	for i, p := range preds {
		out[i] = predictionTuple{
			MatchId:     uint64(p.MatchID),
			BetType:     uint8(p.BetType),
			Selection:   p.Selection,
			SelectedOdd: p.ScaledOdds,
		}
	}
	return out, nil
}

// toSlip converts a contract slip. Per-pick correctness is set only where the
// match result is known on chain.
func toSlip(id uint64, st slipTuple, matches map[uint64]matchTuple) slip.Slip {
	s := slip.Slip{
		Cycle:        odds.CycleID(bigUint(st.CycleId)),
		SlipID:       id,
		Player:       st.Player.Hex(),
		PlacedAt:     time.Unix(int64(bigUint(st.PlacedAt)), 0).UTC(),
		Evaluated:    st.IsEvaluated,
		CorrectCount: int(st.CorrectCount),
		FinalScore:   decimal.Zero,
		Predictions:  make([]slip.Prediction, 0, SlipSize),
	}
	if st.FinalScore != nil {
		s.FinalScore = decimal.NewFromBigInt(st.FinalScore, -3)
	}

	for _, p := range st.Predictions {
		if p.MatchId == 0 {
			continue
		}
		pred := slip.Prediction{
			MatchID:   odds.MatchID(p.MatchId),
			BetType:   payload.BetType(p.BetType),
			Selection: p.Selection,
			Odds:      odds.UnscaleOdds(p.SelectedOdd),
		}
		if m, ok := matches[p.MatchId]; ok {
			pred.HomeTeam = m.HomeTeam
			pred.AwayTeam = m.AwayTeam
			if r := resultCode(m, pred.BetType); r != "" {
				pred.Result = r
				correct := r == p.Selection
				pred.Correct = &correct
			}
		}
		s.Predictions = append(s.Predictions, pred)
	}
	return s
}

func bigUint(v *big.Int) uint64 {
	if v == nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}
