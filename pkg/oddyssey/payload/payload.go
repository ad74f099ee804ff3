// Package payload converts a completed draft into the prediction array the
// Oddyssey contract accepts.
package payload

import (
	"fmt"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/picks"
)

// BetType is the market a prediction belongs to.
type BetType uint8

const (
	BetMoneyline BetType = iota
	BetOverUnder
)

func (b BetType) String() string {
	switch b {
	case BetMoneyline:
		return "MONEYLINE"
	case BetOverUnder:
		return "OVER_UNDER"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the contract-facing name.
func (b BetType) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *BetType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "MONEYLINE":
		*b = BetMoneyline
	case "OVER_UNDER":
		*b = BetOverUnder
	default:
		return fmt.Errorf("unknown bet type %q", text)
	}
	return nil
}

// Selection codes used on chain.
const (
	SelectionHome  = "1"
	SelectionDraw  = "X"
	SelectionAway  = "2"
	SelectionOver  = "Over"
	SelectionUnder = "Under"
)

// Prediction is one element of the submitted array.
type Prediction struct {
	MatchID    odds.MatchID `json:"match_id"`
	BetType    BetType      `json:"bet_type"`
	Selection  string       `json:"selection"`
	ScaledOdds uint32       `json:"scaled_odds"`
}

// Encode maps an outcome to its bet type and selection code.
func Encode(o odds.Outcome) (BetType, string, error) {
	switch o {
	case odds.OutcomeHome:
		return BetMoneyline, SelectionHome, nil
	case odds.OutcomeDraw:
		return BetMoneyline, SelectionDraw, nil
	case odds.OutcomeAway:
		return BetMoneyline, SelectionAway, nil
	case odds.OutcomeOver:
		return BetOverUnder, SelectionOver, nil
	case odds.OutcomeUnder:
		return BetOverUnder, SelectionUnder, nil
	}
	return 0, "", fmt.Errorf("unknown outcome %q", o)
}

// Decode maps a bet type and selection code back to an outcome.
func Decode(bt BetType, selection string) (odds.Outcome, error) {
	switch {
	case bt == BetMoneyline && selection == SelectionHome:
		return odds.OutcomeHome, nil
	case bt == BetMoneyline && selection == SelectionDraw:
		return odds.OutcomeDraw, nil
	case bt == BetMoneyline && selection == SelectionAway:
		return odds.OutcomeAway, nil
	case bt == BetOverUnder && selection == SelectionOver:
		return odds.OutcomeOver, nil
	case bt == BetOverUnder && selection == SelectionUnder:
		return odds.OutcomeUnder, nil
	}
	return "", fmt.Errorf("unknown selection %s/%q", bt, selection)
}

// Build converts picks into predictions, preserving their order.
func Build(ps []picks.Pick) ([]Prediction, error) {
	out := make([]Prediction, 0, len(ps))
	for _, p := range ps {
		bt, code, err := Encode(p.Outcome)
		if err != nil {
			return nil, fmt.Errorf("match %d: %w", p.MatchID, err)
		}
		scaled, err := odds.ScaleOdds(p.Odds)
		if err != nil {
			return nil, fmt.Errorf("match %d: %w", p.MatchID, err)
		}
		out = append(out, Prediction{
			MatchID:    p.MatchID,
			BetType:    bt,
			Selection:  code,
			ScaledOdds: scaled,
		})
	}
	return out, nil
}

// BuildComplete is Build restricted to a full slip.
func BuildComplete(ps []picks.Pick) ([]Prediction, error) {
	if len(ps) != picks.MaxPicks {
		return nil, fmt.Errorf("slip needs %d predictions, got %d", picks.MaxPicks, len(ps))
	}
	return Build(ps)
}
