package payload

import (
	"reflect"
	"testing"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/picks"
	"github.com/shopspring/decimal"
)

func pick(id int, o odds.Outcome, price string) picks.Pick {
	return picks.Pick{
		MatchID: odds.MatchID(id),
		Outcome: o,
		Odds:    decimal.RequireFromString(price),
	}
}

func TestBuild(t *testing.T) {
	in := []picks.Pick{
		pick(30, odds.OutcomeHome, "2.75"),
		pick(10, odds.OutcomeDraw, "3.02"),
		pick(20, odds.OutcomeAway, "2.40"),
		pick(40, odds.OutcomeOver, "1.85"),
		pick(50, odds.OutcomeUnder, "2.00"),
	}

	got, err := Build(in)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []Prediction{
		{MatchID: 30, BetType: BetMoneyline, Selection: "1", ScaledOdds: 2750},
		{MatchID: 10, BetType: BetMoneyline, Selection: "X", ScaledOdds: 3020},
		{MatchID: 20, BetType: BetMoneyline, Selection: "2", ScaledOdds: 2400},
		{MatchID: 40, BetType: BetOverUnder, Selection: "Over", ScaledOdds: 1850},
		{MatchID: 50, BetType: BetOverUnder, Selection: "Under", ScaledOdds: 2000},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() = %+v\nwant %+v", got, want)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	in := []picks.Pick{pick(1, odds.OutcomeHome, "1.95"), pick(2, odds.OutcomeOver, "2.35")}

	a, _ := Build(in)
	b, _ := Build(in)
	if !reflect.DeepEqual(a, b) {
		t.Error("Build is not deterministic")
	}
	if in[0].Odds.String() != "1.95" {
		t.Error("Build mutated its input")
	}
}

func TestBuildRejectsBadPick(t *testing.T) {
	if _, err := Build([]picks.Pick{pick(1, "btts", "2")}); err == nil {
		t.Error("unknown outcome should fail")
	}
	if _, err := Build([]picks.Pick{pick(1, odds.OutcomeHome, "0")}); err == nil {
		t.Error("zero odds should fail")
	}
}

func TestBuildComplete(t *testing.T) {
	var in []picks.Pick
	for i := 1; i <= 9; i++ {
		in = append(in, pick(i, odds.OutcomeHome, "2"))
	}
	if _, err := BuildComplete(in); err == nil {
		t.Error("9 picks should fail")
	}
	in = append(in, pick(10, odds.OutcomeAway, "2.9"))
	out, err := BuildComplete(in)
	if err != nil || len(out) != 10 {
		t.Fatalf("BuildComplete = %d, %v", len(out), err)
	}
}

func TestDecodeInvertsEncode(t *testing.T) {
	for _, o := range odds.Outcomes {
		bt, code, err := Encode(o)
		if err != nil {
			t.Fatalf("Encode(%s): %v", o, err)
		}
		back, err := Decode(bt, code)
		if err != nil || back != o {
			t.Errorf("Decode(Encode(%s)) = %s, %v", o, back, err)
		}
	}
	if _, err := Decode(BetOverUnder, "1"); err == nil {
		t.Error("mismatched bet type should fail")
	}
}
