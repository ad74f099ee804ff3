package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/shopspring/decimal"

	"github.com/phenomenon0/oddyssey-agent/pkg/eth"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/payload"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/picks"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/txdriver"
)

var t0 = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func fromMatch(m odds.Match) matchTuple {
	t := matchTuple{
		Id:         uint64(m.ID),
		StartTime:  uint64(m.Kickoff.Unix()),
		HomeTeam:   m.HomeTeam,
		AwayTeam:   m.AwayTeam,
		LeagueName: m.League,
	}
	scaled := func(o odds.Outcome) uint32 {
		d, ok := m.OddsFor(o)
		if !ok {
			return 0
		}
		v, _ := odds.ScaleOdds(d)
		return v
	}
	t.OddsHome = scaled(odds.OutcomeHome)
	t.OddsDraw = scaled(odds.OutcomeDraw)
	t.OddsAway = scaled(odds.OutcomeAway)
	t.OddsOver = scaled(odds.OutcomeOver)
	t.OddsUnder = scaled(odds.OutcomeUnder)
	return t
}

func testMatches(n int) []odds.Match {
	out := make([]odds.Match, n)
	for i := range out {
		out[i] = odds.Match{
			ID:       odds.MatchID(100 + i),
			Kickoff:  t0.Add(time.Duration(i+1) * time.Hour),
			HomeTeam: fmt.Sprintf("Home %d", i),
			AwayTeam: fmt.Sprintf("Away %d", i),
			League:   "Test League",
			Odds: map[odds.Outcome]decimal.Decimal{
				odds.OutcomeHome:  decimal.RequireFromString("2.1"),
				odds.OutcomeDraw:  decimal.RequireFromString("3.25"),
				odds.OutcomeAway:  decimal.RequireFromString("3.8"),
				odds.OutcomeOver:  decimal.RequireFromString("1.9"),
				odds.OutcomeUnder: decimal.RequireFromString("1.95"),
			},
		}
	}
	return out
}

func homePredictions(t *testing.T, matches []odds.Match) []payload.Prediction {
	t.Helper()
	set := picks.NewSet(picks.WithClock(func() time.Time { return t0 }))
	board := odds.Snapshot{Matches: matches}
	for _, m := range matches {
		if _, err := set.Select(board, m.ID, odds.OutcomeHome); err != nil {
			t.Fatalf("Select(%d) error = %v", m.ID, err)
		}
	}
	preds, err := payload.BuildComplete(set.Picks())
	if err != nil {
		t.Fatalf("BuildComplete() error = %v", err)
	}
	return preds
}

func TestDecodeCycleMatches(t *testing.T) {
	src := testMatches(2)
	delete(src[1].Odds, odds.OutcomeUnder)

	var slots [SlipSize]matchTuple
	slots[0] = fromMatch(src[0])
	slots[1] = fromMatch(src[1])

	data, err := oddysseyABI.Methods["getCycleMatches"].Outputs.Pack(slots)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	out, err := oddysseyABI.Unpack("getCycleMatches", data)
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	decoded := *abi.ConvertType(out[0], new([SlipSize]matchTuple)).(*[SlipSize]matchTuple)
	matches := toMatches(decoded[:])

	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2 (empty slots skipped)", len(matches))
	}
	if !matches[0].Kickoff.Equal(src[0].Kickoff) || matches[0].HomeTeam != "Home 0" {
		t.Errorf("match 0 = %+v", matches[0])
	}
	if d, _ := matches[0].OddsFor(odds.OutcomeDraw); !d.Equal(decimal.RequireFromString("3.25")) {
		t.Errorf("draw odds = %s", d)
	}
	if _, ok := matches[1].OddsFor(odds.OutcomeUnder); ok {
		t.Error("zero odds on chain must decode as absent")
	}
}

func TestToSlipAttachesResults(t *testing.T) {
	m := fromMatch(testMatches(1)[0])
	m.MoneylineResult = resultDraw

	st := slipTuple{
		CycleId:      big.NewInt(3),
		PlacedAt:     big.NewInt(t0.Unix()),
		FinalScore:   big.NewInt(3250),
		CorrectCount: 1,
		IsEvaluated:  true,
	}
	st.Predictions[0] = predictionTuple{MatchId: m.Id, BetType: 0, Selection: "X", SelectedOdd: 3250}
	st.Predictions[1] = predictionTuple{MatchId: 999, BetType: 1, Selection: "Over", SelectedOdd: 1900}

	s := toSlip(8, st, map[uint64]matchTuple{m.Id: m})
	if s.Cycle != 3 || s.SlipID != 8 || !s.Evaluated {
		t.Errorf("slip = %+v", s)
	}
	if !s.FinalScore.Equal(decimal.RequireFromString("3.25")) {
		t.Errorf("FinalScore = %s", s.FinalScore)
	}
	if len(s.Predictions) != 2 {
		t.Fatalf("got %d predictions", len(s.Predictions))
	}
	if p := s.Predictions[0]; p.Correct == nil || !*p.Correct || p.Result != "X" {
		t.Errorf("prediction 0 = %+v", p)
	}
	if p := s.Predictions[1]; p.Correct != nil {
		t.Error("unknown result should leave correctness unset")
	}
}

func TestPlaceSlipPacks(t *testing.T) {
	preds := homePredictions(t, testMatches(SlipSize))
	arg, err := toPredictionTuples(preds)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := oddysseyABI.Pack("placeSlip", arg); err != nil {
		t.Fatalf("Pack(placeSlip) error = %v", err)
	}
	if _, err := toPredictionTuples(preds[:9]); !errors.Is(err, ErrSlipSize) {
		t.Errorf("err = %v, want ErrSlipSize", err)
	}
}

func newTestPaper(t *testing.T) (*Paper, *eth.Wallet, odds.CycleID) {
	t.Helper()
	p := NewPaper(eth.DefaultChainID, WithPaperClock(func() time.Time { return t0 }), WithPrizeRanks(1))
	cycle := p.StartCycle(testMatches(SlipSize))
	w, err := eth.GenerateWallet()
	if err != nil {
		t.Fatal(err)
	}
	return p, w, cycle
}

func TestPaperLifecycle(t *testing.T) {
	ctx := context.Background()
	p, w, cycle := newTestPaper(t)
	fee, _ := p.EntryFee(ctx)

	sub, err := p.SubmitSlip(ctx, w, homePredictions(t, testMatches(SlipSize)), fee)
	if err != nil {
		t.Fatalf("SubmitSlip() error = %v", err)
	}
	if sub.Hash() == "" {
		t.Fatal("empty hash")
	}
	if err := sub.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	slips, _ := p.UserSlips(ctx, w.AddressHex(), cycle)
	if len(slips) != 1 || slips[0].Evaluated {
		t.Fatalf("slips = %+v", slips)
	}

	results := map[odds.MatchID]Result{}
	for i, m := range testMatches(SlipSize) {
		r := Result{Moneyline: odds.OutcomeAway, OverUnder: odds.OutcomeOver}
		if i < 3 {
			r.Moneyline = odds.OutcomeHome
		}
		results[m.ID] = r
	}
	p.Evaluate(cycle, results)

	slips, _ = p.UserSlips(ctx, w.AddressHex(), cycle)
	s := slips[0]
	if !s.Evaluated || s.CorrectCount != 3 {
		t.Errorf("evaluated = %v, correct = %d", s.Evaluated, s.CorrectCount)
	}
	if want := decimal.RequireFromString("9.261"); !s.FinalScore.Equal(want) {
		t.Errorf("FinalScore = %s, want %s", s.FinalScore, want)
	}
	if s.LeaderboardRank != nil {
		t.Error("chain view must not carry the leaderboard rank")
	}

	evals, _ := p.SlipEvaluations(ctx, cycle, w.AddressHex())
	if len(evals) != 1 || *evals[0].LeaderboardRank != 1 || len(evals[0].Picks) != SlipSize {
		t.Fatalf("evals = %+v", evals)
	}

	claim, err := p.ClaimPrize(ctx, w, cycle, s.SlipID)
	if err != nil {
		t.Fatalf("ClaimPrize() error = %v", err)
	}
	if err := claim.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ClaimPrize(ctx, w, cycle, s.SlipID); !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("second claim err = %v", err)
	}

	stats, _ := p.Stats(ctx)
	if stats.TotalSlips != 1 || stats.TotalPlayers != 1 || !stats.WinRate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPaperRejections(t *testing.T) {
	ctx := context.Background()
	p, w, _ := newTestPaper(t)
	fee, _ := p.EntryFee(ctx)
	preds := homePredictions(t, testMatches(SlipSize))

	if _, err := p.SubmitSlip(ctx, nil, preds, fee); !errors.Is(err, ErrNoSigner) {
		t.Errorf("no signer err = %v", err)
	}
	if _, err := p.SubmitSlip(ctx, w, preds, big.NewInt(1)); txdriver.Classify(err) != txdriver.CauseContractRejected {
		t.Errorf("wrong fee classified as %v", txdriver.Classify(err))
	}

	tampered := append([]payload.Prediction(nil), preds...)
	tampered[0].ScaledOdds++
	if _, err := p.SubmitSlip(ctx, w, tampered, fee); err == nil {
		t.Error("odds mismatch should revert")
	}

	p.FailNext(errors.New("insufficient funds for gas * price + value"))
	if _, err := p.SubmitSlip(ctx, w, preds, fee); txdriver.Classify(err) != txdriver.CauseInsufficientFunds {
		t.Errorf("injected failure classified as %v", txdriver.Classify(err))
	}

	p.RevertNext("out of range")
	sub, err := p.SubmitSlip(ctx, w, preds, fee)
	if err != nil {
		t.Fatalf("reverting send should still dispatch: %v", err)
	}
	if err := sub.Wait(ctx); !errors.Is(err, txdriver.ErrReverted) {
		t.Errorf("Wait() err = %v, want ErrReverted", err)
	}
	if slips, _ := p.UserSlips(ctx, w.AddressHex(), 1); len(slips) != 0 {
		t.Error("reverted slip was stored")
	}
}

func TestPaperRejectsStartedMatch(t *testing.T) {
	ctx := context.Background()
	now := t0
	p := NewPaper(eth.DefaultChainID, WithPaperClock(func() time.Time { return now }))
	p.StartCycle(testMatches(SlipSize))
	w, _ := eth.GenerateWallet()
	preds := homePredictions(t, testMatches(SlipSize))
	fee, _ := p.EntryFee(ctx)

	now = t0.Add(90 * time.Minute)
	if _, err := p.SubmitSlip(ctx, w, preds, fee); err == nil {
		t.Error("started match should revert")
	}
}
