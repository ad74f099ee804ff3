package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/oddyssey-agent/pkg/config"
	"github.com/phenomenon0/oddyssey-agent/pkg/eth"
	"github.com/phenomenon0/oddyssey-agent/pkg/events"
	"github.com/phenomenon0/oddyssey-agent/pkg/notify"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/chain"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/picks"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/slip"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/txdriver"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/validate"
	"github.com/phenomenon0/oddyssey-agent/pkg/streaming"
)

const (
	devKey   = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	otherKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type notices struct {
	mu   sync.Mutex
	sent []notify.Notice
}

func (n *notices) Send(_ context.Context, x notify.Notice) error {
	n.mu.Lock()
	n.sent = append(n.sent, x)
	n.mu.Unlock()
	return nil
}

func (n *notices) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Kind
	for _, x := range n.sent {
		out = append(out, x.Kind)
	}
	return out
}

type stream struct {
	mu     sync.Mutex
	counts map[streaming.EventType]int
}

func (s *stream) Broadcast(t streaming.EventType, _ interface{}) {
	s.mu.Lock()
	if s.counts == nil {
		s.counts = make(map[streaming.EventType]int)
	}
	s.counts[t]++
	s.mu.Unlock()
}

func (s *stream) count(t streaming.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[t]
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

type fixture struct {
	paper    *chain.Paper
	mgr      *Manager
	cycle    odds.CycleID
	matches  []odds.Match
	events   *events.Recorder
	notices  *notices
	stream   *stream
	wallet   *eth.Wallet
	contract chain.Contract
}

func newFixture(t *testing.T, wrap func(chain.Contract) chain.Contract) *fixture {
	t.Helper()
	now := func() time.Time { return t0 }

	f := &fixture{
		paper:   chain.NewPaper(eth.DefaultChainID, chain.WithPaperClock(now)),
		matches: testMatches(10),
		events:  &events.Recorder{},
		notices: &notices{},
		stream:  &stream{},
	}
	f.cycle = f.paper.StartCycle(f.matches)
	f.contract = f.paper
	if wrap != nil {
		f.contract = wrap(f.paper)
	}

	w, err := eth.NewWallet(devKey)
	if err != nil {
		t.Fatal(err)
	}
	f.wallet = w

	f.mgr = New(f.paper, f.contract, Config{
		Network: eth.DefaultNetworkConfig(),
		Polling: config.PollingConfig{
			Matches:     20 * time.Millisecond,
			Evaluations: 20 * time.Millisecond,
			Stats:       20 * time.Millisecond,
		},
		PrizeRanks: 5,
	},
		WithBackend(f.paper),
		WithClock(now),
		WithPublisher(f.events),
		WithNotifier(f.notices),
		WithStream(f.stream),
	)

	if err := f.mgr.RefreshMatches(context.Background()); err != nil {
		t.Fatalf("RefreshMatches() error = %v", err)
	}
	return f
}

func (f *fixture) selectAll(t *testing.T, n int, outcome odds.Outcome) {
	t.Helper()
	for _, m := range f.matches[:n] {
		if _, err := f.mgr.Select(m.ID, outcome); err != nil {
			t.Fatalf("Select(%d) error = %v", m.ID, err)
		}
	}
}

func eventTypes(r *events.Recorder) []events.Type {
	var out []events.Type
	for _, e := range r.Events {
		out = append(out, e.Type)
	}
	return out
}

func TestSubmitAndClaimLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var fail *validate.Failure
	f.selectAll(t, 9, odds.OutcomeHome)
	if _, err := f.mgr.Submit(ctx); !errors.As(err, &fail) || fail.Reason != validate.ReasonWalletNotReady {
		t.Fatalf("Submit() without wallet error = %v", err)
	}

	if err := f.mgr.ConnectWallet(ctx, f.wallet); err != nil {
		t.Fatalf("ConnectWallet() error = %v", err)
	}
	if _, err := f.mgr.Submit(ctx); !errors.As(err, &fail) || fail.Reason != validate.ReasonIncompleteSlip || fail.Remaining != 1 {
		t.Fatalf("Submit() with 9 picks error = %v", err)
	}

	if _, err := f.mgr.Select(f.matches[9].ID, odds.OutcomeHome); err != nil {
		t.Fatal(err)
	}
	pt, err := f.mgr.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if pt.Phase != txdriver.PhaseSuccess || pt.Hash == "" {
		t.Errorf("transaction = %+v", pt)
	}
	if d := f.mgr.Draft(); d.Progress.Count != 0 {
		t.Errorf("draft not cleared: %d picks", d.Progress.Count)
	}

	view := f.mgr.Slips()
	if !view.HasValue || len(view.Value) != 1 {
		t.Fatalf("slips = %+v", view)
	}
	if view.Value[0].LeaderboardRank != nil {
		t.Error("rank set before evaluation")
	}

	results := make(map[odds.MatchID]chain.Result)
	for i, m := range f.matches {
		r := chain.Result{Moneyline: odds.OutcomeAway, OverUnder: odds.OutcomeOver}
		if i < 3 {
			r.Moneyline = odds.OutcomeHome
		}
		results[m.ID] = r
	}
	f.paper.Evaluate(f.cycle, results)

	if err := f.mgr.RefreshSlips(ctx); err != nil {
		t.Fatalf("RefreshSlips() error = %v", err)
	}
	s := f.mgr.Slips().Value[0]
	if !s.Evaluated || s.CorrectCount != 3 || !s.FinalScore.Equal(decimal.RequireFromString("9.261")) {
		t.Errorf("evaluated slip = %+v", s)
	}
	if !s.Claimable(f.mgr.PrizeRanks()) {
		t.Error("slip should be claimable")
	}
	if got := f.notices.kinds(); len(got) != 2 || got[0] != notify.KindEvaluated || got[1] != notify.KindClaimable {
		t.Errorf("notices = %v", got)
	}
	if sum := f.mgr.Summary(); sum.Claimable != 1 || sum.BestRank == nil || *sum.BestRank != 1 {
		t.Errorf("summary = %+v", sum)
	}

	claim, err := f.mgr.Claim(ctx, f.cycle, s.SlipID)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claim.Phase != txdriver.PhaseSuccess {
		t.Errorf("claim = %+v", claim)
	}
	if _, err := f.mgr.Claim(ctx, f.cycle, s.SlipID); !errors.Is(err, chain.ErrAlreadyClaimed) {
		t.Errorf("second Claim() error = %v, want ErrAlreadyClaimed", err)
	}

	want := []events.Type{events.SlipSubmitted, events.SlipConfirmed, events.SlipEvaluated, events.PrizeClaimed}
	got := eventTypes(f.events)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if f.stream.count(streaming.EventTypePhase) == 0 {
		t.Error("no phase updates streamed")
	}
}

func TestSubmitFailureKeepsDraft(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.mgr.ConnectWallet(ctx, f.wallet); err != nil {
		t.Fatal(err)
	}
	f.selectAll(t, 10, odds.OutcomeOver)

	f.paper.FailNext(errors.New("insufficient funds for gas * price + value"))
	pt, err := f.mgr.Submit(ctx)
	if err == nil {
		t.Fatal("expected failure")
	}
	if pt.Phase != txdriver.PhaseFailed || pt.Cause != txdriver.CauseInsufficientFunds {
		t.Errorf("transaction = %+v", pt)
	}
	if f.mgr.Draft().Progress.Count != 10 {
		t.Error("failed submission must keep the draft")
	}
	if got := eventTypes(f.events); len(got) != 1 || got[0] != events.SlipFailed {
		t.Errorf("events = %v", got)
	}

	// a reverted receipt fails after the hash is known
	f.paper.RevertNext("odds changed")
	pt, err = f.mgr.Submit(ctx)
	if err == nil || pt.Hash == "" || pt.Cause != txdriver.CauseContractRejected {
		t.Errorf("reverted submit = %+v, %v", pt, err)
	}

	if err := f.mgr.ResetTransaction(); err != nil {
		t.Fatal(err)
	}
	if pt, err := f.mgr.Submit(ctx); err != nil || pt.Phase != txdriver.PhaseSuccess {
		t.Errorf("retry = %+v, %v", pt, err)
	}
}

func TestWrongNetwork(t *testing.T) {
	f := newFixture(t, nil)
	f.mgr.cfg.Network.ChainID = 1
	if err := f.mgr.ConnectWallet(context.Background(), f.wallet); err != nil {
		t.Fatal(err)
	}
	var fail *validate.Failure
	if err := f.mgr.Validate(); !errors.As(err, &fail) || fail.Reason != validate.ReasonWrongNetwork {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestSelectWithoutMatches(t *testing.T) {
	mgr := New(chain.NewPaper(eth.DefaultChainID), chain.NewPaper(eth.DefaultChainID), Config{})
	if _, err := mgr.Select(1, odds.OutcomeHome); !errors.Is(err, picks.ErrMatchNotFound) {
		t.Errorf("Select() error = %v, want ErrMatchNotFound", err)
	}
}

func TestCycleChangeClearsDraft(t *testing.T) {
	f := newFixture(t, nil)
	f.selectAll(t, 3, odds.OutcomeDraw)

	next := f.paper.StartCycle(testMatches(10))
	if err := f.mgr.RefreshMatches(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.mgr.Cycle() != next {
		t.Errorf("Cycle() = %d, want %d", f.mgr.Cycle(), next)
	}
	if n := f.mgr.Draft().Progress.Count; n != 0 {
		t.Errorf("draft has %d picks after cycle change", n)
	}
}

func TestAccountSwitchClearsDraft(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.mgr.ConnectWallet(ctx, f.wallet); err != nil {
		t.Fatal(err)
	}
	f.selectAll(t, 2, odds.OutcomeHome)

	// same account again keeps the draft
	if err := f.mgr.ConnectWallet(ctx, f.wallet); err != nil {
		t.Fatal(err)
	}
	if f.mgr.Draft().Progress.Count != 2 {
		t.Fatal("reconnecting the same wallet dropped the draft")
	}

	other, err := eth.NewWallet(otherKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.ConnectWallet(ctx, other); err != nil {
		t.Fatal(err)
	}
	if f.mgr.Draft().Progress.Count != 0 {
		t.Error("switching accounts must clear the draft")
	}

	f.selectAll(t, 1, odds.OutcomeHome)
	f.mgr.DisconnectWallet()
	if f.mgr.Draft().Progress.Count != 0 || f.mgr.Wallet() != nil {
		t.Error("disconnect must clear the draft and wallet")
	}
}

// gated blocks UserSlips while armed so a test can change context mid-read.
type gated struct {
	chain.Contract
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gated) UserSlips(ctx context.Context, player string, cycle odds.CycleID) ([]slip.Slip, error) {
	g.mu.Lock()
	armed := g.armed
	g.mu.Unlock()
	if armed {
		close(g.entered)
		<-g.release
	}
	return g.Contract.UserSlips(ctx, player, cycle)
}

func TestStaleSlipReadDiscarded(t *testing.T) {
	g := &gated{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, func(c chain.Contract) chain.Contract {
		g.Contract = c
		return g
	})
	ctx := context.Background()
	if err := f.mgr.ConnectWallet(ctx, f.wallet); err != nil {
		t.Fatal(err)
	}

	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- f.mgr.RefreshSlips(ctx) }()
	<-g.entered

	f.mgr.DisconnectWallet()
	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("RefreshSlips() error = %v", err)
	}

	if v := f.mgr.Slips(); v.HasValue {
		t.Errorf("stale read applied: %+v", v)
	}
	if f.mgr.Status().Discarded == 0 {
		t.Error("stale read not counted")
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.mgr.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.mgr.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.stream.count(streaming.EventTypeStats) == 0 || f.stream.count(streaming.EventTypeCountdown) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("polling tasks never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.mgr.Stop()
	if f.mgr.Running() {
		t.Error("Running() after Stop")
	}
	if v := f.mgr.Stats(); !v.HasValue || v.Value.CurrentCycle != f.cycle {
		t.Errorf("stats = %+v", v)
	}
	if c := f.mgr.Countdown(); c.Expired || c.Display != "01:00:00" {
		t.Errorf("countdown = %+v", c)
	}
}

func TestPastCycleSlipsStayInHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.mgr.ConnectWallet(ctx, f.wallet); err != nil {
		t.Fatal(err)
	}
	f.selectAll(t, 10, odds.OutcomeHome)
	if _, err := f.mgr.Submit(ctx); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	first := f.cycle

	next := f.paper.StartCycle(testMatches(10))
	if err := f.mgr.RefreshMatches(ctx); err != nil {
		t.Fatal(err)
	}
	if f.mgr.Cycle() != next {
		t.Fatalf("Cycle() = %d, want %d", f.mgr.Cycle(), next)
	}
	if v := f.mgr.Slips(); !v.HasValue || len(v.Value) != 1 {
		t.Fatalf("slips after cycle change = %+v", v)
	}

	results := make(map[odds.MatchID]chain.Result)
	for _, m := range f.matches {
		results[m.ID] = chain.Result{Moneyline: odds.OutcomeHome, OverUnder: odds.OutcomeUnder}
	}
	f.paper.Evaluate(first, results)
	if err := f.mgr.RefreshSlips(ctx); err != nil {
		t.Fatalf("RefreshSlips() error = %v", err)
	}

	all := f.mgr.Slips().Value
	if len(all) != 1 {
		t.Fatalf("slips = %d, want 1", len(all))
	}
	s := all[0]
	if s.Cycle != first || !s.Evaluated || s.CorrectCount != 10 {
		t.Errorf("past slip = %+v", s)
	}
	if s.LeaderboardRank == nil || *s.LeaderboardRank != 1 || !s.Claimable(f.mgr.PrizeRanks()) {
		t.Errorf("past slip not ranked and claimable: %+v", s)
	}
	if got := f.notices.kinds(); len(got) != 2 || got[0] != notify.KindEvaluated || got[1] != notify.KindClaimable {
		t.Errorf("notices = %v", got)
	}

	if _, err := f.mgr.Claim(ctx, first, s.SlipID); err != nil {
		t.Fatalf("Claim() of past slip error = %v", err)
	}
	if got := f.mgr.Slips().Value[0]; got.PrizeClaimed == nil || !*got.PrizeClaimed {
		t.Errorf("claim not reflected: %+v", got)
	}

	// settled cycles drop out of the reads
	f.mgr.mu.Lock()
	open := f.mgr.openCyclesLocked()
	f.mgr.mu.Unlock()
	if len(open) != 1 || open[0] != next {
		t.Errorf("open cycles = %v, want only %d", open, next)
	}
}

func TestSubmitChecksPickSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.mgr.ConnectWallet(context.Background(), f.wallet); err != nil {
		t.Fatal(err)
	}
	f.selectAll(t, 10, odds.OutcomeDraw)

	ps := f.mgr.draft.Picks()
	f.mgr.Deselect(f.matches[0].ID)

	if err := f.mgr.check(ps); err != nil {
		t.Errorf("check(snapshot) error = %v", err)
	}
	var fail *validate.Failure
	if err := f.mgr.Validate(); !errors.As(err, &fail) || fail.Reason != validate.ReasonIncompleteSlip {
		t.Errorf("Validate() error = %v, want incomplete_slip", err)
	}
}
