package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/phenomenon0/oddyssey-agent/pkg/eth"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/backend"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/payload"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/slip"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/txdriver"
)

// Result is the final outcome of a match.
type Result struct {
	Moneyline odds.Outcome
	OverUnder odds.Outcome
}

// Paper is an in-memory Oddyssey contract. It also answers the evaluation
// service's queries so the whole flow can run without a deployment.
type Paper struct {
	mu sync.Mutex

	chainID    uint64
	entryFee   *big.Int
	prizeRanks int
	now        func() time.Time

	cycle   odds.CycleID
	matches map[odds.CycleID][]odds.Match
	pools   map[odds.CycleID]*big.Int
	volume  *big.Int

	slips    []*paperSlip
	nextSlip uint64
	nonce    uint64

	failNext   error
	revertNext string
}

type paperSlip struct {
	slip.Slip
	rank    *int
	claimed bool
}

// PaperOption configures Paper.
type PaperOption func(*Paper)

// WithEntryFee sets the fee placeSlip requires, in wei.
func WithEntryFee(fee *big.Int) PaperOption {
	return func(p *Paper) {
		p.entryFee = new(big.Int).Set(fee)
	}
}

// WithPrizeRanks sets how many leaderboard places can claim.
func WithPrizeRanks(n int) PaperOption {
	return func(p *Paper) {
		p.prizeRanks = n
	}
}

// WithPaperClock overrides the time source.
func WithPaperClock(now func() time.Time) PaperOption {
	return func(p *Paper) {
		p.now = now
	}
}

// NewPaper creates an empty paper contract on chainID.
func NewPaper(chainID uint64, opts ...PaperOption) *Paper {
	p := &Paper{
		chainID:    chainID,
		entryFee:   big.NewInt(500_000_000_000_000), // 0.0005
		prizeRanks: 5,
		now:        time.Now,
		matches:    make(map[odds.CycleID][]odds.Match),
		pools:      make(map[odds.CycleID]*big.Int),
		volume:     new(big.Int),
		nextSlip:   1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PrizeRanks returns how many leaderboard places can claim.
func (p *Paper) PrizeRanks() int {
	return p.prizeRanks
}

// StartCycle opens a new cycle with matches and makes it current.
func (p *Paper) StartCycle(matches []odds.Match) odds.CycleID {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cycle++
	stored := make([]odds.Match, len(matches))
	for i, m := range matches {
		stored[i] = copyMatch(m)
	}
	p.matches[p.cycle] = stored
	p.pools[p.cycle] = new(big.Int)
	return p.cycle
}

// FailNext makes the next send return err before a hash exists.
func (p *Paper) FailNext(err error) {
	p.mu.Lock()
	p.failNext = err
	p.mu.Unlock()
}

// RevertNext makes the next send produce a hash whose receipt fails.
func (p *Paper) RevertNext(reason string) {
	p.mu.Lock()
	p.revertNext = reason
	p.mu.Unlock()
}

// NetworkID returns the configured chain id.
func (p *Paper) NetworkID(ctx context.Context) (uint64, error) {
	return p.chainID, nil
}

// CurrentCycleID returns the latest started cycle.
func (p *Paper) CurrentCycleID(ctx context.Context) (odds.CycleID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycle, nil
}

// CycleMatches returns copies of the matches of cycle.
func (p *Paper) CycleMatches(ctx context.Context, cycle odds.CycleID) ([]odds.Match, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	src := p.matches[cycle]
	out := make([]odds.Match, len(src))
	for i, m := range src {
		out[i] = copyMatch(m)
	}
	return out, nil
}

// EntryFee returns the fee placeSlip requires.
func (p *Paper) EntryFee(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(p.entryFee), nil
}

// UserSlips returns player's slips for cycle.
func (p *Paper) UserSlips(ctx context.Context, player string, cycle odds.CycleID) ([]slip.Slip, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []slip.Slip
	for _, s := range p.slips {
		if s.Cycle == cycle && strings.EqualFold(s.Player, player) {
			out = append(out, cloneSlip(s.Slip))
		}
	}
	return out, nil
}

// SubmitSlip validates and stores a slip the way placeSlip would.
func (p *Paper) SubmitSlip(ctx context.Context, w *eth.Wallet, preds []payload.Prediction, fee *big.Int) (txdriver.Submission, error) {
	if w == nil {
		return nil, ErrNoSigner
	}
	if len(preds) != SlipSize {
		return nil, fmt.Errorf("execution reverted: %w", ErrSlipSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return nil, err
	}
	if fee == nil || fee.Cmp(p.entryFee) != 0 {
		return nil, fmt.Errorf("execution reverted: entry fee must be %s", p.entryFee)
	}

	now := p.now()
	byID := make(map[odds.MatchID]odds.Match, len(p.matches[p.cycle]))
	for _, m := range p.matches[p.cycle] {
		byID[m.ID] = m
	}

	s := slip.Slip{
		Cycle:       p.cycle,
		SlipID:      p.nextSlip,
		Player:      w.AddressHex(),
		PlacedAt:    now.UTC(),
		FinalScore:  decimal.Zero,
		Predictions: make([]slip.Prediction, 0, SlipSize),
	}
	seen := make(map[odds.MatchID]bool, SlipSize)
	for _, pr := range preds {
		m, ok := byID[pr.MatchID]
		if !ok {
			return nil, fmt.Errorf("execution reverted: match %d not in cycle %d", pr.MatchID, p.cycle)
		}
		if seen[pr.MatchID] {
			return nil, fmt.Errorf("execution reverted: duplicate match %d", pr.MatchID)
		}
		seen[pr.MatchID] = true
		if !m.Kickoff.After(now) {
			return nil, fmt.Errorf("execution reverted: match %d already started", pr.MatchID)
		}
		outcome, err := payload.Decode(pr.BetType, pr.Selection)
		if err != nil {
			return nil, fmt.Errorf("execution reverted: %w", err)
		}
		want, ok := m.OddsFor(outcome)
		if !ok {
			return nil, fmt.Errorf("execution reverted: %s odds not offered for match %d", outcome, pr.MatchID)
		}
		if scaled, _ := odds.ScaleOdds(want); scaled != pr.ScaledOdds {
			return nil, fmt.Errorf("execution reverted: odds mismatch for match %d", pr.MatchID)
		}
		s.Predictions = append(s.Predictions, slip.Prediction{
			MatchID:   pr.MatchID,
			BetType:   pr.BetType,
			Selection: pr.Selection,
			Odds:      odds.UnscaleOdds(pr.ScaledOdds),
			HomeTeam:  m.HomeTeam,
			AwayTeam:  m.AwayTeam,
		})
	}

	tx := p.newTx(w.Address())
	if reason := p.takeRevert(); reason != "" {
		return tx.reverted(reason), nil
	}

	p.nextSlip++
	p.slips = append(p.slips, &paperSlip{Slip: s})
	p.pools[p.cycle].Add(p.pools[p.cycle], p.entryFee)
	p.volume.Add(p.volume, p.entryFee)
	return tx, nil
}

// ClaimPrize marks a ranked slip's prize as claimed.
func (p *Paper) ClaimPrize(ctx context.Context, w *eth.Wallet, cycle odds.CycleID, slipID uint64) (txdriver.Submission, error) {
	if w == nil {
		return nil, ErrNoSigner
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return nil, err
	}
	s := p.findLocked(cycle, slipID)
	switch {
	case s == nil:
		return nil, fmt.Errorf("execution reverted: %w", ErrUnknownSlip)
	case !strings.EqualFold(s.Player, w.AddressHex()):
		return nil, errors.New("execution reverted: not slip owner")
	case !s.Evaluated || s.rank == nil:
		return nil, fmt.Errorf("execution reverted: %w", ErrNotEvaluated)
	case *s.rank > p.prizeRanks:
		return nil, errors.New("execution reverted: slip did not place")
	case s.claimed:
		return nil, fmt.Errorf("execution reverted: %w", ErrAlreadyClaimed)
	}

	tx := p.newTx(w.Address())
	if reason := p.takeRevert(); reason != "" {
		return tx.reverted(reason), nil
	}
	s.claimed = true
	return tx, nil
}

// Evaluate records match results for cycle, scores every slip in it and
// ranks them. Score is the product of the odds of correct predictions.
func (p *Paper) Evaluate(cycle odds.CycleID, results map[odds.MatchID]Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ranked []*paperSlip
	for _, s := range p.slips {
		if s.Cycle != cycle {
			continue
		}
		score := decimal.NewFromInt(1)
		correct := 0
		for i := range s.Predictions {
			pr := &s.Predictions[i]
			r, ok := results[pr.MatchID]
			if !ok {
				continue
			}
			outcome := r.Moneyline
			if pr.BetType == payload.BetOverUnder {
				outcome = r.OverUnder
			}
			_, code, err := payload.Encode(outcome)
			if err != nil {
				continue
			}
			pr.Result = code
			hit := code == pr.Selection
			pr.Correct = &hit
			if hit {
				correct++
				score = score.Mul(pr.Odds)
			}
		}
		if correct == 0 {
			score = decimal.Zero
		}
		s.Evaluated = true
		s.CorrectCount = correct
		s.FinalScore = score.Truncate(3)
		ranked = append(ranked, s)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if !a.FinalScore.Equal(b.FinalScore) {
			return a.FinalScore.GreaterThan(b.FinalScore)
		}
		if a.CorrectCount != b.CorrectCount {
			return a.CorrectCount > b.CorrectCount
		}
		return a.SlipID < b.SlipID
	})
	for i, s := range ranked {
		rank := i + 1
		s.rank = &rank
	}
}

// SlipEvaluations answers like the evaluation service: ranked slips only.
func (p *Paper) SlipEvaluations(ctx context.Context, cycle odds.CycleID, address string) ([]slip.Evaluation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []slip.Evaluation
	for _, s := range p.slips {
		if s.Cycle != cycle || !strings.EqualFold(s.Player, address) || s.rank == nil {
			continue
		}
		id := s.SlipID
		rank := *s.rank
		e := slip.Evaluation{
			Cycle:           s.Cycle,
			SlipID:          &id,
			Player:          s.Player,
			FinalScore:      s.FinalScore,
			CorrectCount:    s.CorrectCount,
			LeaderboardRank: &rank,
			PrizeClaimed:    s.claimed,
		}
		for _, pr := range s.Predictions {
			if pr.Correct != nil {
				e.Picks = append(e.Picks, slip.PickResult{MatchID: pr.MatchID, Correct: *pr.Correct, Result: pr.Result})
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// Stats computes competition totals across every cycle.
func (p *Paper) Stats(ctx context.Context) (backend.Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	players := make(map[string]bool)
	evaluated, wins, correct := 0, 0, 0
	for _, s := range p.slips {
		players[strings.ToLower(s.Player)] = true
		if !s.Evaluated {
			continue
		}
		evaluated++
		correct += s.CorrectCount
		if s.rank != nil && *s.rank <= p.prizeRanks {
			wins++
		}
	}

	stats := backend.Stats{
		CurrentCycle:   p.cycle,
		TotalSlips:     len(p.slips),
		TotalPlayers:   len(players),
		WinRate:        decimal.Zero,
		AverageCorrect: decimal.Zero,
		Volume:         decimal.NewFromBigInt(p.volume, -18),
		PrizePool:      decimal.Zero,
	}
	if pool, ok := p.pools[p.cycle]; ok {
		stats.PrizePool = decimal.NewFromBigInt(pool, -18)
	}
	if evaluated > 0 {
		n := decimal.NewFromInt(int64(evaluated))
		stats.WinRate = decimal.NewFromInt(int64(wins)).Div(n).Round(4)
		stats.AverageCorrect = decimal.NewFromInt(int64(correct)).Div(n).Round(2)
	}
	return stats, nil
}

// Leaderboard lists the ranked slips of cycle.
func (p *Paper) Leaderboard(ctx context.Context, cycle odds.CycleID) ([]backend.LeaderboardEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []backend.LeaderboardEntry
	for _, s := range p.slips {
		if s.Cycle != cycle || s.rank == nil {
			continue
		}
		out = append(out, backend.LeaderboardEntry{
			Rank:         *s.rank,
			Player:       s.Player,
			SlipID:       s.SlipID,
			FinalScore:   s.FinalScore,
			CorrectCount: s.CorrectCount,
			PrizeClaimed: s.claimed,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (p *Paper) findLocked(cycle odds.CycleID, slipID uint64) *paperSlip {
	for _, s := range p.slips {
		if s.Cycle == cycle && s.SlipID == slipID {
			return s
		}
	}
	return nil
}

func (p *Paper) takeFailure() error {
	err := p.failNext
	p.failNext = nil
	return err
}

func (p *Paper) takeRevert() string {
	r := p.revertNext
	p.revertNext = ""
	return r
}

func (p *Paper) newTx(from common.Address) *paperTx {
	p.nonce++
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], p.nonce)
	return &paperTx{hash: crypto.Keccak256Hash(from.Bytes(), n[:])}
}

// paperTx is mined as soon as it is waited on.
type paperTx struct {
	hash   common.Hash
	revert string
}

func (t *paperTx) reverted(reason string) *paperTx {
	t.revert = reason
	return t
}

func (t *paperTx) Hash() string {
	return t.hash.Hex()
}

func (t *paperTx) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.revert != "" {
		return fmt.Errorf("%w: %s", txdriver.ErrReverted, t.revert)
	}
	return nil
}

func copyMatch(m odds.Match) odds.Match {
	out := m
	out.Odds = make(map[odds.Outcome]decimal.Decimal, len(m.Odds))
	for k, v := range m.Odds {
		out.Odds[k] = v
	}
	return out
}

func cloneSlip(s slip.Slip) slip.Slip {
	out := s
	out.Predictions = make([]slip.Prediction, len(s.Predictions))
	for i, pr := range s.Predictions {
		if pr.Correct != nil {
			c := *pr.Correct
			pr.Correct = &c
		}
		out.Predictions[i] = pr
	}
	// rank and claim status live in the evaluation service
	out.LeaderboardRank = nil
	out.PrizeClaimed = nil
	return out
}

var (
	_ Contract        = (*Paper)(nil)
	_ backend.Service = (*Paper)(nil)
)
