package session

import (
	"context"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/phenomenon0/oddyssey-agent/pkg/events"
	"github.com/phenomenon0/oddyssey-agent/pkg/notify"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/backend"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/countdown"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/resource"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/slip"
	"github.com/phenomenon0/oddyssey-agent/pkg/store"
	"github.com/phenomenon0/oddyssey-agent/pkg/streaming"
)

// Matches returns the loaded match snapshot and its load state.
func (m *Manager) Matches() resource.View[odds.Snapshot] {
	return m.matches.View()
}

// Slips returns the reconciled slip history of the connected wallet.
func (m *Manager) Slips() resource.View[[]slip.Slip] {
	return m.slips.View()
}

// Stats returns the last competition stats read.
func (m *Manager) Stats() resource.View[backend.Stats] {
	return m.stats.View()
}

// Summary aggregates the connected wallet's slips.
func (m *Manager) Summary() slip.Summary {
	all, _ := m.slips.Get()
	return slip.Summarize(all, m.cfg.PrizeRanks)
}

// Countdown is the countdown view.
type Countdown struct {
	countdown.State
	Display string `json:"display"`
}

// Countdown returns the time left until the first kickoff of the cycle.
func (m *Manager) Countdown() Countdown {
	s := m.clock.State()
	return Countdown{State: s, Display: s.Display()}
}

func (m *Manager) onTick(s countdown.State) {
	m.metrics.UpdateCycle(uint64(m.Cycle()), s.Remaining)
	m.stream.Broadcast(streaming.EventTypeCountdown, Countdown{State: s, Display: s.Display()})
	if s.Flipped {
		m.log.Info("first match kicked off, betting closed", zap.Time("deadline", s.Deadline))
	}
}

// RefreshMatches reads the current cycle and its matches. A new cycle clears
// the draft; the slip history carries over.
func (m *Manager) RefreshMatches(ctx context.Context) error {
	t := m.matches.Begin()
	start := time.Now()
	snap, err := odds.ActiveMatches(ctx, m.src)
	m.metrics.RecordFetch("matches", err, time.Since(start))

	if !m.matches.Resolve(t, snap, err) {
		m.metrics.RecordStale("matches")
		return nil
	}
	if err != nil {
		m.stream.Broadcast(streaming.EventTypeError, map[string]string{
			"context": "matches",
			"error":   err.Error(),
		})
		return err
	}

	m.mu.Lock()
	prev := m.cycle
	changed := snap.Cycle != prev
	if changed {
		m.cycle = snap.Cycle
	}
	m.mu.Unlock()

	m.clock.SetMatches(snap.Matches)
	m.stream.Broadcast(streaming.EventTypeMatches, snap)

	if changed {
		m.log.Info("cycle loaded",
			zap.Uint64("cycle", uint64(snap.Cycle)),
			zap.Uint64("previous", uint64(prev)),
			zap.Int("matches", len(snap.Matches)),
		)
		if m.draft.Len() > 0 {
			m.draft.Clear()
		}
		m.draftChanged()
		m.saveState(ctx, store.KeyLastCycle, strconv.FormatUint(uint64(snap.Cycle), 10))
	}
	return nil
}

// RefreshSlips re-reads every cycle of the wallet that is not settled yet:
// the current cycle, cycles submitted to this session and cycles whose slips
// still wait for evaluation, a rank or a claim. Each cycle's chain slips are
// overlaid with the evaluation service's view and merged into the history, so
// slips of past cycles stay visible. A failed evaluation read degrades that
// cycle to chain-only slips; a failed read of an older cycle keeps its
// previous slips.
func (m *Manager) RefreshSlips(ctx context.Context) error {
	m.mu.Lock()
	w := m.wallet
	current := m.cycle
	base := m.lastSlips
	cycles := m.openCyclesLocked()
	tag := m.slipTagLocked()
	m.mu.Unlock()
	if w == nil || len(cycles) == 0 {
		return nil
	}
	addr := w.AddressHex()
	t := m.slips.BeginFor(tag)

	var merged []slip.Slip
	for _, cycle := range cycles {
		start := time.Now()
		onChain, err := m.contract.UserSlips(ctx, addr, cycle)
		m.metrics.RecordFetch("slips", err, time.Since(start))
		if err != nil {
			if cycle == current {
				if !m.slips.Resolve(t, nil, err) {
					m.metrics.RecordStale("slips")
				}
				return err
			}
			m.log.Warn("slip read failed, keeping previous slips",
				zap.Uint64("cycle", uint64(cycle)), zap.Error(err))
			continue
		}
		merged = append(merged, slip.Reconcile(onChain, m.evaluations(ctx, cycle, addr))...)
	}

	all := slip.History(base, merged)
	if !m.slips.Resolve(t, all, nil) {
		m.metrics.RecordStale("slips")
		return nil
	}

	m.mu.Lock()
	prev, primed := m.lastSlips, m.primed
	m.lastSlips = all
	m.primed = true
	m.mu.Unlock()

	sum := slip.Summarize(all, m.cfg.PrizeRanks)
	m.metrics.UpdateSlips(sum.Evaluated, sum.Pending, sum.Claimable)
	m.stream.Broadcast(streaming.EventTypeSlips, all)

	if m.store != nil && len(merged) > 0 {
		if err := m.store.SaveSlips(ctx, merged); err != nil {
			m.log.Warn("persist slips failed", zap.Error(err))
		}
	}
	if primed {
		m.announce(slip.Diff(prev, all, m.cfg.PrizeRanks))
	}
	return nil
}

func (m *Manager) evaluations(ctx context.Context, cycle odds.CycleID, addr string) []slip.Evaluation {
	if m.backend == nil {
		return nil
	}
	start := time.Now()
	evals, err := m.backend.SlipEvaluations(ctx, cycle, addr)
	m.metrics.RecordFetch("evaluations", err, time.Since(start))
	if err != nil {
		m.log.Warn("evaluation read failed, showing chain data only",
			zap.Uint64("cycle", uint64(cycle)), zap.Error(err))
		return nil
	}
	return evals
}

// openCyclesLocked lists the cycles RefreshSlips must read, current first.
func (m *Manager) openCyclesLocked() []odds.CycleID {
	open := make(map[odds.CycleID]bool)
	seen := make(map[odds.CycleID]bool)
	for _, s := range m.lastSlips {
		seen[s.Cycle] = true
		if !m.settled(s) {
			open[s.Cycle] = true
		}
	}
	for c := range m.submitted {
		if !seen[c] {
			open[c] = true
		}
	}
	delete(open, m.cycle)

	rest := make([]odds.CycleID, 0, len(open))
	for c := range open {
		rest = append(rest, c)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] > rest[j] })
	if m.cycle == 0 {
		return rest
	}
	return append([]odds.CycleID{m.cycle}, rest...)
}

// settled reports whether a slip can no longer change: evaluated, and when an
// evaluation service is configured also ranked with its prize state known and
// nothing left to claim.
func (m *Manager) settled(s slip.Slip) bool {
	if !s.Evaluated {
		return false
	}
	if m.backend == nil {
		return true
	}
	if s.LeaderboardRank == nil || s.PrizeClaimed == nil {
		return false
	}
	return !s.Claimable(m.cfg.PrizeRanks)
}

func (m *Manager) announce(changes []slip.Change) {
	for _, c := range changes {
		s := c.Slip
		switch c.Kind {
		case slip.ChangeEvaluated:
			e := events.New(events.SlipEvaluated, s.Player, uint64(s.Cycle))
			id := s.SlipID
			score := s.FinalScore
			e.SlipID, e.Score = &id, &score
			m.publish(e)
			m.sendNotice(notify.Notice{
				Kind:    notify.KindEvaluated,
				Player:  s.Player,
				Cycle:   uint64(s.Cycle),
				SlipID:  s.SlipID,
				Correct: s.CorrectCount,
				Score:   s.FinalScore,
				Rank:    s.LeaderboardRank,
			})
		case slip.ChangeClaimable:
			m.sendNotice(notify.Notice{
				Kind:   notify.KindClaimable,
				Player: s.Player,
				Cycle:  uint64(s.Cycle),
				SlipID: s.SlipID,
				Score:  s.FinalScore,
				Rank:   s.LeaderboardRank,
			})
		}
	}
}

// RefreshStats reads the competition stats.
func (m *Manager) RefreshStats(ctx context.Context) error {
	if m.backend == nil {
		return nil
	}
	t := m.stats.Begin()
	start := time.Now()
	st, err := m.backend.Stats(ctx)
	m.metrics.RecordFetch("stats", err, time.Since(start))
	if !m.stats.Resolve(t, st, err) {
		m.metrics.RecordStale("stats")
		return nil
	}
	if err != nil {
		return err
	}
	m.stream.Broadcast(streaming.EventTypeStats, st)
	return nil
}

// Leaderboard reads the ranked slips of cycle; zero means the current cycle.
func (m *Manager) Leaderboard(ctx context.Context, cycle odds.CycleID) ([]backend.LeaderboardEntry, error) {
	if m.backend == nil {
		return nil, ErrNoBackend
	}
	if cycle == 0 {
		cycle = m.Cycle()
	}
	start := time.Now()
	entries, err := m.backend.Leaderboard(ctx, cycle)
	m.metrics.RecordFetch("leaderboard", err, time.Since(start))
	return entries, err
}

// slipTagLocked is the context of slip reads. History spans cycles, so only
// the wallet address tags it.
func (m *Manager) slipTagLocked() resource.Tag {
	var tag resource.Tag
	if m.wallet != nil {
		tag.Address = m.wallet.AddressHex()
	}
	return tag
}

func (m *Manager) saveState(ctx context.Context, key, value string) {
	if m.store == nil {
		return
	}
	if err := m.store.SetState(ctx, key, value); err != nil {
		m.log.Warn("save checkpoint failed", zap.String("key", key), zap.Error(err))
	}
}
