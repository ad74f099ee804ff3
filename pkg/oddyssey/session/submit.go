package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/phenomenon0/oddyssey-agent/pkg/events"
	"github.com/phenomenon0/oddyssey-agent/pkg/notify"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/chain"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/payload"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/picks"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/txdriver"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/validate"
	"github.com/phenomenon0/oddyssey-agent/pkg/streaming"
)

// Transaction returns the slip submission state.
func (m *Manager) Transaction() txdriver.PendingTransaction {
	return m.slipTx.Snapshot()
}

// ClaimTransaction returns the prize claim state.
func (m *Manager) ClaimTransaction() txdriver.PendingTransaction {
	return m.claimTx.Snapshot()
}

// ResetTransaction returns a finished slip submission to idle.
func (m *Manager) ResetTransaction() error {
	return m.slipTx.Reset()
}

// Submit validates the draft, builds the prediction array and drives the
// placeSlip transaction to a terminal phase. On success the draft is cleared
// and the slips are re-read. The picks are read once, so an edit racing the
// submission cannot change what was validated.
func (m *Manager) Submit(ctx context.Context) (txdriver.PendingTransaction, error) {
	ps := m.draft.Picks()
	if err := m.check(ps); err != nil {
		var f *validate.Failure
		if errors.As(err, &f) {
			m.metrics.RecordValidationFailure(string(f.Reason))
		}
		return m.slipTx.Snapshot(), err
	}

	preds, err := payload.BuildComplete(ps)
	if err != nil {
		return m.slipTx.Snapshot(), err
	}

	m.mu.Lock()
	w := m.wallet
	cycle := m.cycle
	m.mu.Unlock()

	total := picks.TotalOdds(ps)
	m.log.Info("submitting slip",
		zap.Uint64("cycle", uint64(cycle)),
		zap.String("player", w.AddressHex()),
		zap.String("total_odds", total.StringFixed(2)),
	)

	pt, err := m.slipTx.Run(ctx, func(ctx context.Context) (txdriver.Submission, error) {
		fee, err := m.contract.EntryFee(ctx)
		if err != nil {
			return nil, fmt.Errorf("read entry fee: %w", err)
		}
		return m.contract.SubmitSlip(ctx, w, preds, fee)
	})
	if errors.Is(err, txdriver.ErrInProgress) {
		return pt, err
	}

	e := events.New(events.SlipConfirmed, w.AddressHex(), uint64(cycle))
	e.Submission = pt.ID.String()
	e.TxHash = pt.Hash
	e.TotalOdds = &total
	if err != nil {
		e.Type = events.SlipFailed
		e.Cause = pt.Cause.String()
		m.publish(e)
		m.log.Warn("slip submission failed",
			zap.String("cause", pt.Cause.String()),
			zap.String("hash", pt.Hash),
			zap.Error(err),
		)
		return pt, err
	}
	m.publish(e)

	m.mu.Lock()
	if m.wallet == w {
		if m.submitted == nil {
			m.submitted = make(map[odds.CycleID]bool)
		}
		m.submitted[cycle] = true
	}
	m.mu.Unlock()

	m.draft.Clear()
	m.draftChanged()
	if err := m.RefreshSlips(ctx); err != nil {
		m.log.Warn("slip refresh after submit failed", zap.Error(err))
	}
	return pt, nil
}

// Claim claims the prize of a placed slip.
func (m *Manager) Claim(ctx context.Context, cycle odds.CycleID, slipID uint64) (txdriver.PendingTransaction, error) {
	m.mu.Lock()
	w := m.wallet
	walletChain := m.walletChain
	m.mu.Unlock()

	if w == nil {
		return m.claimTx.Snapshot(), &validate.Failure{Reason: validate.ReasonWalletNotReady}
	}
	if walletChain != m.cfg.Network.ChainID {
		return m.claimTx.Snapshot(), &validate.Failure{
			Reason:   validate.ReasonWrongNetwork,
			ChainID:  walletChain,
			Expected: m.cfg.Network.ChainID,
		}
	}
	if err := m.checkClaimable(cycle, slipID); err != nil {
		return m.claimTx.Snapshot(), err
	}

	pt, err := m.claimTx.Run(ctx, func(ctx context.Context) (txdriver.Submission, error) {
		return m.contract.ClaimPrize(ctx, w, cycle, slipID)
	})
	if err != nil {
		m.log.Warn("prize claim failed",
			zap.Uint64("cycle", uint64(cycle)),
			zap.Uint64("slip_id", slipID),
			zap.String("cause", pt.Cause.String()),
			zap.Error(err),
		)
		return pt, err
	}

	e := events.New(events.PrizeClaimed, w.AddressHex(), uint64(cycle))
	e.SlipID = &slipID
	e.TxHash = pt.Hash
	m.publish(e)
	m.sendNotice(notify.Notice{
		Kind:   notify.KindClaimed,
		Player: w.AddressHex(),
		Cycle:  uint64(cycle),
		SlipID: slipID,
		TxHash: pt.Hash,
	})

	if err := m.RefreshSlips(ctx); err != nil {
		m.log.Warn("slip refresh after claim failed", zap.Error(err))
	}
	return pt, nil
}

// checkClaimable consults the loaded slips. A slip the view has not seen is
// left for the contract to judge.
func (m *Manager) checkClaimable(cycle odds.CycleID, slipID uint64) error {
	all, ok := m.slips.Get()
	if !ok {
		return nil
	}
	for _, s := range all {
		if s.Cycle != cycle || s.SlipID != slipID {
			continue
		}
		if s.PrizeClaimed != nil && *s.PrizeClaimed {
			return chain.ErrAlreadyClaimed
		}
		if s.LeaderboardRank != nil && !s.Claimable(m.cfg.PrizeRanks) {
			return ErrNotClaimable
		}
		return nil
	}
	return nil
}

// onTransition feeds driver phase changes to metrics, the stream and, when a
// slip gets its hash, the event log.
func (m *Manager) onTransition(d *txdriver.Driver) func(txdriver.Transition) {
	return func(t txdriver.Transition) {
		snap := d.Snapshot()
		kind := snap.Label
		m.metrics.RecordTransition(kind, t.To.String())

		if t.To.Terminal() {
			cause := ""
			if t.To == txdriver.PhaseFailed {
				cause = t.Cause.String()
			}
			m.metrics.RecordTerminal(kind, t.To.String(), cause, t.At.Sub(snap.StartedAt))
		}

		m.stream.Broadcast(streaming.EventTypePhase, snap)

		if kind == KindSlip && t.To == txdriver.PhaseConfirming {
			m.mu.Lock()
			player, cycle := "", m.cycle
			if m.wallet != nil {
				player = m.wallet.AddressHex()
			}
			m.mu.Unlock()

			e := events.New(events.SlipSubmitted, player, uint64(cycle))
			e.Submission = t.ID.String()
			e.TxHash = t.Hash
			m.publish(e)
		}
	}
}
