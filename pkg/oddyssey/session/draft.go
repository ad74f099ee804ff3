package session

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/picks"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/validate"
	"github.com/phenomenon0/oddyssey-agent/pkg/streaming"
)

// Draft is the view of the in-progress slip.
type Draft struct {
	Cycle            odds.CycleID    `json:"cycle"`
	Picks            []picks.Pick    `json:"picks"`
	TotalOdds        decimal.Decimal `json:"total_odds"`
	TotalOddsDisplay string          `json:"total_odds_display"`
	Progress         picks.Progress  `json:"progress"`
}

// Draft returns the current draft.
func (m *Manager) Draft() Draft {
	ps := m.draft.Picks()
	if ps == nil {
		ps = []picks.Pick{}
	}
	return Draft{
		Cycle:            m.Cycle(),
		Picks:            ps,
		TotalOdds:        picks.TotalOdds(ps),
		TotalOddsDisplay: picks.FormatOdds(picks.TotalOdds(ps)),
		Progress:         m.draft.Progress(),
	}
}

// Select adds or replaces the pick for matchID against the loaded matches.
func (m *Manager) Select(matchID odds.MatchID, outcome odds.Outcome) (picks.Pick, error) {
	snap, ok := m.matches.Get()
	if !ok {
		m.metrics.RecordSelectionError(selectionReason(picks.ErrMatchNotFound))
		return picks.Pick{}, picks.ErrMatchNotFound
	}
	p, err := m.draft.Select(snap, matchID, outcome)
	if err != nil {
		m.metrics.RecordSelectionError(selectionReason(err))
		return picks.Pick{}, err
	}
	m.draftChanged()
	return p, nil
}

// Deselect removes the pick for matchID and reports whether one existed.
func (m *Manager) Deselect(matchID odds.MatchID) bool {
	removed := m.draft.Deselect(matchID)
	if removed {
		m.draftChanged()
	}
	return removed
}

// ClearDraft empties the draft.
func (m *Manager) ClearDraft() {
	m.draft.Clear()
	m.draftChanged()
}

func (m *Manager) draftChanged() {
	d := m.Draft()
	m.metrics.UpdateDraft(d.Progress.Count, d.TotalOdds)
	m.stream.Broadcast(streaming.EventTypePicks, d)
}

// Validate runs the submission preconditions against the current state.
func (m *Manager) Validate() error {
	return m.check(m.draft.Picks())
}

// check validates ps, a snapshot of the draft, against the wallet, network
// and transaction state.
func (m *Manager) check(ps []picks.Pick) error {
	m.mu.Lock()
	in := validate.Input{
		Wallet: validate.Wallet{
			Connected: m.wallet != nil,
			ChainID:   m.walletChain,
		},
		ExpectedChainID: m.cfg.Network.ChainID,
	}
	m.mu.Unlock()

	in.Picks = ps
	in.Phase = m.slipTx.Phase()
	in.Now = m.now()
	return validate.Check(in)
}

func selectionReason(err error) string {
	switch {
	case errors.Is(err, picks.ErrMatchNotFound):
		return "match_not_found"
	case errors.Is(err, picks.ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, picks.ErrOddsUnavailable):
		return "odds_unavailable"
	case errors.Is(err, picks.ErrSlipFull):
		return "slip_full"
	}
	return "other"
}
