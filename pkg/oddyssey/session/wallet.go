package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/phenomenon0/oddyssey-agent/pkg/eth"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/resource"
	"github.com/phenomenon0/oddyssey-agent/pkg/store"
)

// ConnectWallet makes w the signing wallet. The chain id is read from the
// connected node; a mismatch is reported by Validate rather than here.
// Switching to a different address clears the draft.
func (m *Manager) ConnectWallet(ctx context.Context, w *eth.Wallet) error {
	if w == nil {
		return fmt.Errorf("connect wallet: nil wallet")
	}
	chainID, err := m.contract.NetworkID(ctx)
	if err != nil {
		return fmt.Errorf("read network id: %w", err)
	}

	m.mu.Lock()
	switched := m.wallet != nil && !strings.EqualFold(m.wallet.AddressHex(), w.AddressHex())
	m.wallet = w
	m.walletChain = chainID
	m.lastSlips = nil
	m.primed = false
	m.submitted = nil
	tag := m.slipTagLocked()
	m.mu.Unlock()

	m.slips.SetContext(tag)
	if switched {
		m.ClearDraft()
	}
	if err := m.cfg.Network.Check(chainID); err != nil {
		m.log.Warn("wallet on unexpected network", zap.Error(err))
	}
	m.log.Info("wallet connected", zap.String("address", w.AddressHex()), zap.Uint64("chain_id", chainID))

	m.loadPersisted(ctx, w.AddressHex())
	m.saveState(ctx, store.KeyWallet, w.AddressHex())

	if err := m.RefreshSlips(ctx); err != nil {
		m.log.Warn("slip read after connect failed", zap.Error(err))
	}
	return nil
}

// DisconnectWallet forgets the wallet and empties the draft. Reads issued for
// the old address are discarded when they complete.
func (m *Manager) DisconnectWallet() {
	m.mu.Lock()
	had := m.wallet != nil
	m.wallet = nil
	m.walletChain = 0
	m.lastSlips = nil
	m.primed = false
	m.submitted = nil
	tag := m.slipTagLocked()
	m.mu.Unlock()

	m.slips.SetContext(tag)
	m.ClearDraft()
	if had {
		m.log.Info("wallet disconnected")
	}
}

// Wallet returns the connected wallet, or nil.
func (m *Manager) Wallet() *eth.Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallet
}

// loadPersisted seeds the slip history from the store so earlier cycles show
// before the chain answers. Their cycles are re-read until settled.
func (m *Manager) loadPersisted(ctx context.Context, addr string) {
	if m.store == nil {
		return
	}
	tag := resource.Tag{Address: addr}
	t := m.slips.BeginFor(tag)
	saved, err := m.store.LoadSlips(ctx, addr)
	if err != nil {
		m.log.Warn("load stored slips failed", zap.Error(err))
		return
	}
	if len(saved) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slipTagLocked() != tag || m.lastSlips != nil {
		return
	}
	if m.slips.Resolve(t, saved, nil) {
		m.lastSlips = saved
	}
}
