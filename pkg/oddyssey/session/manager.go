// Package session is the slip lifecycle manager: it owns the draft, the
// transaction drivers, the countdown and the tagged reads, and runs the
// polling tasks that keep them current.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/phenomenon0/oddyssey-agent/pkg/config"
	"github.com/phenomenon0/oddyssey-agent/pkg/eth"
	"github.com/phenomenon0/oddyssey-agent/pkg/events"
	"github.com/phenomenon0/oddyssey-agent/pkg/metrics"
	"github.com/phenomenon0/oddyssey-agent/pkg/notify"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/backend"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/chain"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/countdown"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/picks"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/resource"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/slip"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/txdriver"
	"github.com/phenomenon0/oddyssey-agent/pkg/streaming"
)

// Driver labels.
const (
	KindSlip  = "slip"
	KindClaim = "claim"
)

var (
	// ErrNoBackend is returned by reads that only the evaluation service serves.
	ErrNoBackend = errors.New("evaluation service not configured")
	// ErrNotClaimable is returned when a slip has no unclaimed prize.
	ErrNotClaimable = errors.New("slip has no unclaimed prize")
	// ErrAlreadyRunning is returned by a second Start.
	ErrAlreadyRunning = errors.New("session already running")
)

// Broadcaster pushes view updates to connected clients.
type Broadcaster interface {
	Broadcast(t streaming.EventType, data interface{})
}

// SlipStore persists reconciled slips.
type SlipStore interface {
	SaveSlips(ctx context.Context, slips []slip.Slip) error
	LoadSlips(ctx context.Context, player string) ([]slip.Slip, error)
	SetState(ctx context.Context, key, value string) error
}

// Config holds the manager's fixed settings.
type Config struct {
	Network    eth.Network
	Polling    config.PollingConfig
	PrizeRanks int
	Location   *time.Location
}

// Manager coordinates one player's draft and slips.
type Manager struct {
	src      odds.Source
	contract chain.Contract
	backend  backend.Service
	cfg      Config
	now      func() time.Time

	log       *zap.Logger
	metrics   *metrics.SlipMetrics
	stream    Broadcaster
	publisher events.Publisher
	notifier  notify.Sender
	store     SlipStore

	mu          sync.Mutex
	wallet      *eth.Wallet
	walletChain uint64
	cycle       odds.CycleID
	lastSlips   []slip.Slip
	primed      bool
	// submitted holds cycles this wallet placed slips in during the session.
	submitted map[odds.CycleID]bool

	draft   *picks.Set
	slipTx  *txdriver.Driver
	claimTx *txdriver.Driver
	clock   *countdown.Clock

	matches *resource.Resource[odds.Snapshot]
	slips   *resource.Resource[[]slip.Slip]
	stats   *resource.Resource[backend.Stats]

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackend sets the evaluation service. Without one, slips are chain-only.
func WithBackend(svc backend.Service) Option {
	return func(m *Manager) { m.backend = svc }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics sets the collector, usually the process-wide one.
func WithMetrics(sm *metrics.SlipMetrics) Option {
	return func(m *Manager) { m.metrics = sm }
}

// WithStream sets where view updates are pushed.
func WithStream(b Broadcaster) Option {
	return func(m *Manager) { m.stream = b }
}

// WithPublisher sets the lifecycle event sink.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithNotifier sets the sender for evaluation and prize notices.
func WithNotifier(s notify.Sender) Option {
	return func(m *Manager) { m.notifier = s }
}

// WithStore persists reconciled slips and checkpoints.
func WithStore(s SlipStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithClock overrides time.Now for the draft, validator and countdown.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(streaming.EventType, interface{}) {}

// New creates a manager reading matches from src and transacting on contract.
func New(src odds.Source, contract chain.Contract, cfg Config, opts ...Option) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PrizeRanks < 1 {
		cfg.PrizeRanks = 5
	}
	if cfg.Network.ChainID == 0 {
		cfg.Network = eth.DefaultNetworkConfig()
	}

	m := &Manager{
		src:       src,
		contract:  contract,
		cfg:       cfg,
		now:       time.Now,
		log:       zap.NewNop(),
		stream:    nopBroadcaster{},
		publisher: events.Nop{},
		slipTx:    txdriver.NewDriver(KindSlip),
		claimTx:   txdriver.NewDriver(KindClaim),
		matches:   resource.New[odds.Snapshot](),
		slips:     resource.New[[]slip.Slip](),
		stats:     resource.New[backend.Stats](),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewSlipMetrics()
	}

	m.draft = picks.NewSet(picks.WithClock(m.now), picks.WithLocation(cfg.Location))
	m.clock = countdown.New(nil, countdown.WithClock(m.now))
	m.slipTx.OnTransition(m.onTransition(m.slipTx))
	m.claimTx.OnTransition(m.onTransition(m.claimTx))
	return m
}

// Start loads matches, then runs the polling tasks until Stop or ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	if err := m.RefreshMatches(ctx); err != nil {
		m.log.Warn("initial match load failed", zap.Error(err))
	}

	m.loop(ctx, m.cfg.Polling.Matches, "matches", m.RefreshMatches)
	m.loop(ctx, m.cfg.Polling.Evaluations, "slips", m.RefreshSlips)
	m.loop(ctx, m.cfg.Polling.Stats, "stats", m.RefreshStats)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.clock.Run(ctx, m.onTick)
	}()

	m.log.Info("session started",
		zap.String("network", m.cfg.Network.Name),
		zap.Uint64("chain_id", m.cfg.Network.ChainID),
	)
	return nil
}

// Stop cancels the polling tasks and waits for them to exit.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.running = false
	m.log.Info("session stopped")
}

// Running reports whether the polling tasks are active.
func (m *Manager) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

func (m *Manager) loop(ctx context.Context, every time.Duration, name string, fn func(context.Context) error) {
	if every <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					m.log.Debug("poll failed", zap.String("task", name), zap.Error(err))
				}
			}
		}
	}()
}

// Status summarises the manager for /v1/status.
type Status struct {
	Running       bool                        `json:"running"`
	Network       string                      `json:"network"`
	ChainID       uint64                      `json:"chain_id"`
	Cycle         odds.CycleID                `json:"cycle"`
	Wallet        string                      `json:"wallet,omitempty"`
	WalletChainID uint64                      `json:"wallet_chain_id,omitempty"`
	Picks         picks.Progress              `json:"picks"`
	Slip          txdriver.PendingTransaction `json:"slip_transaction"`
	Claim         txdriver.PendingTransaction `json:"claim_transaction"`
	Matches       resource.Status             `json:"matches"`
	Slips         resource.Status             `json:"slips"`
	Stats         resource.Status             `json:"stats"`
	Discarded     uint64                      `json:"discarded_reads"`
}

// Status returns a snapshot of the session state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{
		Network:       m.cfg.Network.Name,
		ChainID:       m.cfg.Network.ChainID,
		Cycle:         m.cycle,
		WalletChainID: m.walletChain,
	}
	if m.wallet != nil {
		st.Wallet = m.wallet.AddressHex()
	}
	m.mu.Unlock()

	st.Running = m.Running()
	st.Picks = m.draft.Progress()
	st.Slip = m.slipTx.Snapshot()
	st.Claim = m.claimTx.Snapshot()
	st.Matches = m.matches.View().Status
	st.Slips = m.slips.View().Status
	st.Stats = m.stats.View().Status
	st.Discarded = m.matches.Discarded() + m.slips.Discarded() + m.stats.Discarded()
	return st
}

// Cycle returns the loaded cycle id, 0 before the first load.
func (m *Manager) Cycle() odds.CycleID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycle
}

// PrizeRanks is how many leaderboard places pay out.
func (m *Manager) PrizeRanks() int {
	return m.cfg.PrizeRanks
}

func (m *Manager) publish(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.publisher.Publish(ctx, e)
	m.metrics.RecordEvent(string(e.Type), err)
	if err != nil {
		m.log.Warn("publish event failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

func (m *Manager) sendNotice(n notify.Notice) {
	if m.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := m.notifier.Send(ctx, n)
	m.metrics.RecordNotification(string(n.Kind), err)
	if err != nil {
		m.log.Warn("notification failed", zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}
