package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/phenomenon0/oddyssey-agent/pkg/eth"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/payload"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/slip"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/txdriver"
)

const (
	defaultCallTimeout    = 8 * time.Second
	defaultReceiptTimeout = 2 * time.Minute
)

// Client talks to a deployed Oddyssey contract over JSON-RPC.
type Client struct {
	rpc      *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	log      *zap.Logger

	callTimeout    time.Duration
	receiptTimeout time.Duration

	chainMu sync.Mutex
	chainID *big.Int
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithCallTimeout bounds each read call.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithReceiptTimeout bounds how long Wait blocks for a receipt.
func WithReceiptTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.receiptTimeout = d
	}
}

// Dial connects to rpcURL and binds the contract at address.
func Dial(ctx context.Context, rpcURL string, address common.Address, opts ...ClientOption) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	c := &Client{
		rpc:            rpc,
		contract:       bind.NewBoundContract(address, oddysseyABI, rpc, rpc, rpc),
		address:        address,
		log:            zap.NewNop(),
		callTimeout:    defaultCallTimeout,
		receiptTimeout: defaultReceiptTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// Address returns the contract address.
func (c *Client) Address() common.Address {
	return c.address
}

// call runs a view method and returns its unpacked outputs.
func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: callCtx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func (c *Client) callBig(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return v, nil
}

// NetworkID returns the connected chain id. It is cached after the first read.
func (c *Client) NetworkID(ctx context.Context) (uint64, error) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()

	if c.chainID == nil {
		id, err := c.rpc.ChainID(ctx)
		if err != nil {
			return 0, fmt.Errorf("chain id: %w", err)
		}
		c.chainID = id
	}
	return c.chainID.Uint64(), nil
}

// CurrentCycleID returns the active cycle.
func (c *Client) CurrentCycleID(ctx context.Context) (odds.CycleID, error) {
	v, err := c.callBig(ctx, "getCurrentCycle")
	if err != nil {
		return 0, err
	}
	return odds.CycleID(bigUint(v)), nil
}

// CycleMatches returns the matches of cycle.
func (c *Client) CycleMatches(ctx context.Context, cycle odds.CycleID) ([]odds.Match, error) {
	ts, err := c.matchTuples(ctx, cycle)
	if err != nil {
		return nil, err
	}
	return toMatches(ts[:]), nil
}

func (c *Client) matchTuples(ctx context.Context, cycle odds.CycleID) ([SlipSize]matchTuple, error) {
	out, err := c.call(ctx, "getCycleMatches", new(big.Int).SetUint64(uint64(cycle)))
	if err != nil {
		return [SlipSize]matchTuple{}, err
	}
	return *abi.ConvertType(out[0], new([SlipSize]matchTuple)).(*[SlipSize]matchTuple), nil
}

// EntryFee returns the native amount placeSlip must be sent with.
func (c *Client) EntryFee(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, "entryFee")
}

// UserSlips returns player's slips for cycle with match names and on-chain
// results attached.
func (c *Client) UserSlips(ctx context.Context, player string, cycle odds.CycleID) ([]slip.Slip, error) {
	addr, err := eth.ParseAddress(player)
	if err != nil {
		return nil, err
	}
	cycleArg := new(big.Int).SetUint64(uint64(cycle))

	out, err := c.call(ctx, "getUserSlipsForCycle", addr, cycleArg)
	if err != nil {
		return nil, err
	}
	ids, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getUserSlipsForCycle: unexpected type %T", out[0])
	}
	if len(ids) == 0 {
		return nil, nil
	}

	ts, err := c.matchTuples(ctx, cycle)
	if err != nil {
		return nil, err
	}
	matches := make(map[uint64]matchTuple, len(ts))
	for _, m := range ts {
		matches[m.Id] = m
	}

	slips := make([]slip.Slip, 0, len(ids))
	for _, id := range ids {
		res, err := c.call(ctx, "getSlip", id)
		if err != nil {
			return nil, err
		}
		st := *abi.ConvertType(res[0], new(slipTuple)).(*slipTuple)
		slips = append(slips, toSlip(bigUint(id), st, matches))
	}
	return slips, nil
}

// SubmitSlip sends placeSlip with fee attached.
func (c *Client) SubmitSlip(ctx context.Context, w *eth.Wallet, preds []payload.Prediction, fee *big.Int) (txdriver.Submission, error) {
	arg, err := toPredictionTuples(preds)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, w, fee, "placeSlip", arg)
}

// ClaimPrize sends claimPrize for one slip.
func (c *Client) ClaimPrize(ctx context.Context, w *eth.Wallet, cycle odds.CycleID, slipID uint64) (txdriver.Submission, error) {
	return c.transact(ctx, w, nil, "claimPrize",
		new(big.Int).SetUint64(uint64(cycle)),
		new(big.Int).SetUint64(slipID),
	)
}

func (c *Client) transact(ctx context.Context, w *eth.Wallet, value *big.Int, method string, args ...interface{}) (txdriver.Submission, error) {
	if w == nil {
		return nil, ErrNoSigner
	}
	if _, err := c.NetworkID(ctx); err != nil {
		return nil, err
	}
	c.chainMu.Lock()
	chainID := new(big.Int).Set(c.chainID)
	c.chainMu.Unlock()

	opts, err := w.Transactor(ctx, chainID, value)
	if err != nil {
		return nil, err
	}
	tx, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	c.log.Info("transaction sent",
		zap.String("method", method),
		zap.String("tx", tx.Hash().Hex()),
		zap.String("from", w.AddressHex()),
	)
	return &pendingTx{tx: tx, backend: c.rpc, timeout: c.receiptTimeout}, nil
}

// pendingTx waits for a transaction to be mined.
type pendingTx struct {
	tx      *types.Transaction
	backend bind.DeployBackend
	timeout time.Duration
}

func (p *pendingTx) Hash() string {
	return p.tx.Hash().Hex()
}

func (p *pendingTx) Wait(ctx context.Context) error {
	waitCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	receipt, err := bind.WaitMined(waitCtx, p.backend, p.tx)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", p.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: tx %s status %d", txdriver.ErrReverted, p.Hash(), receipt.Status)
	}
	return nil
}

var _ Contract = (*Client)(nil)
