// Package chain reads and writes the Oddyssey contract.
package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/phenomenon0/oddyssey-agent/pkg/eth"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/payload"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/slip"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/txdriver"
)

// SlipSize is the number of predictions a slip must carry.
const SlipSize = 10

var (
	ErrNoSigner       = errors.New("no wallet connected")
	ErrSlipSize       = errors.New("slip must contain exactly 10 predictions")
	ErrUnknownSlip    = errors.New("unknown slip")
	ErrNotEvaluated   = errors.New("cycle not evaluated")
	ErrAlreadyClaimed = errors.New("prize already claimed")
)

// Contract is the on-chain surface the session manager uses.
type Contract interface {
	odds.Source
	EntryFee(ctx context.Context) (*big.Int, error)
	UserSlips(ctx context.Context, player string, cycle odds.CycleID) ([]slip.Slip, error)
	SubmitSlip(ctx context.Context, w *eth.Wallet, preds []payload.Prediction, fee *big.Int) (txdriver.Submission, error)
	ClaimPrize(ctx context.Context, w *eth.Wallet, cycle odds.CycleID, slipID uint64) (txdriver.Submission, error)
	NetworkID(ctx context.Context) (uint64, error)
}

const oddysseyABIJSON = `[
  {"inputs":[],"name":"getCurrentCycle","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"entryFee","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"cycleId","type":"uint256"}],"name":"getCycleMatches","outputs":[{"components":[
    {"internalType":"uint64","name":"id","type":"uint64"},
    {"internalType":"uint64","name":"startTime","type":"uint64"},
    {"internalType":"uint32","name":"oddsHome","type":"uint32"},
    {"internalType":"uint32","name":"oddsDraw","type":"uint32"},
    {"internalType":"uint32","name":"oddsAway","type":"uint32"},
    {"internalType":"uint32","name":"oddsOver","type":"uint32"},
    {"internalType":"uint32","name":"oddsUnder","type":"uint32"},
    {"internalType":"string","name":"homeTeam","type":"string"},
    {"internalType":"string","name":"awayTeam","type":"string"},
    {"internalType":"string","name":"leagueName","type":"string"},
    {"internalType":"uint8","name":"moneylineResult","type":"uint8"},
    {"internalType":"uint8","name":"overUnderResult","type":"uint8"}
  ],"internalType":"struct Oddyssey.Match[10]","name":"","type":"tuple[10]"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"user","type":"address"},{"internalType":"uint256","name":"cycleId","type":"uint256"}],"name":"getUserSlipsForCycle","outputs":[{"internalType":"uint256[]","name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"slipId","type":"uint256"}],"name":"getSlip","outputs":[{"components":[
    {"internalType":"address","name":"player","type":"address"},
    {"internalType":"uint256","name":"cycleId","type":"uint256"},
    {"internalType":"uint256","name":"placedAt","type":"uint256"},
    {"components":[
      {"internalType":"uint64","name":"matchId","type":"uint64"},
      {"internalType":"uint8","name":"betType","type":"uint8"},
      {"internalType":"string","name":"selection","type":"string"},
      {"internalType":"uint32","name":"selectedOdd","type":"uint32"}
    ],"internalType":"struct Oddyssey.UserPrediction[10]","name":"predictions","type":"tuple[10]"},
    {"internalType":"uint256","name":"finalScore","type":"uint256"},
    {"internalType":"uint8","name":"correctCount","type":"uint8"},
    {"internalType":"bool","name":"isEvaluated","type":"bool"}
  ],"internalType":"struct Oddyssey.Slip","name":"","type":"tuple"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"components":[
      {"internalType":"uint64","name":"matchId","type":"uint64"},
      {"internalType":"uint8","name":"betType","type":"uint8"},
      {"internalType":"string","name":"selection","type":"string"},
      {"internalType":"uint32","name":"selectedOdd","type":"uint32"}
    ],"internalType":"struct Oddyssey.UserPrediction[10]","name":"predictions","type":"tuple[10]"}],"name":"placeSlip","outputs":[],"stateMutability":"payable","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"cycleId","type":"uint256"},{"internalType":"uint256","name":"slipId","type":"uint256"}],"name":"claimPrize","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var oddysseyABI = mustParseABI(oddysseyABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("chain: parse abi: " + err.Error())
	}
	return parsed
}

// matchTuple mirrors Oddyssey.Match. Field order and names follow the ABI.
type matchTuple struct {
	Id              uint64
	StartTime       uint64
	OddsHome        uint32
	OddsDraw        uint32
	OddsAway        uint32
	OddsOver        uint32
	OddsUnder       uint32
	HomeTeam        string
	AwayTeam        string
	LeagueName      string
	MoneylineResult uint8
	OverUnderResult uint8
}

// predictionTuple mirrors Oddyssey.UserPrediction.
type predictionTuple struct {
	MatchId     uint64
	BetType     uint8
	Selection   string
	SelectedOdd uint32
}

// slipTuple mirrors Oddyssey.Slip.
type slipTuple struct {
	Player       common.Address
	CycleId      *big.Int
	PlacedAt     *big.Int
	Predictions  [SlipSize]predictionTuple
	FinalScore   *big.Int
	CorrectCount uint8
	IsEvaluated  bool
}

// Contract result codes. Zero means not yet resolved.
const (
	resultNone  uint8 = 0
	resultHome  uint8 = 1
	resultDraw  uint8 = 2
	resultAway  uint8 = 3
	resultOver  uint8 = 1
	resultUnder uint8 = 2
)

// resultCode maps the on-chain result of m for betType to a selection code.
func resultCode(m matchTuple, bt payload.BetType) string {
	if bt == payload.BetOverUnder {
		switch m.OverUnderResult {
		case resultOver:
			return payload.SelectionOver
		case resultUnder:
			return payload.SelectionUnder
		}
		return ""
	}
	switch m.MoneylineResult {
	case resultHome:
		return payload.SelectionHome
	case resultDraw:
		return payload.SelectionDraw
	case resultAway:
		return payload.SelectionAway
	}
	return ""
}
