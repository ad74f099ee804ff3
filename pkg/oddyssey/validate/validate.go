// Package validate decides whether a draft slip may be submitted.
package validate

import (
	"fmt"
	"time"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/picks"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/txdriver"
)

// Reason identifies which precondition failed.
type Reason string

const (
	ReasonWalletNotReady       Reason = "wallet_not_ready"
	ReasonWrongNetwork         Reason = "wrong_network"
	ReasonIncompleteSlip       Reason = "incomplete_slip"
	ReasonMatchesStarted       Reason = "matches_started"
	ReasonSubmissionInProgress Reason = "submission_in_progress"
)

// Failure is returned by Check. It carries enough detail to render the reason.
type Failure struct {
	Reason    Reason         `json:"reason"`
	Remaining int            `json:"remaining,omitempty"`
	Started   []odds.MatchID `json:"started,omitempty"`
	ChainID   uint64         `json:"chain_id,omitempty"`
	Expected  uint64         `json:"expected_chain_id,omitempty"`
}

func (f *Failure) Error() string {
	switch f.Reason {
	case ReasonWalletNotReady:
		return "connect a wallet to submit"
	case ReasonWrongNetwork:
		return fmt.Sprintf("switch to network %d (wallet is on %d)", f.Expected, f.ChainID)
	case ReasonIncompleteSlip:
		return fmt.Sprintf("select %d more", f.Remaining)
	case ReasonMatchesStarted:
		if len(f.Started) == 1 {
			return "1 selected match has already started"
		}
		return fmt.Sprintf("%d selected matches have already started", len(f.Started))
	case ReasonSubmissionInProgress:
		return "a submission is already in progress"
	}
	return string(f.Reason)
}

// Wallet is the connection state of the signing wallet.
type Wallet struct {
	Connected bool
	ChainID   uint64
}

// Input is everything Check looks at.
type Input struct {
	Wallet          Wallet
	ExpectedChainID uint64
	Picks           []picks.Pick
	Phase           txdriver.Phase
	Now             time.Time
}

// Check runs the submission preconditions in order and returns the first
// failure as a *Failure, or nil.
func Check(in Input) error {
	if !in.Wallet.Connected {
		return &Failure{Reason: ReasonWalletNotReady}
	}
	if in.Wallet.ChainID != in.ExpectedChainID {
		return &Failure{Reason: ReasonWrongNetwork, ChainID: in.Wallet.ChainID, Expected: in.ExpectedChainID}
	}

	if n := len(in.Picks); n != picks.MaxPicks {
		return &Failure{Reason: ReasonIncompleteSlip, Remaining: picks.MaxPicks - n}
	}

	var started []odds.MatchID
	for _, p := range in.Picks {
		if !p.Kickoff.After(in.Now) {
			started = append(started, p.MatchID)
		}
	}
	if len(started) > 0 {
		return &Failure{Reason: ReasonMatchesStarted, Started: started}
	}

	if in.Phase.InFlight() {
		return &Failure{Reason: ReasonSubmissionInProgress}
	}
	return nil
}
