package txdriver

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// Cause classifies why a submission failed.
type Cause int

const (
	CauseNone Cause = iota
	CauseUserCancelled
	CauseInsufficientFunds
	CauseGasEstimationFailed
	CauseNetworkError
	CauseContractRejected
)

func (c Cause) String() string {
	switch c {
	case CauseNone:
		return ""
	case CauseUserCancelled:
		return "user_cancelled"
	case CauseInsufficientFunds:
		return "insufficient_funds"
	case CauseGasEstimationFailed:
		return "gas_estimation_failed"
	case CauseNetworkError:
		return "network_error"
	case CauseContractRejected:
		return "contract_rejected"
	default:
		return "unknown"
	}
}

// MarshalText renders the cause code.
func (c Cause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Message is the actionable text shown for c.
func (c Cause) Message() string {
	switch c {
	case CauseUserCancelled:
		return "Transaction was cancelled in the wallet"
	case CauseInsufficientFunds:
		return "Not enough funds to cover the entry fee and gas"
	case CauseGasEstimationFailed:
		return "Could not estimate gas; the transaction would likely fail"
	case CauseNetworkError:
		return "Network problem while sending the transaction, please retry"
	case CauseContractRejected:
		return "The contract rejected the transaction"
	default:
		return ""
	}
}

var (
	// ErrUserRejected is returned by signers when the user declines.
	ErrUserRejected = errors.New("user rejected the request")
	// ErrReverted is returned when a mined transaction has a failed status.
	ErrReverted = errors.New("transaction reverted")
)

// EIP-1193 code for a request the user rejected.
const codeUserRejected = 4001

// Classify maps a submission error onto a Cause.
func Classify(err error) Cause {
	if err == nil {
		return CauseNone
	}
	if errors.Is(err, ErrUserRejected) {
		return CauseUserCancelled
	}
	if errors.Is(err, ErrReverted) {
		return CauseContractRejected
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeUserRejected {
		return CauseUserCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "user rejected", "user denied", "rejected by user", "user cancelled", "user canceled"):
		return CauseUserCancelled
	case containsAny(msg, "insufficient funds", "insufficient balance"):
		return CauseInsufficientFunds
	case containsAny(msg, "estimate gas", "gas required exceeds", "intrinsic gas too low", "out of gas"):
		return CauseGasEstimationFailed
	case containsAny(msg, "execution reverted", "revert"):
		return CauseContractRejected
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CauseNetworkError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CauseNetworkError
	}
	if containsAny(msg, "connection refused", "no such host", "timeout", "eof", "network", "dial tcp") {
		return CauseNetworkError
	}
	return CauseContractRejected
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
