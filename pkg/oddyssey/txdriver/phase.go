// Package txdriver tracks a submitted transaction from wallet dispatch to
// chain finality.
package txdriver

// Phase is the lifecycle state of a submission.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePending
	PhaseConfirming
	PhaseSuccess
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "none"
	case PhasePending:
		return "pending"
	case PhaseConfirming:
		return "confirming"
	case PhaseSuccess:
		return "success"
	case PhaseFailed:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Terminal reports whether p ends a submission.
func (p Phase) Terminal() bool {
	return p == PhaseSuccess || p == PhaseFailed
}

// InFlight reports whether a submission is underway.
func (p Phase) InFlight() bool {
	return p == PhasePending || p == PhaseConfirming
}

// Message is the feedback shown while in p.
func (p Phase) Message() string {
	switch p {
	case PhasePending:
		return "Check your wallet to confirm the transaction"
	case PhaseConfirming:
		return "Transaction sent, waiting for confirmation"
	case PhaseSuccess:
		return "Transaction confirmed"
	case PhaseFailed:
		return "Transaction failed"
	default:
		return ""
	}
}

// next lists the legal transitions.
var next = map[Phase][]Phase{
	PhaseIdle:       {PhasePending},
	PhasePending:    {PhaseConfirming, PhaseFailed},
	PhaseConfirming: {PhaseSuccess, PhaseFailed},
	PhaseSuccess:    {PhaseIdle},
	PhaseFailed:     {PhaseIdle},
}

func canMove(from, to Phase) bool {
	for _, p := range next[from] {
		if p == to {
			return true
		}
	}
	return false
}
