// Package notify tells the player when a slip is evaluated or wins a prize.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Kind is the reason for a notice.
type Kind string

const (
	KindEvaluated Kind = "evaluated"
	KindClaimable Kind = "claimable"
	KindClaimed   Kind = "claimed"
	KindFailed    Kind = "failed"
)

// Notice contains everything a sender renders.
type Notice struct {
	Kind    Kind
	Player  string
	Cycle   uint64
	SlipID  uint64
	Correct int
	Score   decimal.Decimal
	Rank    *int
	TxHash  string
	Detail  string
}

// Text renders the notice as a Markdown message.
func (n Notice) Text() string {
	var b strings.Builder
	switch n.Kind {
	case KindEvaluated:
		fmt.Fprintf(&b, "*Slip #%d evaluated* (cycle %d)\n", n.SlipID, n.Cycle)
		fmt.Fprintf(&b, "Correct: %d/10\nScore: %s", n.Correct, n.Score.StringFixed(3))
		if n.Rank != nil {
			fmt.Fprintf(&b, "\nRank: #%d", *n.Rank)
		}
	case KindClaimable:
		fmt.Fprintf(&b, "*Prize available* for slip #%d (cycle %d)", n.SlipID, n.Cycle)
		if n.Rank != nil {
			fmt.Fprintf(&b, "\nRank: #%d", *n.Rank)
		}
	case KindClaimed:
		fmt.Fprintf(&b, "*Prize claimed* for slip #%d (cycle %d)", n.SlipID, n.Cycle)
	case KindFailed:
		fmt.Fprintf(&b, "*Transaction failed* (cycle %d)", n.Cycle)
	default:
		fmt.Fprintf(&b, "Slip #%d (cycle %d)", n.SlipID, n.Cycle)
	}
	if n.Detail != "" {
		fmt.Fprintf(&b, "\n%s", n.Detail)
	}
	if n.TxHash != "" {
		fmt.Fprintf(&b, "\nTx: `%s`", shortHash(n.TxHash))
	}
	return b.String()
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:8] + "..." + h[len(h)-6:]
}

// Sender delivers a notice.
type Sender interface {
	Send(ctx context.Context, n Notice) error
}

// LogSender writes notices to the logger.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, n Notice) error {
	s.log.Info("notice",
		zap.String("kind", string(n.Kind)),
		zap.String("player", n.Player),
		zap.Uint64("cycle", n.Cycle),
		zap.Uint64("slip_id", n.SlipID),
		zap.Int("correct", n.Correct),
		zap.String("score", n.Score.String()),
	)
	return nil
}

// MultiSender fans a notice out to several senders.
type MultiSender struct {
	senders []Sender
}

func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

// Send tries every sender and reports all failures.
func (s *MultiSender) Send(ctx context.Context, n Notice) error {
	var errs []error
	for i, sender := range s.senders {
		if err := sender.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("sender %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multi-sender errors: %v", errs)
	}
	return nil
}
