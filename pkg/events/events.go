// Package events publishes slip lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type names a lifecycle event.
type Type string

const (
	SlipSubmitted Type = "oddyssey.slip.submitted"
	SlipConfirmed Type = "oddyssey.slip.confirmed"
	SlipFailed    Type = "oddyssey.slip.failed"
	SlipEvaluated Type = "oddyssey.slip.evaluated"
	PrizeClaimed  Type = "oddyssey.prize.claimed"
)

// Event is the message body. Fields that do not apply to a type are omitted.
type Event struct {
	ID         string           `json:"event_id"`
	Type       Type             `json:"type"`
	Player     string           `json:"player"`
	Cycle      uint64           `json:"cycle"`
	SlipID     *uint64          `json:"slip_id,omitempty"`
	TxHash     string           `json:"tx_hash,omitempty"`
	Submission string           `json:"submission_id,omitempty"`
	TotalOdds  *decimal.Decimal `json:"total_odds,omitempty"`
	Score      *decimal.Decimal `json:"score,omitempty"`
	Cause      string           `json:"cause,omitempty"`
	TsUnixMs   int64            `json:"ts_unix_ms"`
}

// New returns an event with a fresh id and timestamp.
func New(t Type, player string, cycle uint64) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     t,
		Player:   player,
		Cycle:    cycle,
		TsUnixMs: time.Now().UnixMilli(),
	}
}

// Key is the partition key; all events of one player stay ordered.
func (e Event) Key() string {
	return e.Player
}

// Publisher sends lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps events in memory.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.Events = append(r.Events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }
