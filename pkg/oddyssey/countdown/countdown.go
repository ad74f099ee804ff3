// Package countdown tracks the time left before betting on a cycle closes.
package countdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
)

// State is what the clock reports on each tick.
type State struct {
	Deadline  time.Time     `json:"deadline,omitempty"`
	Remaining time.Duration `json:"remaining"`
	Expired   bool          `json:"expired"`
	Started   bool          `json:"started"`
	// Flipped is true only on the tick that set Started.
	Flipped bool `json:"-"`
}

// Display formats Remaining as "1d 02:03:04" or "02:03:04".
func (s State) Display() string {
	if s.Expired {
		return "00:00:00"
	}
	d := s.Remaining.Truncate(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	if days > 0 {
		return fmt.Sprintf("%dd %02d:%02d:%02d", days, h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

// Clock counts down to the earliest kickoff of the loaded matches.
type Clock struct {
	mu       sync.Mutex
	deadline time.Time
	has      bool
	started  bool
	now      func() time.Time
}

// Option configures a Clock.
type Option func(*Clock)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Clock) {
		c.now = now
	}
}

// New creates a clock for matches.
func New(matches []odds.Match, opts ...Option) *Clock {
	c := &Clock{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.SetMatches(matches)
	return c
}

// SetMatches replaces the match set. A different deadline re-arms Started.
func (c *Clock) SetMatches(matches []odds.Match) {
	var deadline time.Time
	for i, m := range matches {
		if i == 0 || m.Kickoff.Before(deadline) {
			deadline = m.Kickoff
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	has := len(matches) > 0
	if has != c.has || !deadline.Equal(c.deadline) {
		c.started = false
	}
	c.deadline = deadline
	c.has = has
}

// State reports the current state without flipping Started.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Tick computes the state and flips Started the first time the deadline passes.
func (c *Clock) Tick() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stateLocked()
	if c.has && s.Expired && !c.started {
		c.started = true
		s.Started = true
		s.Flipped = true
	}
	return s
}

func (c *Clock) stateLocked() State {
	if !c.has {
		return State{Expired: true}
	}
	remaining := c.deadline.Sub(c.now())
	if remaining < 0 {
		remaining = 0
	}
	return State{
		Deadline:  c.deadline,
		Remaining: remaining,
		Expired:   remaining == 0,
		Started:   c.started,
	}
}

// Run ticks once per second and passes each state to fn until ctx is done.
func (c *Clock) Run(ctx context.Context, fn func(State)) {
	c.run(ctx, time.Second, fn)
}

func (c *Clock) run(ctx context.Context, every time.Duration, fn func(State)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	fn(c.Tick())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(c.Tick())
		}
	}
}
