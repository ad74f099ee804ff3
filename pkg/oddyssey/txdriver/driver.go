package txdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInProgress is returned by Begin while a submission is pending or confirming.
	ErrInProgress = errors.New("submission already in progress")
	// ErrEmptyHash is returned when the wallet hands back no transaction hash.
	ErrEmptyHash = errors.New("empty transaction hash")
)

// PendingTransaction is the driver state exposed to the view.
type PendingTransaction struct {
	ID        uuid.UUID `json:"id"`
	Label     string    `json:"label"`
	Phase     Phase     `json:"phase"`
	Hash      string    `json:"hash,omitempty"`
	Cause     Cause     `json:"cause,omitempty"`
	Message   string    `json:"message,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Transition records one phase change.
type Transition struct {
	ID   uuid.UUID `json:"id"`
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	Hash string    `json:"hash,omitempty"`
	// Cause is set on transitions into PhaseFailed.
	Cause Cause     `json:"cause,omitempty"`
	At    time.Time `json:"at"`
}

// Submission is a dispatched transaction that can be waited on.
type Submission interface {
	Hash() string
	Wait(ctx context.Context) error
}

// Driver is the phase machine for one kind of submission (slip, claim).
type Driver struct {
	mu        sync.Mutex
	label     string
	cur       PendingTransaction
	history   []Transition
	listeners []func(Transition)
	now       func() time.Time
}

// NewDriver creates an idle driver.
func NewDriver(label string) *Driver {
	return &Driver{
		label: label,
		cur:   PendingTransaction{Label: label, Phase: PhaseIdle},
		now:   time.Now,
	}
}

// OnTransition registers fn to be called after every phase change.
func (d *Driver) OnTransition(fn func(Transition)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Snapshot returns the current state.
func (d *Driver) Snapshot() PendingTransaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cur
}

// Phase returns the current phase.
func (d *Driver) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cur.Phase
}

// History returns every transition since the driver was created.
func (d *Driver) History() []Transition {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Transition, len(d.history))
	copy(out, d.history)
	return out
}

// Begin starts a new submission. A terminal previous submission is reset to
// idle first; an in-flight one makes Begin fail.
func (d *Driver) Begin() (uuid.UUID, error) {
	d.mu.Lock()
	if d.cur.Phase.InFlight() {
		d.mu.Unlock()
		return uuid.Nil, ErrInProgress
	}

	var fired []Transition
	if d.cur.Phase.Terminal() {
		fired = append(fired, d.moveLocked(PhaseIdle, "", CauseNone, nil))
		d.cur = PendingTransaction{Label: d.label, Phase: PhaseIdle}
	}

	id := uuid.New()
	d.cur.ID = id
	d.cur.StartedAt = d.now()
	fired = append(fired, d.moveLocked(PhasePending, "", CauseNone, nil))
	d.mu.Unlock()

	d.notify(fired)
	return id, nil
}

// Dispatched records the hash returned by the wallet and moves to confirming.
func (d *Driver) Dispatched(hash string) error {
	if hash == "" {
		return ErrEmptyHash
	}
	return d.transition(PhaseConfirming, hash, CauseNone, nil)
}

// Confirmed marks the submission final.
func (d *Driver) Confirmed() error {
	return d.transition(PhaseSuccess, "", CauseNone, nil)
}

// Fail ends the submission with the classified cause of err.
func (d *Driver) Fail(err error) error {
	cause := Classify(err)
	if cause == CauseNone {
		cause = CauseContractRejected
	}
	return d.transition(PhaseFailed, "", cause, err)
}

// Reset returns a finished submission to idle.
func (d *Driver) Reset() error {
	d.mu.Lock()
	switch {
	case d.cur.Phase.InFlight():
		d.mu.Unlock()
		return ErrInProgress
	case d.cur.Phase == PhaseIdle:
		d.mu.Unlock()
		return nil
	}
	t := d.moveLocked(PhaseIdle, "", CauseNone, nil)
	d.cur = PendingTransaction{Label: d.label, Phase: PhaseIdle}
	d.mu.Unlock()

	d.notify([]Transition{t})
	return nil
}

// Run drives send through every phase: pending while the wallet signs,
// confirming once a hash exists, then success or failure.
func (d *Driver) Run(ctx context.Context, send func(context.Context) (Submission, error)) (PendingTransaction, error) {
	if _, err := d.Begin(); err != nil {
		return d.Snapshot(), err
	}

	sub, err := send(ctx)
	if err != nil {
		return d.Snapshot(), d.fail(err)
	}
	if err := d.Dispatched(sub.Hash()); err != nil {
		return d.Snapshot(), d.fail(err)
	}
	if err := sub.Wait(ctx); err != nil {
		return d.Snapshot(), d.fail(err)
	}
	if err := d.Confirmed(); err != nil {
		return d.Snapshot(), err
	}
	return d.Snapshot(), nil
}

// fail records err as the outcome of Run. The driver is normally still in
// flight here; if something else already moved it, that error is joined in.
func (d *Driver) fail(err error) error {
	if ferr := d.Fail(err); ferr != nil {
		return errors.Join(err, ferr)
	}
	return err
}

func (d *Driver) transition(to Phase, hash string, cause Cause, err error) error {
	d.mu.Lock()
	from := d.cur.Phase
	if !canMove(from, to) {
		d.mu.Unlock()
		return fmt.Errorf("invalid transition %s -> %s", from, to)
	}
	t := d.moveLocked(to, hash, cause, err)
	d.mu.Unlock()

	d.notify([]Transition{t})
	return nil
}

func (d *Driver) moveLocked(to Phase, hash string, cause Cause, err error) Transition {
	now := d.now()
	t := Transition{
		ID:    d.cur.ID,
		From:  d.cur.Phase,
		To:    to,
		Hash:  hash,
		Cause: cause,
		At:    now,
	}
	d.cur.Phase = to
	if hash != "" {
		d.cur.Hash = hash
	}
	t.Hash = d.cur.Hash
	d.cur.Cause = cause
	d.cur.Message = to.Message()
	if cause != CauseNone {
		d.cur.Message = cause.Message()
	}
	d.cur.Detail = ""
	if err != nil {
		d.cur.Detail = err.Error()
	}
	d.cur.UpdatedAt = now
	d.history = append(d.history, t)
	return t
}

func (d *Driver) notify(ts []Transition) {
	d.mu.Lock()
	fns := make([]func(Transition), len(d.listeners))
	copy(fns, d.listeners)
	d.mu.Unlock()

	for _, t := range ts {
		for _, fn := range fns {
			fn(t)
		}
	}
}
