// Package resource tracks asynchronously loaded values and discards results
// that arrive for a context that is no longer current.
package resource

import (
	"sync"
	"time"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
)

// Status of a resource.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusLoaded
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Tag is the context a read was issued for.
type Tag struct {
	Cycle   odds.CycleID `json:"cycle"`
	Address string       `json:"address,omitempty"`
}

// Ticket identifies one issued read.
type Ticket struct {
	Tag Tag
	seq uint64
}

// View is a point-in-time copy of a resource.
type View[T any] struct {
	Status    Status    `json:"status"`
	Value     T         `json:"value"`
	HasValue  bool      `json:"has_value"`
	Err       string    `json:"error,omitempty"`
	Tag       Tag       `json:"tag"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Resource holds the latest applied value of type T.
type Resource[T any] struct {
	mu        sync.Mutex
	tag       Tag
	issued    uint64
	applied   uint64
	status    Status
	value     T
	hasValue  bool
	err       error
	updatedAt time.Time
	discarded uint64
}

// New creates an idle resource.
func New[T any]() *Resource[T] {
	return &Resource[T]{}
}

// SetContext switches the current tag. A changed tag drops the held value,
// and reads issued under the old tag will be discarded.
func (r *Resource[T]) SetContext(tag Tag) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tag == r.tag {
		return
	}
	var zero T
	r.tag = tag
	r.status = StatusIdle
	r.value = zero
	r.hasValue = false
	r.err = nil
}

// Begin issues a ticket for a read under the current tag.
func (r *Resource[T]) Begin() Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.issued++
	r.status = StatusLoading
	return Ticket{Tag: r.tag, seq: r.issued}
}

// BeginFor issues a ticket for a read the caller prepared under tag. When tag
// is no longer current the ticket is born stale and Resolve discards it.
func (r *Resource[T]) BeginFor(tag Tag) Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.issued++
	if tag == r.tag {
		r.status = StatusLoading
	}
	return Ticket{Tag: tag, seq: r.issued}
}

// Resolve applies a completed read. It reports false when the result was
// discarded because the tag changed or a newer read was already applied.
// An error keeps the previous value.
func (r *Resource[T]) Resolve(t Ticket, v T, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.Tag != r.tag || t.seq <= r.applied {
		r.discarded++
		return false
	}
	r.applied = t.seq
	r.updatedAt = time.Now()
	if err != nil {
		r.status = StatusError
		r.err = err
		return true
	}
	r.status = StatusLoaded
	r.value = v
	r.hasValue = true
	r.err = nil
	return true
}

// Get returns the held value and whether one has been loaded.
func (r *Resource[T]) Get() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.hasValue
}

// View returns a copy of the resource state.
func (r *Resource[T]) View() View[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := View[T]{
		Status:    r.status,
		Value:     r.value,
		HasValue:  r.hasValue,
		Tag:       r.tag,
		UpdatedAt: r.updatedAt,
	}
	if r.err != nil {
		v.Err = r.err.Error()
	}
	return v
}

// Discarded counts results dropped as stale.
func (r *Resource[T]) Discarded() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discarded
}
