package resource

import (
	"errors"
	"testing"
)

func TestResolveLoads(t *testing.T) {
	r := New[int]()
	r.SetContext(Tag{Cycle: 1, Address: "0xa"})

	tk := r.Begin()
	if got := r.View().Status; got != StatusLoading {
		t.Fatalf("status = %v, want loading", got)
	}
	if !r.Resolve(tk, 42, nil) {
		t.Fatal("Resolve discarded a current result")
	}
	v, ok := r.Get()
	if !ok || v != 42 {
		t.Errorf("Get() = %d, %v", v, ok)
	}
	if got := r.View().Status; got != StatusLoaded {
		t.Errorf("status = %v, want loaded", got)
	}
}

func TestStaleTagDiscarded(t *testing.T) {
	r := New[[]string]()
	r.SetContext(Tag{Cycle: 1, Address: "0xa"})
	tk := r.Begin()

	// wallet switched while the read was in flight
	r.SetContext(Tag{Cycle: 1, Address: "0xb"})

	if r.Resolve(tk, []string{"slip-for-a"}, nil) {
		t.Fatal("result for old address was applied")
	}
	if _, ok := r.Get(); ok {
		t.Error("value should be empty after context change")
	}
	if r.Discarded() != 1 {
		t.Errorf("Discarded() = %d, want 1", r.Discarded())
	}
}

func TestOlderReadDiscarded(t *testing.T) {
	r := New[string]()
	first := r.Begin()
	second := r.Begin()

	if !r.Resolve(second, "new", nil) {
		t.Fatal("newer read discarded")
	}
	if r.Resolve(first, "old", nil) {
		t.Fatal("older read overwrote newer one")
	}
	if v, _ := r.Get(); v != "new" {
		t.Errorf("value = %q, want new", v)
	}
}

func TestErrorKeepsStaleValue(t *testing.T) {
	r := New[string]()
	r.Resolve(r.Begin(), "cached", nil)
	r.Resolve(r.Begin(), "", errors.New("backend down"))

	view := r.View()
	if view.Status != StatusError || view.Err != "backend down" {
		t.Errorf("view = %+v", view)
	}
	if !view.HasValue || view.Value != "cached" {
		t.Errorf("stale value lost: %+v", view)
	}
}

func TestSameContextKeepsValue(t *testing.T) {
	r := New[int]()
	tag := Tag{Cycle: 3}
	r.SetContext(tag)
	r.Resolve(r.Begin(), 7, nil)
	r.SetContext(tag)
	if v, ok := r.Get(); !ok || v != 7 {
		t.Errorf("Get() = %d, %v", v, ok)
	}
}

func TestBeginForSupersededTag(t *testing.T) {
	r := New[string]()
	r.SetContext(Tag{Address: "0xa"})
	r.Resolve(r.Begin(), "slips of a", nil)

	// the read was prepared for 0xa but the wallet switched before issue
	r.SetContext(Tag{Address: "0xb"})
	tk := r.BeginFor(Tag{Address: "0xa"})
	if got := r.View().Status; got != StatusIdle {
		t.Errorf("status = %v, want idle for a superseded read", got)
	}
	if r.Resolve(tk, "late slips of a", nil) {
		t.Fatal("read prepared for the old tag was applied")
	}
	if _, ok := r.Get(); ok {
		t.Error("value should stay empty")
	}

	current := r.BeginFor(Tag{Address: "0xb"})
	if !r.Resolve(current, "slips of b", nil) {
		t.Fatal("current read discarded")
	}
}
