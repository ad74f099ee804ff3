package odds

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrFetch marks a failed read. A nil error with an empty match list means
// the cycle has no matches, which is a different thing.
var ErrFetch = errors.New("odds fetch failed")

// Source reads the current cycle and its matches.
type Source interface {
	CurrentCycleID(ctx context.Context) (CycleID, error)
	CycleMatches(ctx context.Context, cycle CycleID) ([]Match, error)
}

// ActiveMatches reads the current cycle id and then its matches.
func ActiveMatches(ctx context.Context, src Source) (Snapshot, error) {
	cycle, err := src.CurrentCycleID(ctx)
	if err != nil {
		return Snapshot{}, fetchError("current cycle", err)
	}
	matches, err := src.CycleMatches(ctx, cycle)
	if err != nil {
		return Snapshot{}, fetchError(fmt.Sprintf("cycle %d matches", cycle), err)
	}
	return Snapshot{Cycle: cycle, Matches: matches, FetchedAt: time.Now()}, nil
}

func fetchError(op string, err error) error {
	if errors.Is(err, ErrFetch) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrFetch, op, err)
}

// Fallback reads from Primary and, only when that read fails, from Secondary.
type Fallback struct {
	Primary   Source
	Secondary Source
}

// CurrentCycleID implements Source.
func (f *Fallback) CurrentCycleID(ctx context.Context) (CycleID, error) {
	cycle, err := f.Primary.CurrentCycleID(ctx)
	if err == nil {
		return cycle, nil
	}
	if f.Secondary == nil {
		return 0, fetchError("current cycle", err)
	}
	cycle, err2 := f.Secondary.CurrentCycleID(ctx)
	if err2 != nil {
		return 0, fetchError("current cycle", errors.Join(err, err2))
	}
	return cycle, nil
}

// CycleMatches implements Source. An empty list from Primary is returned as is.
func (f *Fallback) CycleMatches(ctx context.Context, cycle CycleID) ([]Match, error) {
	matches, err := f.Primary.CycleMatches(ctx, cycle)
	if err == nil {
		return matches, nil
	}
	if f.Secondary == nil {
		return nil, fetchError(fmt.Sprintf("cycle %d matches", cycle), err)
	}
	matches, err2 := f.Secondary.CycleMatches(ctx, cycle)
	if err2 != nil {
		return nil, fetchError(fmt.Sprintf("cycle %d matches", cycle), errors.Join(err, err2))
	}
	return matches, nil
}
