package observability

import "context"

// MultiObserver fans events out to several observers in order.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver skips nil observers.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	filtered := make([]Observer, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			filtered = append(filtered, obs)
		}
	}
	return &MultiObserver{observers: filtered}
}

func (m *MultiObserver) OnEvent(ctx context.Context, event Event) {
	for _, obs := range m.observers {
		obs.OnEvent(ctx, event)
	}
}

// LevelFilter forwards events at or above a minimum level.
type LevelFilter struct {
	min  Level
	next Observer
}

func NewLevelFilter(min Level, next Observer) *LevelFilter {
	return &LevelFilter{min: min, next: next}
}

func (f *LevelFilter) OnEvent(ctx context.Context, event Event) {
	if event.Level < f.min {
		return
	}
	f.next.OnEvent(ctx, event)
}
