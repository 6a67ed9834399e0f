package reminder

import (
	"time"

	"github.com/gmsas95/careminder/internal/config"
)

// AdherenceWindow is the tolerance around a scheduled instant
type AdherenceWindow struct {
	Before time.Duration `json:"before"`
	After  time.Duration `json:"after"`
}

// Symmetric returns a window of d on both sides
func Symmetric(d time.Duration) AdherenceWindow {
	return AdherenceWindow{Before: d, After: d}
}

// Contains reports whether actualAt falls inside the window around
// scheduledAt. Both bounds are inclusive.
func (w AdherenceWindow) Contains(scheduledAt, actualAt time.Time) bool {
	delta := actualAt.Sub(scheduledAt)
	return delta >= -w.Before && delta <= w.After
}

// WithinWindow reports whether |actualAt - scheduledAt| <= window
func WithinWindow(scheduledAt, actualAt time.Time, window time.Duration) bool {
	return Symmetric(window).Contains(scheduledAt, actualAt)
}

// Windows maps each care action kind to its adherence window
type Windows map[Kind]AdherenceWindow

// DefaultWindows returns the built-in tolerances
func DefaultWindows() Windows {
	return Windows{
		KindMedication:     Symmetric(90 * time.Minute),
		KindPosturalChange: {Before: time.Hour, After: 3 * time.Hour},
		KindBathroom:       Symmetric(time.Hour),
		KindHydration:      Symmetric(time.Hour),
	}
}

// WindowsFromConfig reads the per-kind windows from configuration, keeping
// the defaults for kinds left at zero
func WindowsFromConfig(cfg config.WindowsConfig) Windows {
	w := DefaultWindows()
	set := func(k Kind, c config.WindowConfig) {
		if c.Before > 0 || c.After > 0 {
			w[k] = AdherenceWindow{Before: c.Before, After: c.After}
		}
	}
	set(KindMedication, cfg.Medication)
	set(KindPosturalChange, cfg.PosturalChange)
	set(KindBathroom, cfg.Bathroom)
	set(KindHydration, cfg.Hydration)
	return w
}

// For returns the window for k, falling back to the medication window
func (w Windows) For(k Kind) AdherenceWindow {
	if win, ok := w[k]; ok {
		return win
	}
	return DefaultWindows()[KindMedication]
}

// MatchOption narrows which pending occurrence a confirm or omit applies to
type MatchOption func(*matchOptions)

type matchOptions struct {
	occurrenceID string
	kind         Kind
}

// ForOccurrence targets one occurrence directly instead of the nearest
func ForOccurrence(id string) MatchOption {
	return func(o *matchOptions) { o.occurrenceID = id }
}

// ForKind only considers occurrences of kind
func ForKind(kind Kind) MatchOption {
	return func(o *matchOptions) { o.kind = kind }
}

// MatchNearest picks the pending event scheduled closest to actualAt. Ties go
// to the earliest created, then to the lowest sequence. It returns nil when
// events has no pending entry.
func MatchNearest(events []CareActionEvent, actualAt time.Time) *CareActionEvent {
	var best *CareActionEvent
	var bestDelta time.Duration

	for i := range events {
		ev := &events[i]
		if !ev.Pending() {
			continue
		}
		delta := absDuration(actualAt.Sub(ev.ScheduledAt))
		if best == nil || delta < bestDelta || (delta == bestDelta && createdBefore(ev, best)) {
			best = ev
			bestDelta = delta
		}
	}
	return best
}

func createdBefore(a, b *CareActionEvent) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Sequence < b.Sequence
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
