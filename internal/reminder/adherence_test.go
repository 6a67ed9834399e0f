package reminder

import (
	"testing"
	"time"

	"github.com/gmsas95/careminder/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinWindowBoundaryInclusive(t *testing.T) {
	scheduled := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	window := 90 * time.Minute

	assert.True(t, WithinWindow(scheduled, scheduled.Add(90*time.Minute), window))
	assert.True(t, WithinWindow(scheduled, scheduled.Add(-90*time.Minute), window))
	assert.True(t, WithinWindow(scheduled, scheduled, window))
	assert.False(t, WithinWindow(scheduled, scheduled.Add(90*time.Minute+time.Second), window))
	assert.False(t, WithinWindow(scheduled, scheduled.Add(2*time.Hour), window))
	assert.False(t, WithinWindow(scheduled, scheduled.Add(-2*time.Hour), window))
}

func TestAsymmetricWindow(t *testing.T) {
	scheduled := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	w := DefaultWindows().For(KindPosturalChange)

	assert.True(t, w.Contains(scheduled, scheduled.Add(3*time.Hour)))
	assert.False(t, w.Contains(scheduled, scheduled.Add(3*time.Hour+time.Minute)))
	assert.True(t, w.Contains(scheduled, scheduled.Add(-time.Hour)))
	assert.False(t, w.Contains(scheduled, scheduled.Add(-61*time.Minute)))
}

func TestWindowsFromConfig(t *testing.T) {
	w := WindowsFromConfig(config.WindowsConfig{
		Bathroom: config.WindowConfig{Before: 15 * time.Minute, After: 30 * time.Minute},
	})

	assert.Equal(t, AdherenceWindow{Before: 15 * time.Minute, After: 30 * time.Minute}, w.For(KindBathroom))
	assert.Equal(t, Symmetric(90*time.Minute), w.For(KindMedication))
	assert.Equal(t, Symmetric(90*time.Minute), w.For("UNKNOWN"))
}

func TestMatchNearest(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	created := base.Add(-24 * time.Hour)

	events := []CareActionEvent{
		{ID: "a", ScheduledAt: base, Status: EventPending, CreatedAt: created, Sequence: 0},
		{ID: "b", ScheduledAt: base.Add(4 * time.Hour), Status: EventPending, CreatedAt: created, Sequence: 1},
		{ID: "c", ScheduledAt: base.Add(time.Hour), Status: EventConfirmed, CreatedAt: created, Sequence: 2},
	}

	got := MatchNearest(events, base.Add(30*time.Minute))
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)

	got = MatchNearest(events, base.Add(3*time.Hour))
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)

	assert.Nil(t, MatchNearest(events[2:], base))
	assert.Nil(t, MatchNearest(nil, base))
}

func TestMatchNearestTieBreaks(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	actual := base.Add(time.Hour)

	// Equidistant: earlier creation wins
	events := []CareActionEvent{
		{ID: "late", ScheduledAt: base.Add(2 * time.Hour), Status: EventPending, CreatedAt: base.Add(time.Minute)},
		{ID: "early", ScheduledAt: base, Status: EventPending, CreatedAt: base},
	}
	assert.Equal(t, "early", MatchNearest(events, actual).ID)

	// Same creation instant: lower sequence wins
	events = []CareActionEvent{
		{ID: "second", ScheduledAt: base.Add(2 * time.Hour), Status: EventPending, CreatedAt: base, Sequence: 1},
		{ID: "first", ScheduledAt: base, Status: EventPending, CreatedAt: base, Sequence: 0},
	}
	assert.Equal(t, "first", MatchNearest(events, actual).ID)
}
