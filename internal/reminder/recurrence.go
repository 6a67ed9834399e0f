package reminder

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gmsas95/careminder/internal/alerting"
	"github.com/gmsas95/careminder/internal/errors"
)

// Occurrence is one generated instant with its alert parameters
type Occurrence struct {
	At          time.Time
	Priority    alerting.Priority
	DualChannel bool
	Message     string
}

const (
	minIntervalHours = 2.0
	maxIntervalHours = 3.0
	horizonHours     = 24

	minHydrationTarget = 6
	maxHydrationTarget = 8
	hydrationStartHour = 8
	hydrationEndHour   = 22
)

var (
	posturalDayHours   = []int{6, 8, 10, 12, 14, 16, 18, 20}
	posturalNightHours = []int{22, 0, 4}
)

var defaultMessages = map[Kind]string{
	KindMedication:     "Medication due",
	KindPosturalChange: "Postural change due",
	KindBathroom:       "Bathroom visit due",
	KindHydration:      "Hydration due",
}

// GenerateOccurrences expands spec into concrete instants after from, sorted
// ascending. Every parameter is validated before any instant is produced.
func GenerateOccurrences(spec RecurrenceSpec, from time.Time) ([]Occurrence, error) {
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}

	message := strings.TrimSpace(spec.Message)
	if message == "" {
		message = defaultMessages[spec.Kind]
	}

	var occs []Occurrence
	switch spec.Kind {
	case KindBathroom:
		occs = intervalCadence(from, spec.IntervalHours, withDefault(spec.Priority, alerting.PriorityMedium), spec.DualChannel, message)
	case KindPosturalChange:
		occs = dayNightCadence(from, message)
	case KindHydration:
		occs = targetDistribution(from, spec.TargetCount, withDefault(spec.Priority, alerting.PriorityLow), spec.DualChannel, message)
	case KindMedication:
		occs = fixedTimes(from, spec.Times, withDefault(spec.Priority, alerting.PriorityHigh), spec.DualChannel, message)
	}

	sort.SliceStable(occs, func(i, j int) bool { return occs[i].At.Before(occs[j].At) })
	return occs, nil
}

// ValidateSpec checks the governing parameter of spec's cadence
func ValidateSpec(spec RecurrenceSpec) error {
	if !spec.Kind.Valid() {
		return errors.Validationf("unknown care action kind %q", spec.Kind)
	}
	if spec.Priority != "" && !spec.Priority.Valid() {
		return errors.Validationf("unknown priority %q", spec.Priority)
	}

	switch spec.Kind {
	case KindBathroom:
		if math.IsNaN(spec.IntervalHours) || spec.IntervalHours < minIntervalHours || spec.IntervalHours > maxIntervalHours {
			return errors.Validationf("interval must be between %g and %g hours, got %g", minIntervalHours, maxIntervalHours, spec.IntervalHours)
		}
	case KindPosturalChange:
		if spec.Priority != "" {
			return errors.Validationf("postural change priority is fixed by the day/night cadence")
		}
	case KindHydration:
		if spec.TargetCount < minHydrationTarget || spec.TargetCount > maxHydrationTarget {
			return errors.Validationf("hydration target must be between %d and %d, got %d", minHydrationTarget, maxHydrationTarget, spec.TargetCount)
		}
	case KindMedication:
		if _, err := parseTimes(spec.Times); err != nil {
			return err
		}
	}
	return nil
}

func withDefault(p, def alerting.Priority) alerting.Priority {
	if p == "" {
		return def
	}
	return p
}

// intervalCadence yields floor(24/interval) instants, the first one interval
// after from
func intervalCadence(from time.Time, intervalHours float64, p alerting.Priority, dual bool, msg string) []Occurrence {
	n := int(math.Floor(horizonHours / intervalHours))
	step := time.Duration(intervalHours * float64(time.Hour))

	occs := make([]Occurrence, 0, n)
	for k := 1; k <= n; k++ {
		occs = append(occs, Occurrence{At: from.Add(time.Duration(k) * step), Priority: p, DualChannel: dual, Message: msg})
	}
	return occs
}

// dayNightCadence yields the fixed postural change policy: every two hours
// from 06:00 to 20:00 as HIGH, plus 22:00, 00:00 and 04:00 as MEDIUM
func dayNightCadence(from time.Time, msg string) []Occurrence {
	occs := make([]Occurrence, 0, len(posturalDayHours)+len(posturalNightHours))
	for _, h := range posturalDayHours {
		occs = append(occs, Occurrence{At: nextClock(from, h, 0), Priority: alerting.PriorityHigh, DualChannel: true, Message: msg})
	}
	for _, h := range posturalNightHours {
		occs = append(occs, Occurrence{At: nextClock(from, h, 0), Priority: alerting.PriorityMedium, DualChannel: false, Message: msg})
	}
	return occs
}

// targetDistribution spreads target instants evenly from 08:00 to 22:00,
// both ends included
func targetDistribution(from time.Time, target int, p alerting.Priority, dual bool, msg string) []Occurrence {
	span := time.Duration(hydrationEndHour-hydrationStartHour) * time.Hour
	step := span / time.Duration(target-1)

	occs := make([]Occurrence, 0, target)
	for k := 0; k < target; k++ {
		offset := time.Duration(k) * step
		h := hydrationStartHour + int(offset/time.Hour)
		m := int((offset % time.Hour) / time.Minute)
		occs = append(occs, Occurrence{At: nextClock(from, h, m), Priority: p, DualChannel: dual, Message: msg})
	}
	return occs
}

func fixedTimes(from time.Time, times []string, p alerting.Priority, dual bool, msg string) []Occurrence {
	clocks, _ := parseTimes(times)
	occs := make([]Occurrence, 0, len(clocks))
	for _, c := range clocks {
		occs = append(occs, Occurrence{At: nextClock(from, c[0], c[1]), Priority: p, DualChannel: dual, Message: msg})
	}
	return occs
}

func parseTimes(times []string) ([][2]int, error) {
	if len(times) == 0 {
		return nil, errors.Validationf("at least one time of day is required")
	}

	seen := make(map[string]bool, len(times))
	clocks := make([][2]int, 0, len(times))
	for _, raw := range times {
		s := strings.TrimSpace(raw)
		t, err := time.Parse("15:04", s)
		if err != nil {
			return nil, errors.Validationf("invalid time of day %q, expected HH:MM", raw)
		}
		key := t.Format("15:04")
		if seen[key] {
			return nil, errors.Validationf("duplicate time of day %s", key)
		}
		seen[key] = true
		clocks = append(clocks, [2]int{t.Hour(), t.Minute()})
	}
	return clocks, nil
}

// nextClock returns the first hour:minute strictly after from, in from's
// location
func nextClock(from time.Time, hour, minute int) time.Time {
	t := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location())
	if !t.After(from) {
		t = time.Date(from.Year(), from.Month(), from.Day()+1, hour, minute, 0, 0, from.Location())
	}
	return t
}
