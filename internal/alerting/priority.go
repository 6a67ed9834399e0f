// Package alerting delivers one alert occurrence across visual, audio and
// haptic channels according to a fixed priority policy.
package alerting

import (
	"fmt"
	"strings"
	"time"
)

// Priority is the urgency of an alert
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Rank orders priorities: CRITICAL > HIGH > MEDIUM > LOW. Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// ForcesDualChannel reports whether alerts of this priority are always
// delivered on more than one channel.
func (p Priority) ForcesDualChannel() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// ParsePriority accepts any letter case
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// Pulse is one vibration segment
type Pulse struct {
	On  time.Duration `json:"on"`
	Off time.Duration `json:"off"`
}

// ChannelParams are the per-priority channel settings
type ChannelParams struct {
	ToneHz            float64
	ToneDuration      time.Duration
	Vibration         []Pulse
	RequiresDismissal bool
}

var policy = map[Priority]ChannelParams{
	PriorityCritical: {
		ToneHz:       1320,
		ToneDuration: 1500 * time.Millisecond,
		Vibration: []Pulse{
			{On: 150 * time.Millisecond, Off: 100 * time.Millisecond},
			{On: 150 * time.Millisecond, Off: 100 * time.Millisecond},
			{On: 150 * time.Millisecond},
		},
		RequiresDismissal: true,
	},
	PriorityHigh: {
		ToneHz:       1046,
		ToneDuration: time.Second,
		Vibration: []Pulse{
			{On: 400 * time.Millisecond, Off: 200 * time.Millisecond},
			{On: 400 * time.Millisecond},
		},
		RequiresDismissal: true,
	},
	PriorityMedium: {
		ToneHz:       784,
		ToneDuration: 700 * time.Millisecond,
		Vibration:    []Pulse{{On: 800 * time.Millisecond}},
	},
	PriorityLow: {
		ToneHz:       523,
		ToneDuration: 500 * time.Millisecond,
		Vibration:    []Pulse{{On: 200 * time.Millisecond}},
	},
}

// Policy returns the channel parameters for p. Unknown priorities get LOW's.
func Policy(p Priority) ChannelParams {
	params, ok := policy[p]
	if !ok {
		params = policy[PriorityLow]
	}
	params.Vibration = append([]Pulse(nil), params.Vibration...)
	return params
}
