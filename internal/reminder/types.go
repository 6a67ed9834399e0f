// Package reminder schedules care action occurrences, fires their alerts,
// escalates unacknowledged alerts and closes occurrences against their
// adherence windows.
package reminder

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gmsas95/careminder/internal/alerting"
	"github.com/google/uuid"
)

// Kind is the care action an occurrence tracks
type Kind string

const (
	KindMedication     Kind = "MEDICATION"
	KindPosturalChange Kind = "POSTURAL_CHANGE"
	KindBathroom       Kind = "BATHROOM"
	KindHydration      Kind = "HYDRATION"
)

func (k Kind) Valid() bool {
	switch k {
	case KindMedication, KindPosturalChange, KindBathroom, KindHydration:
		return true
	}
	return false
}

// ParseKind accepts any letter case
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown care action kind %q", s)
	}
	return k, nil
}

// AlertStatus is the delivery lifecycle of an alert
type AlertStatus string

const (
	AlertScheduled    AlertStatus = "SCHEDULED"
	AlertSent         AlertStatus = "SENT"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertDismissed    AlertStatus = "DISMISSED"
)

// EventStatus is the completion lifecycle of a care action
type EventStatus string

const (
	EventPending   EventStatus = "PENDING"
	EventConfirmed EventStatus = "CONFIRMED"
	EventOmitted   EventStatus = "OMITTED"
)

// ScheduledAlert is the delivery side of one occurrence. Its ID is the
// occurrence id.
type ScheduledAlert struct {
	ID             string            `gorm:"primaryKey" json:"id"`
	SubjectID      string            `gorm:"index" json:"subject_id"`
	Kind           Kind              `json:"kind"`
	Priority       alerting.Priority `json:"priority"`
	Message        string            `json:"message"`
	ScheduledAt    time.Time         `gorm:"index" json:"scheduled_at"`
	DualChannel    bool              `json:"dual_channel"`
	Status         AlertStatus       `gorm:"index" json:"status"`
	ReminderSent   bool              `json:"reminder_sent"`
	Sequence       int               `json:"sequence"`
	SentAt         *time.Time        `json:"sent_at,omitempty"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewScheduledAlert builds a SCHEDULED alert. HIGH and CRITICAL alerts are
// always dual-channel whatever the caller asked for.
func NewScheduledAlert(occurrenceID, subjectID string, kind Kind, occ Occurrence, seq int, createdAt time.Time) *ScheduledAlert {
	return &ScheduledAlert{
		ID:          occurrenceID,
		SubjectID:   subjectID,
		Kind:        kind,
		Priority:    occ.Priority,
		Message:     occ.Message,
		ScheduledAt: occ.At,
		DualChannel: occ.DualChannel || occ.Priority.ForcesDualChannel(),
		Status:      AlertScheduled,
		Sequence:    seq,
		CreatedAt:   createdAt,
	}
}

// Active reports whether the alert still awaits delivery or acknowledgement
func (a *ScheduledAlert) Active() bool {
	return a.Status == AlertScheduled || a.Status == AlertSent
}

// CareActionEvent is the completion side of one occurrence
type CareActionEvent struct {
	ID            string      `gorm:"primaryKey" json:"id"`
	OccurrenceID  string      `gorm:"uniqueIndex" json:"occurrence_id"`
	SubjectID     string      `gorm:"index" json:"subject_id"`
	Kind          Kind        `json:"kind"`
	ScheduledAt   time.Time   `json:"scheduled_at"`
	Status        EventStatus `gorm:"index" json:"status"`
	ActualAt      *time.Time  `json:"actual_at,omitempty"`
	WithinWindow  *bool       `json:"within_window,omitempty"`
	Justification string      `json:"justification,omitempty"`
	Sequence      int         `json:"sequence"`
	CreatedAt     time.Time   `json:"created_at"`
}

// NewCareActionEvent builds the PENDING event paired with an alert
func NewCareActionEvent(alert *ScheduledAlert) *CareActionEvent {
	return &CareActionEvent{
		ID:           eventID(alert.ID),
		OccurrenceID: alert.ID,
		SubjectID:    alert.SubjectID,
		Kind:         alert.Kind,
		ScheduledAt:  alert.ScheduledAt,
		Status:       EventPending,
		Sequence:     alert.Sequence,
		CreatedAt:    alert.CreatedAt,
	}
}

func (e *CareActionEvent) Pending() bool {
	return e.Status == EventPending
}

// Confirmation is returned by a successful confirm
type Confirmation struct {
	EventID      string        `json:"event_id"`
	OccurrenceID string        `json:"occurrence_id"`
	SubjectID    string        `json:"subject_id"`
	Kind         Kind          `json:"kind"`
	ScheduledAt  time.Time     `json:"scheduled_at"`
	ActualAt     time.Time     `json:"actual_at"`
	WithinWindow bool          `json:"within_window"`
	Offset       time.Duration `json:"offset"`
}

// RecurrenceSpec describes a cadence. Which fields apply depends on Kind:
// IntervalHours for BATHROOM, TargetCount for HYDRATION, Times for
// MEDICATION. POSTURAL_CHANGE takes no parameters.
type RecurrenceSpec struct {
	Kind          Kind              `json:"kind" yaml:"kind"`
	IntervalHours float64           `json:"interval_hours,omitempty" yaml:"interval_hours,omitempty"`
	TargetCount   int               `json:"target_count,omitempty" yaml:"target_count,omitempty"`
	Times         []string          `json:"times,omitempty" yaml:"times,omitempty"`
	Priority      alerting.Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
	DualChannel   bool              `json:"dual_channel,omitempty" yaml:"dual_channel,omitempty"`
	Message       string            `json:"message,omitempty" yaml:"message,omitempty"`
}

// RecurrencePlan persists the last spec scheduled for a subject and kind so
// the daily rollover can extend it
type RecurrencePlan struct {
	ID            string            `gorm:"primaryKey" json:"id"`
	SubjectID     string            `gorm:"index" json:"subject_id"`
	Kind          Kind              `json:"kind"`
	IntervalHours float64           `json:"interval_hours,omitempty"`
	TargetCount   int               `json:"target_count,omitempty"`
	TimesJSON     string            `json:"-"`
	Priority      alerting.Priority `json:"priority,omitempty"`
	DualChannel   bool              `json:"dual_channel"`
	Message       string            `json:"message,omitempty"`
	HorizonEnd    time.Time         `json:"horizon_end"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewRecurrencePlan records spec for subjectID
func NewRecurrencePlan(subjectID string, spec RecurrenceSpec) *RecurrencePlan {
	times, _ := json.Marshal(spec.Times)
	return &RecurrencePlan{
		ID:            planID(subjectID, spec.Kind),
		SubjectID:     subjectID,
		Kind:          spec.Kind,
		IntervalHours: spec.IntervalHours,
		TargetCount:   spec.TargetCount,
		TimesJSON:     string(times),
		Priority:      spec.Priority,
		DualChannel:   spec.DualChannel,
		Message:       spec.Message,
	}
}

// Spec rebuilds the recurrence spec
func (p *RecurrencePlan) Spec() RecurrenceSpec {
	var times []string
	if p.TimesJSON != "" {
		json.Unmarshal([]byte(p.TimesJSON), &times)
	}
	return RecurrenceSpec{
		Kind:          p.Kind,
		IntervalHours: p.IntervalHours,
		TargetCount:   p.TargetCount,
		Times:         times,
		Priority:      p.Priority,
		DualChannel:   p.DualChannel,
		Message:       p.Message,
	}
}

var occurrenceNamespace = uuid.MustParse("6f1c1f0e-3c1a-4f4e-9a57-5b0c2f3d8e21")

// OccurrenceID derives the id of the occurrence of kind for subjectID at
// instant at. The same inputs always yield the same id.
func OccurrenceID(subjectID string, kind Kind, at time.Time) string {
	key := subjectID + "|" + string(kind) + "|" + at.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(occurrenceNamespace, []byte(key)).String()
}

func eventID(occurrenceID string) string {
	return uuid.NewSHA1(occurrenceNamespace, []byte("event|"+occurrenceID)).String()
}

func planID(subjectID string, kind Kind) string {
	return uuid.NewSHA1(occurrenceNamespace, []byte("plan|"+subjectID+"|"+string(kind))).String()
}
