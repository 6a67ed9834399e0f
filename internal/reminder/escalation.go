package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gmsas95/careminder/internal/metrics"
	"go.uber.org/zap"
)

// DefaultEscalationGrace is how long a fired alert may stay unacknowledged
// before its single reminder
const DefaultEscalationGrace = 5 * time.Minute

// EscalationMonitor re-emits a fired alert once if nobody acknowledged or
// dismissed it within the grace period
type EscalationMonitor struct {
	timeline *sync.Mutex
	timers   *timerRegistry
	clock    Clock
	escalate FireFunc
	journal  TimerJournal
	onError  ErrorHandler
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewEscalationMonitor creates a monitor sharing timeline with the scheduler
func NewEscalationMonitor(timeline *sync.Mutex, clock Clock, escalate FireFunc, journal TimerJournal, logger *zap.Logger, m *metrics.Metrics) *EscalationMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationMonitor{
		timeline: timeline,
		timers:   newTimerRegistry(clock),
		clock:    clock,
		escalate: escalate,
		journal:  journal,
		logger:   logger,
		metrics:  m,
	}
}

// OnError sets the handler for escalation failures
func (m *EscalationMonitor) OnError(h ErrorHandler) {
	m.onError = h
}

// Arm schedules the escalation check for alertID after grace
func (m *EscalationMonitor) Arm(alertID string, grace time.Duration) Handle {
	return m.ArmAt(alertID, m.clock.Now().Add(grace))
}

// ArmAt schedules the escalation check for alertID at deadline. A deadline
// that already passed runs on the next timer tick.
func (m *EscalationMonitor) ArmAt(alertID string, deadline time.Time) Handle {
	if m.journal != nil {
		if err := m.journal.Record(journalEscalation, alertID, deadline); err != nil {
			m.logger.Warn("Failed to journal escalation", zap.String("alert_id", alertID), zap.Error(err))
		}
	}

	h := m.timers.arm(alertID, deadline, func() {
		m.timeline.Lock()
		defer m.timeline.Unlock()

		if err := m.run(alertID); err != nil {
			if m.onError != nil {
				m.onError(alertID, err)
			} else {
				m.logger.Error("Escalation failed", zap.String("alert_id", alertID), zap.Error(err))
			}
		}
		m.metrics.SetPendingTimers("escalation", m.timers.size())
	})
	m.metrics.SetPendingTimers("escalation", m.timers.size())
	return h
}

func (m *EscalationMonitor) run(alertID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while escalating alert %s: %v", alertID, r)
		}
	}()

	if m.journal != nil {
		if jerr := m.journal.Forget(journalEscalation, alertID); jerr != nil {
			m.logger.Warn("Failed to clear escalation journal entry", zap.String("alert_id", alertID), zap.Error(jerr))
		}
	}
	return m.escalate(context.Background(), alertID)
}

// Disarm cancels the pending escalation for alertID, if any
func (m *EscalationMonitor) Disarm(alertID string) {
	m.timers.cancel(alertID)
	if m.journal != nil {
		if err := m.journal.Forget(journalEscalation, alertID); err != nil {
			m.logger.Warn("Failed to clear escalation journal entry", zap.String("alert_id", alertID), zap.Error(err))
		}
	}
	m.metrics.SetPendingTimers("escalation", m.timers.size())
}

// Armed reports whether an escalation is pending for alertID
func (m *EscalationMonitor) Armed(alertID string) bool {
	_, ok := m.timers.pending(alertID)
	return ok
}

// Len returns the number of pending escalations
func (m *EscalationMonitor) Len() int {
	return m.timers.size()
}

// Stop cancels every escalation but keeps the journal
func (m *EscalationMonitor) Stop() {
	m.timers.stopAll()
	m.metrics.SetPendingTimers("escalation", 0)
}
