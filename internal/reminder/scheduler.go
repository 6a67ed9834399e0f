package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gmsas95/careminder/internal/metrics"
	"go.uber.org/zap"
)

// TimerJournal persists the next fire instant of armed timers
type TimerJournal interface {
	Record(kind, id string, fireAt time.Time) error
	Forget(kind, id string) error
	Entries(kind string) (map[string]time.Time, error)
}

const (
	journalAlert      = "alert"
	journalEscalation = "escalation"
)

// FireFunc delivers the alert with the given id
type FireFunc func(ctx context.Context, alertID string) error

// ErrorHandler receives failures from timers that fired asynchronously
type ErrorHandler func(alertID string, err error)

// Scheduler owns the pending alert timers
type Scheduler struct {
	timeline *sync.Mutex
	timers   *timerRegistry
	clock    Clock
	fire     FireFunc
	journal  TimerJournal
	onError  ErrorHandler
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewScheduler creates a scheduler. timeline is shared with the escalation
// monitor so that timer callbacks never interleave.
func NewScheduler(timeline *sync.Mutex, clock Clock, fire FireFunc, journal TimerJournal, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		timeline: timeline,
		timers:   newTimerRegistry(clock),
		clock:    clock,
		fire:     fire,
		journal:  journal,
		logger:   logger,
		metrics:  m,
	}
}

// OnError sets the handler for asynchronous fire failures
func (s *Scheduler) OnError(h ErrorHandler) {
	s.onError = h
}

// Schedule arms a timer that fires alertID at fireAt, replacing any pending
// timer for the same id. When fireAt is not in the future the alert fires
// before Schedule returns and the fire error is returned.
func (s *Scheduler) Schedule(ctx context.Context, alertID string, fireAt time.Time) (Handle, error) {
	if !fireAt.After(s.clock.Now()) {
		s.CancelID(alertID)

		s.timeline.Lock()
		defer s.timeline.Unlock()
		return Handle{ID: alertID}, s.run(ctx, alertID)
	}

	if s.journal != nil {
		if err := s.journal.Record(journalAlert, alertID, fireAt); err != nil {
			s.logger.Warn("Failed to journal alert timer", zap.String("alert_id", alertID), zap.Error(err))
		}
	}

	h := s.timers.arm(alertID, fireAt, func() {
		s.timeline.Lock()
		defer s.timeline.Unlock()

		if err := s.run(context.Background(), alertID); err != nil {
			s.report(alertID, err)
		}
		s.metrics.SetPendingTimers("scheduler", s.timers.size())
	})
	s.metrics.SetPendingTimers("scheduler", s.timers.size())

	s.logger.Debug("Alert armed", zap.String("alert_id", alertID), zap.Time("fire_at", fireAt))
	return h, nil
}

// run fires one alert. Callers hold the timeline lock.
func (s *Scheduler) run(ctx context.Context, alertID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while firing alert %s: %v", alertID, r)
		}
	}()

	if s.journal != nil {
		if jerr := s.journal.Forget(journalAlert, alertID); jerr != nil {
			s.logger.Warn("Failed to clear alert journal entry", zap.String("alert_id", alertID), zap.Error(jerr))
		}
	}
	return s.fire(ctx, alertID)
}

func (s *Scheduler) report(alertID string, err error) {
	if s.onError != nil {
		s.onError(alertID, err)
		return
	}
	s.logger.Error("Alert fire failed", zap.String("alert_id", alertID), zap.Error(err))
}

// Cancel stops the timer behind h. Cancelling a fired, replaced or already
// cancelled timer does nothing.
func (s *Scheduler) Cancel(h Handle) {
	if s.timers.cancelHandle(h) {
		s.forget(h.ID)
	}
}

// CancelID stops whatever timer is pending for alertID
func (s *Scheduler) CancelID(alertID string) {
	s.timers.cancel(alertID)
	s.forget(alertID)
}

func (s *Scheduler) forget(alertID string) {
	if s.journal != nil {
		if err := s.journal.Forget(journalAlert, alertID); err != nil {
			s.logger.Warn("Failed to clear alert journal entry", zap.String("alert_id", alertID), zap.Error(err))
		}
	}
	s.metrics.SetPendingTimers("scheduler", s.timers.size())
}

// Pending reports the fire instant of alertID's timer, if one is armed
func (s *Scheduler) Pending(alertID string) (time.Time, bool) {
	return s.timers.pending(alertID)
}

// Len returns the number of armed timers
func (s *Scheduler) Len() int {
	return s.timers.size()
}

// Stop cancels every timer but keeps their journal entries for the next start
func (s *Scheduler) Stop() {
	s.timers.stopAll()
	s.metrics.SetPendingTimers("scheduler", 0)
}
