package reminder

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gmsas95/careminder/internal/alerting"
	"github.com/gmsas95/careminder/internal/errors"
	"github.com/gmsas95/careminder/internal/metrics"
	"go.uber.org/zap"
)

// Notifier delivers one alert across channels
type Notifier interface {
	Emit(ctx context.Context, d alerting.Delivery, dual bool) *alerting.EmitResult
}

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Clock           Clock
	Windows         Windows
	EscalationGrace time.Duration
	Journal         TimerJournal
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

// Engine is the reminder and adherence service. Build one per process, call
// Init before use and Shutdown on exit.
type Engine struct {
	// mu guards every read-modify-write of alerts and events. Timer callbacks
	// take the timeline lock first, then mu.
	mu       sync.Mutex
	timeline sync.Mutex
	closed   bool

	repo      Repository
	notifier  Notifier
	scheduler *Scheduler
	monitor   *EscalationMonitor
	clock     Clock
	windows   Windows
	grace     time.Duration
	journal   TimerJournal
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewEngine wires the scheduler and escalation monitor around repo and notifier
func NewEngine(repo Repository, notifier Notifier, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Windows == nil {
		opts.Windows = DefaultWindows()
	}
	if opts.EscalationGrace <= 0 {
		opts.EscalationGrace = DefaultEscalationGrace
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	e := &Engine{
		repo:     repo,
		notifier: notifier,
		clock:    opts.Clock,
		windows:  opts.Windows,
		grace:    opts.EscalationGrace,
		journal:  opts.Journal,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	e.scheduler = NewScheduler(&e.timeline, e.clock, e.fire, e.journal, e.logger, e.metrics)
	e.monitor = NewEscalationMonitor(&e.timeline, e.clock, e.escalate, e.journal, e.logger, e.metrics)

	onError := func(alertID string, err error) {
		e.logger.Error("Timer callback failed",
			zap.String("alert_id", alertID),
			zap.String("code", errors.GetCode(err)),
			zap.Error(err),
		)
	}
	e.scheduler.OnError(onError)
	e.monitor.OnError(onError)

	return e
}

// Scheduler exposes the alert scheduler
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }

// Escalations exposes the escalation monitor
func (e *Engine) Escalations() *EscalationMonitor { return e.monitor }

// ScheduleRecurrence validates spec, creates one alert/event pair per
// generated instant and arms a timer for each. Nothing is created when
// validation or persistence fails.
func (e *Engine) ScheduleRecurrence(ctx context.Context, subjectID string, spec RecurrenceSpec) error {
	_, err := e.scheduleFrom(ctx, subjectID, spec, e.clock.Now())
	return err
}

func (e *Engine) scheduleFrom(ctx context.Context, subjectID string, spec RecurrenceSpec, from time.Time) (int, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return 0, errors.Validationf("subject id is required")
	}

	occs, err := GenerateOccurrences(spec, from)
	if err != nil {
		return 0, err
	}

	alerts, err := e.persistOccurrences(ctx, subjectID, spec, occs)
	if err != nil {
		return 0, err
	}

	var errs []error
	for _, a := range alerts {
		if _, err := e.scheduler.Schedule(ctx, a.ID, a.ScheduledAt); err != nil {
			errs = append(errs, err)
		}
	}

	e.metrics.RecordScheduled(string(spec.Kind), len(alerts))
	e.logger.Info("Recurrence scheduled",
		zap.String("subject_id", subjectID),
		zap.String("kind", string(spec.Kind)),
		zap.Int("occurrences", len(alerts)),
	)

	if len(errs) > 0 {
		return len(alerts), errors.NotificationFailed("alert delivery failed during scheduling", stderrors.Join(errs...))
	}
	return len(alerts), nil
}

// persistOccurrences writes the plan and the new alert/event pairs in one
// transaction. Occurrences already closed or already fired are left alone.
func (e *Engine) persistOccurrences(ctx context.Context, subjectID string, spec RecurrenceSpec, occs []Occurrence) ([]*ScheduledAlert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	alerts := make([]*ScheduledAlert, 0, len(occs))
	events := make([]*CareActionEvent, 0, len(occs))

	for i, occ := range occs {
		id := OccurrenceID(subjectID, spec.Kind, occ.At)

		existing, err := e.repo.GetEventByOccurrence(ctx, id)
		if err != nil {
			return nil, e.notificationFailed("failed to load occurrence", err)
		}
		if existing != nil && !existing.Pending() {
			continue
		}
		prior, err := e.repo.GetAlert(ctx, id)
		if err != nil {
			return nil, e.notificationFailed("failed to load alert", err)
		}
		if prior != nil && prior.Status != AlertScheduled {
			continue
		}

		alert := NewScheduledAlert(id, subjectID, spec.Kind, occ, i, now)
		event := NewCareActionEvent(alert)
		if existing != nil {
			event.CreatedAt = existing.CreatedAt
			alert.CreatedAt = existing.CreatedAt
		}
		alerts = append(alerts, alert)
		events = append(events, event)
	}

	plan := NewRecurrencePlan(subjectID, spec)
	plan.HorizonEnd = now
	if len(occs) > 0 {
		plan.HorizonEnd = occs[len(occs)-1].At
	}

	if err := e.repo.SaveRecurrence(ctx, plan, alerts, events); err != nil {
		return nil, e.notificationFailed("failed to persist recurrence", err)
	}
	return alerts, nil
}

// fire delivers one alert. It is the Scheduler's FireFunc.
func (e *Engine) fire(ctx context.Context, alertID string) error {
	e.mu.Lock()

	alert, err := e.repo.GetAlert(ctx, alertID)
	if err != nil {
		e.mu.Unlock()
		return e.notificationFailed("failed to load alert", err)
	}
	if e.closed || alert == nil || alert.Status != AlertScheduled {
		e.mu.Unlock()
		return nil
	}

	event, err := e.repo.GetEventByOccurrence(ctx, alertID)
	if err != nil {
		e.mu.Unlock()
		return e.notificationFailed("failed to load occurrence", err)
	}
	if event != nil && !event.Pending() {
		// The occurrence was closed first
		e.mu.Unlock()
		return nil
	}

	now := e.clock.Now()
	alert.Status = AlertSent
	alert.SentAt = &now

	var persistErr error
	if err := e.repo.SaveAlert(ctx, alert); err != nil {
		persistErr = e.notificationFailed("failed to persist sent alert", err)
	}
	e.monitor.Arm(alert.ID, e.grace)
	e.mu.Unlock()

	result := e.notifier.Emit(ctx, e.delivery(alert, false), alert.DualChannel)
	e.metrics.RecordFired(string(alert.Priority), now.Sub(alert.ScheduledAt))

	e.logger.Info("Alert fired",
		zap.String("alert_id", alert.ID),
		zap.String("subject_id", alert.SubjectID),
		zap.String("priority", string(alert.Priority)),
		zap.Strings("delivered", result.Delivered),
		zap.Strings("skipped", result.Skipped),
	)

	if err := result.Err(); err != nil {
		e.metrics.RecordNotificationFailure()
		e.logger.Error("Alert delivery failed",
			zap.String("alert_id", alert.ID),
			zap.String("code", errors.CodeNotificationFailed),
			zap.Error(err),
		)
		return stderrors.Join(persistErr, err)
	}
	return persistErr
}

// escalate re-emits an alert once if it is still unacknowledged. It is the
// EscalationMonitor's FireFunc.
func (e *Engine) escalate(ctx context.Context, alertID string) error {
	e.mu.Lock()

	alert, err := e.repo.GetAlert(ctx, alertID)
	if err != nil {
		e.mu.Unlock()
		return e.notificationFailed("failed to load alert", err)
	}
	if e.closed || alert == nil || alert.Status != AlertSent || alert.ReminderSent {
		e.mu.Unlock()
		return nil
	}

	alert.ReminderSent = true
	var persistErr error
	if err := e.repo.SaveAlert(ctx, alert); err != nil {
		persistErr = e.notificationFailed("failed to persist reminder flag", err)
	}
	e.mu.Unlock()

	result := e.notifier.Emit(ctx, e.delivery(alert, true), alert.DualChannel)
	e.metrics.RecordEscalation()

	e.logger.Info("Alert escalated",
		zap.String("alert_id", alert.ID),
		zap.String("subject_id", alert.SubjectID),
		zap.Strings("delivered", result.Delivered),
	)

	if err := result.Err(); err != nil {
		e.metrics.RecordNotificationFailure()
		return stderrors.Join(persistErr, err)
	}
	return persistErr
}

func (e *Engine) delivery(alert *ScheduledAlert, reminder bool) alerting.Delivery {
	msg := alert.Message
	if reminder {
		msg = "reminder: " + msg
	}
	return alerting.Delivery{
		AlertID:   alert.ID,
		SubjectID: alert.SubjectID,
		Message:   msg,
		Priority:  alert.Priority,
		Params:    alerting.Policy(alert.Priority),
		Reminder:  reminder,
		Sent:      e.clock.Now(),
	}
}

// Confirm closes the matching pending occurrence as CONFIRMED. An actualAt
// outside the adherence window is rejected and the occurrence stays PENDING.
func (e *Engine) Confirm(ctx context.Context, subjectID string, actualAt time.Time, opts ...MatchOption) (*Confirmation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	event, err := e.match(ctx, subjectID, actualAt, opts)
	if err != nil {
		return nil, err
	}

	window := e.windows.For(event.Kind)
	if !window.Contains(event.ScheduledAt, actualAt) {
		e.metrics.RecordAdherenceRejected(string(event.Kind))
		return nil, errors.Adherencef("action at %s is outside the adherence window (-%s/+%s) of the occurrence scheduled at %s",
			actualAt.Format(time.RFC3339), window.Before, window.After, event.ScheduledAt.Format(time.RFC3339))
	}

	within := true
	at := actualAt
	event.Status = EventConfirmed
	event.ActualAt = &at
	event.WithinWindow = &within
	if err := e.repo.SaveEvent(ctx, event); err != nil {
		return nil, e.notificationFailed("failed to persist confirmation", err)
	}

	e.closeAlert(ctx, event.OccurrenceID)
	e.metrics.RecordClosed(string(event.Kind), string(EventConfirmed))
	e.logger.Info("Occurrence confirmed",
		zap.String("occurrence_id", event.OccurrenceID),
		zap.String("subject_id", event.SubjectID),
		zap.Duration("offset", actualAt.Sub(event.ScheduledAt)),
	)

	return &Confirmation{
		EventID:      event.ID,
		OccurrenceID: event.OccurrenceID,
		SubjectID:    event.SubjectID,
		Kind:         event.Kind,
		ScheduledAt:  event.ScheduledAt,
		ActualAt:     actualAt,
		WithinWindow: true,
		Offset:       actualAt.Sub(event.ScheduledAt),
	}, nil
}

// Omit closes the matching pending occurrence as OMITTED. A blank
// justification is rejected before anything is looked up.
func (e *Engine) Omit(ctx context.Context, subjectID, justification string, actualAt time.Time, opts ...MatchOption) error {
	reason := strings.TrimSpace(justification)
	if reason == "" {
		return errors.New(errors.CodeJustification, "justification required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	event, err := e.match(ctx, subjectID, actualAt, opts)
	if err != nil {
		return err
	}

	within := false
	at := actualAt
	event.Status = EventOmitted
	event.ActualAt = &at
	event.WithinWindow = &within
	event.Justification = reason
	if err := e.repo.SaveEvent(ctx, event); err != nil {
		return e.notificationFailed("failed to persist omission", err)
	}

	e.closeAlert(ctx, event.OccurrenceID)
	e.metrics.RecordClosed(string(event.Kind), string(EventOmitted))
	e.logger.Info("Occurrence omitted",
		zap.String("occurrence_id", event.OccurrenceID),
		zap.String("subject_id", event.SubjectID),
	)
	return nil
}

// match finds the pending event a confirm or omit applies to. Callers hold mu.
func (e *Engine) match(ctx context.Context, subjectID string, actualAt time.Time, opts []MatchOption) (*CareActionEvent, error) {
	var o matchOptions
	for _, opt := range opts {
		opt(&o)
	}

	events, err := e.repo.PendingEvents(ctx, subjectID)
	if err != nil {
		return nil, e.notificationFailed("failed to load pending occurrences", err)
	}

	if o.kind != "" {
		filtered := events[:0]
		for _, ev := range events {
			if ev.Kind == o.kind {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	if o.occurrenceID != "" {
		for i := range events {
			if events[i].OccurrenceID == o.occurrenceID {
				return &events[i], nil
			}
		}
		return nil, errors.NotFoundf("no pending occurrence %s for subject %s", o.occurrenceID, subjectID)
	}

	event := MatchNearest(events, actualAt)
	if event == nil {
		return nil, errors.NotFoundf("no pending occurrence for subject %s", subjectID)
	}
	return event, nil
}

// closeAlert cancels the timer and escalation of an occurrence and removes
// its alert. Callers hold mu.
func (e *Engine) closeAlert(ctx context.Context, occurrenceID string) {
	e.scheduler.CancelID(occurrenceID)
	e.monitor.Disarm(occurrenceID)
	if err := e.repo.DeleteAlert(ctx, occurrenceID); err != nil {
		e.metrics.RecordNotificationFailure()
		e.logger.Error("Failed to delete closed alert",
			zap.String("occurrence_id", occurrenceID),
			zap.String("code", errors.CodeNotificationFailed),
			zap.Error(err),
		)
	}
}

// Cancel removes a pending occurrence: its timer, escalation, alert and
// pending event. Cancelling an occurrence whose action was already closed
// only clears what is left of its alert.
func (e *Engine) Cancel(ctx context.Context, occurrenceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.scheduler.CancelID(occurrenceID)
	e.monitor.Disarm(occurrenceID)

	alert, err := e.repo.GetAlert(ctx, occurrenceID)
	if err != nil {
		return e.notificationFailed("failed to load alert", err)
	}
	event, err := e.repo.GetEventByOccurrence(ctx, occurrenceID)
	if err != nil {
		return e.notificationFailed("failed to load occurrence", err)
	}
	if alert == nil && event == nil {
		return errors.NotFoundf("occurrence %s not found", occurrenceID)
	}

	if alert != nil {
		if err := e.repo.DeleteAlert(ctx, occurrenceID); err != nil {
			return e.notificationFailed("failed to delete alert", err)
		}
	}
	if event != nil && event.Pending() {
		if err := e.repo.DeleteEvent(ctx, event.ID); err != nil {
			return e.notificationFailed("failed to delete occurrence", err)
		}
	}

	e.logger.Info("Occurrence cancelled", zap.String("occurrence_id", occurrenceID))
	return nil
}

// Acknowledge marks a sent alert ACKNOWLEDGED and stops its escalation. The
// paired care action stays open.
func (e *Engine) Acknowledge(ctx context.Context, alertID string) error {
	return e.settle(ctx, alertID, AlertAcknowledged)
}

// Dismiss marks a sent or acknowledged alert DISMISSED and stops its
// escalation
func (e *Engine) Dismiss(ctx context.Context, alertID string) error {
	return e.settle(ctx, alertID, AlertDismissed)
}

func (e *Engine) settle(ctx context.Context, alertID string, to AlertStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, err := e.repo.GetAlert(ctx, alertID)
	if err != nil {
		return e.notificationFailed("failed to load alert", err)
	}
	if alert == nil {
		return errors.NotFoundf("alert %s not found", alertID)
	}

	switch {
	case alert.Status == to || alert.Status == AlertDismissed:
		return nil
	case alert.Status == AlertScheduled:
		return errors.Validationf("alert %s has not been sent yet", alertID)
	}

	now := e.clock.Now()
	alert.Status = to
	if alert.AcknowledgedAt == nil {
		alert.AcknowledgedAt = &now
	}
	if err := e.repo.SaveAlert(ctx, alert); err != nil {
		return e.notificationFailed("failed to persist alert status", err)
	}
	e.monitor.Disarm(alertID)

	e.logger.Info("Alert settled", zap.String("alert_id", alertID), zap.String("status", string(to)))
	return nil
}

// AlertsByPriority returns SCHEDULED and SENT alerts at or above minPriority,
// highest priority first, then earliest scheduled. Equal keys keep insertion
// order.
func (e *Engine) AlertsByPriority(ctx context.Context, minPriority *alerting.Priority) ([]ScheduledAlert, error) {
	alerts, err := e.repo.ActiveAlerts(ctx)
	if err != nil {
		return nil, e.notificationFailed("failed to load alerts", err)
	}

	if minPriority != nil {
		floor := minPriority.Rank()
		filtered := alerts[:0]
		for _, a := range alerts {
			if a.Priority.Rank() >= floor {
				filtered = append(filtered, a)
			}
		}
		alerts = filtered
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Priority.Rank(), alerts[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return alerts[i].ScheduledAt.Before(alerts[j].ScheduledAt)
	})
	return alerts, nil
}

// PendingEvents lists a subject's open occurrences, earliest first
func (e *Engine) PendingEvents(ctx context.Context, subjectID string) ([]CareActionEvent, error) {
	events, err := e.repo.PendingEvents(ctx, subjectID)
	if err != nil {
		return nil, e.notificationFailed("failed to load pending occurrences", err)
	}
	return events, nil
}

// Alert returns one alert by id
func (e *Engine) Alert(ctx context.Context, alertID string) (*ScheduledAlert, error) {
	alert, err := e.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, e.notificationFailed("failed to load alert", err)
	}
	if alert == nil {
		return nil, errors.NotFoundf("alert %s not found", alertID)
	}
	return alert, nil
}

// Init re-arms the timers of every active alert: scheduled alerts fire at
// their instant (immediately if it passed while the process was down), sent
// alerts without a reminder get their escalation back. Stale journal
// entries are dropped.
func (e *Engine) Init(ctx context.Context) error {
	alerts, err := e.repo.ActiveAlerts(ctx)
	if err != nil {
		return e.notificationFailed("failed to load alerts", err)
	}

	deadlines := map[string]time.Time{}
	if e.journal != nil {
		if deadlines, err = e.journal.Entries(journalEscalation); err != nil {
			e.logger.Warn("Failed to read escalation journal", zap.Error(err))
			deadlines = map[string]time.Time{}
		}
	}

	active := make(map[string]bool, len(alerts))
	var errs []error
	restored, escalations := 0, 0

	for _, a := range alerts {
		active[a.ID] = true
		switch a.Status {
		case AlertScheduled:
			if _, err := e.scheduler.Schedule(ctx, a.ID, a.ScheduledAt); err != nil {
				errs = append(errs, err)
			}
			restored++
		case AlertSent:
			if a.ReminderSent {
				continue
			}
			deadline, ok := deadlines[a.ID]
			if !ok {
				sent := a.ScheduledAt
				if a.SentAt != nil {
					sent = *a.SentAt
				}
				deadline = sent.Add(e.grace)
			}
			e.monitor.ArmAt(a.ID, deadline)
			escalations++
		}
	}

	if e.journal != nil {
		e.pruneJournal(active)
	}

	e.logger.Info("Reminder engine initialized",
		zap.Int("alerts_restored", restored),
		zap.Int("escalations_restored", escalations),
	)

	if len(errs) > 0 {
		return errors.NotificationFailed("alert delivery failed during restore", stderrors.Join(errs...))
	}
	return nil
}

func (e *Engine) pruneJournal(active map[string]bool) {
	for _, kind := range []string{journalAlert, journalEscalation} {
		entries, err := e.journal.Entries(kind)
		if err != nil {
			e.logger.Warn("Failed to read timer journal", zap.String("kind", kind), zap.Error(err))
			continue
		}
		for id := range entries {
			if active[id] {
				continue
			}
			if err := e.journal.Forget(kind, id); err != nil {
				e.logger.Warn("Failed to prune timer journal", zap.String("id", id), zap.Error(err))
			}
		}
	}
}

// Shutdown stops every timer. Journal entries are kept so the next Init can
// restore them.
func (e *Engine) Shutdown() {
	e.timeline.Lock()
	defer e.timeline.Unlock()

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.scheduler.Stop()
	e.monitor.Stop()
	e.logger.Info("Reminder engine stopped")
}

func (e *Engine) notificationFailed(msg string, err error) error {
	e.metrics.RecordNotificationFailure()
	e.logger.Error(msg, zap.String("code", errors.CodeNotificationFailed), zap.Error(err))
	return errors.NotificationFailed(msg, err)
}
