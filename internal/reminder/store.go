package reminder

import (
	"context"
	"errors"
	"sort"

	"github.com/gmsas95/careminder/internal/store"
)

// Repository persists alerts, events and plans. Getters return nil, nil when
// nothing matches.
type Repository interface {
	SaveAlert(ctx context.Context, alert *ScheduledAlert) error
	GetAlert(ctx context.Context, id string) (*ScheduledAlert, error)
	DeleteAlert(ctx context.Context, id string) error
	ActiveAlerts(ctx context.Context) ([]ScheduledAlert, error)

	SaveEvent(ctx context.Context, event *CareActionEvent) error
	GetEventByOccurrence(ctx context.Context, occurrenceID string) (*CareActionEvent, error)
	PendingEvents(ctx context.Context, subjectID string) ([]CareActionEvent, error)
	DeleteEvent(ctx context.Context, id string) error

	SaveRecurrence(ctx context.Context, plan *RecurrencePlan, alerts []*ScheduledAlert, events []*CareActionEvent) error
	Plans(ctx context.Context) ([]RecurrencePlan, error)
}

// StoreRepository implements Repository over the keyed store
type StoreRepository struct {
	store *store.Store
}

// NewStoreRepository migrates the reminder tables and returns the repository
func NewStoreRepository(st *store.Store) (*StoreRepository, error) {
	if err := st.Migrate(&ScheduledAlert{}, &CareActionEvent{}, &RecurrencePlan{}); err != nil {
		return nil, err
	}
	return &StoreRepository{store: st}, nil
}

func (r *StoreRepository) SaveAlert(ctx context.Context, alert *ScheduledAlert) error {
	return r.store.Put(ctx, alert)
}

func (r *StoreRepository) GetAlert(ctx context.Context, id string) (*ScheduledAlert, error) {
	var alert ScheduledAlert
	if err := r.store.GetByID(ctx, &alert, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &alert, nil
}

func (r *StoreRepository) DeleteAlert(ctx context.Context, id string) error {
	return r.store.DeleteByID(ctx, &ScheduledAlert{}, id)
}

// ActiveAlerts returns SCHEDULED and SENT alerts in insertion order
func (r *StoreRepository) ActiveAlerts(ctx context.Context) ([]ScheduledAlert, error) {
	var alerts []ScheduledAlert
	for _, status := range []AlertStatus{AlertScheduled, AlertSent} {
		var batch []ScheduledAlert
		if err := r.store.GetByIndex(ctx, &batch, "status", string(status), ""); err != nil {
			return nil, err
		}
		alerts = append(alerts, batch...)
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if !alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
		}
		return alerts[i].Sequence < alerts[j].Sequence
	})
	return alerts, nil
}

func (r *StoreRepository) SaveEvent(ctx context.Context, event *CareActionEvent) error {
	return r.store.Put(ctx, event)
}

func (r *StoreRepository) GetEventByOccurrence(ctx context.Context, occurrenceID string) (*CareActionEvent, error) {
	var events []CareActionEvent
	if err := r.store.GetByIndex(ctx, &events, "occurrence_id", occurrenceID, ""); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (r *StoreRepository) PendingEvents(ctx context.Context, subjectID string) ([]CareActionEvent, error) {
	var events []CareActionEvent
	if err := r.store.GetByIndex(ctx, &events, "subject_id", subjectID, "scheduled_at ASC"); err != nil {
		return nil, err
	}

	pending := events[:0]
	for _, ev := range events {
		if ev.Pending() {
			pending = append(pending, ev)
		}
	}
	return pending, nil
}

func (r *StoreRepository) DeleteEvent(ctx context.Context, id string) error {
	return r.store.DeleteByID(ctx, &CareActionEvent{}, id)
}

// SaveRecurrence writes the plan and every alert/event pair in one transaction
func (r *StoreRepository) SaveRecurrence(ctx context.Context, plan *RecurrencePlan, alerts []*ScheduledAlert, events []*CareActionEvent) error {
	return r.store.Transaction(ctx, func(tx *store.Store) error {
		if plan != nil {
			if err := tx.Put(ctx, plan); err != nil {
				return err
			}
		}
		for _, a := range alerts {
			if err := tx.Put(ctx, a); err != nil {
				return err
			}
		}
		for _, ev := range events {
			if err := tx.Put(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *StoreRepository) Plans(ctx context.Context) ([]RecurrencePlan, error) {
	var plans []RecurrencePlan
	if err := r.store.GetAll(ctx, &plans, "subject_id ASC, kind ASC"); err != nil {
		return nil, err
	}
	return plans, nil
}
