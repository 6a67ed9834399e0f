// Package plan loads care plan files and applies them to the reminder engine
package plan

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gmsas95/careminder/internal/alerting"
	"github.com/gmsas95/careminder/internal/errors"
	"github.com/gmsas95/careminder/internal/reminder"
	"gopkg.in/yaml.v3"
)

// File is a care plan: the reminders each subject should receive
//
//	subjects:
//	  - id: room-12
//	    reminders:
//	      - kind: medication
//	        times: ["08:00", "20:00"]
//	        message: Metformin 500mg
//	      - kind: bathroom
//	        interval_hours: 2.5
type File struct {
	Subjects []Subject `yaml:"subjects"`
}

// Subject is one person under care
type Subject struct {
	ID        string                    `yaml:"id"`
	Name      string                    `yaml:"name,omitempty"`
	Reminders []reminder.RecurrenceSpec `yaml:"reminders"`
}

// Scheduler is the part of the engine a plan is applied to
type Scheduler interface {
	ScheduleRecurrence(ctx context.Context, subjectID string, spec reminder.RecurrenceSpec) error
}

// Load reads and validates the plan at path
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read care plan %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("care plan %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a plan document. Unknown fields are rejected so that a typo
// such as "interval_hour" does not silently fall back to a zero value.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.Validationf("invalid care plan: %v", err)
	}
	if err := f.normalize(); err != nil {
		return nil, err
	}
	return &f, nil
}

// normalize upper-cases kinds and priorities, then validates every reminder
func (f *File) normalize() error {
	seen := make(map[string]bool, len(f.Subjects))
	for i := range f.Subjects {
		s := &f.Subjects[i]
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return errors.Validationf("subject %d has no id", i+1)
		}
		if seen[s.ID] {
			return errors.Validationf("subject %s listed twice", s.ID)
		}
		seen[s.ID] = true

		kinds := make(map[reminder.Kind]bool, len(s.Reminders))
		for j := range s.Reminders {
			r := &s.Reminders[j]
			kind, err := reminder.ParseKind(string(r.Kind))
			if err != nil {
				return errors.Validationf("subject %s: %v", s.ID, err)
			}
			r.Kind = kind
			if kinds[kind] {
				return errors.Validationf("subject %s: %s listed twice", s.ID, kind)
			}
			kinds[kind] = true

			if r.Priority != "" {
				p, err := alerting.ParsePriority(string(r.Priority))
				if err != nil {
					return errors.Validationf("subject %s: %v", s.ID, err)
				}
				r.Priority = p
			}
			if err := reminder.ValidateSpec(*r); err != nil {
				return fmt.Errorf("subject %s %s: %w", s.ID, kind, err)
			}
		}
	}
	return nil
}

// Result reports what Apply did
type Result struct {
	Applied int
	Failed  map[string]error // keyed by "subject/KIND"
}

// Err joins the failures, nil when everything applied
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.Failed))
	for k := range r.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	errs := make([]error, 0, len(keys))
	for _, k := range keys {
		errs = append(errs, fmt.Errorf("%s: %w", k, r.Failed[k]))
	}
	return stderrors.Join(errs...)
}

// Apply schedules every reminder of f. A failing reminder does not stop the
// rest.
func Apply(ctx context.Context, f *File, s Scheduler) *Result {
	res := &Result{Failed: map[string]error{}}
	for _, subj := range f.Subjects {
		for _, spec := range subj.Reminders {
			if err := s.ScheduleRecurrence(ctx, subj.ID, spec); err != nil {
				res.Failed[subj.ID+"/"+string(spec.Kind)] = err
				continue
			}
			res.Applied++
		}
	}
	return res
}
