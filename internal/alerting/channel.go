package alerting

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gmsas95/careminder/internal/errors"
	"github.com/gmsas95/careminder/internal/metrics"
	"go.uber.org/zap"
)

// ChannelKind groups channels by the sense they reach
type ChannelKind string

const (
	KindVisual ChannelKind = "visual"
	KindAudio  ChannelKind = "audio"
	KindHaptic ChannelKind = "haptic"
)

// Delivery is one alert occurrence handed to a channel
type Delivery struct {
	AlertID   string
	SubjectID string
	Message   string
	Priority  Priority
	Params    ChannelParams
	Reminder  bool
	Sent      time.Time
}

// Channel is a platform alert surface. Available reports whether the surface
// is present and permitted right now; Deliver may still return
// errors.ErrChannelUnavailable when that changes between the two calls.
type Channel interface {
	Name() string
	Kind() ChannelKind
	Available() bool
	Deliver(ctx context.Context, d Delivery) error
}

// EmitResult summarises one emission across channels
type EmitResult struct {
	Delivered []string
	Skipped   []string
	Failed    map[string]error
}

// Err folds channel failures into a single SYSTEM_NOTIFICATION_FAILED error,
// or nil when nothing failed. Skipped channels are not failures.
func (r *EmitResult) Err() error {
	if r == nil || len(r.Failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, r.Failed[name]))
	}
	return errors.NotificationFailed("alert delivery failed", stderrors.Join(errs...))
}

// Emitter fans one delivery out to the configured channels
type Emitter struct {
	channels []Channel
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewEmitter creates an emitter over the given channels
func NewEmitter(logger *zap.Logger, m *metrics.Metrics, channels ...Channel) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		channels: channels,
		timeout:  10 * time.Second,
		logger:   logger,
		metrics:  m,
	}
}

// WithTimeout sets the per-channel delivery timeout
func (e *Emitter) WithTimeout(d time.Duration) *Emitter {
	e.timeout = d
	return e
}

// Add registers another channel
func (e *Emitter) Add(ch Channel) {
	e.channels = append(e.channels, ch)
}

// Channels returns the registered channels
func (e *Emitter) Channels() []Channel {
	return append([]Channel(nil), e.channels...)
}

// Emit delivers d. Visual channels are always attempted; audio and haptic
// channels only when dual is true. Each channel runs independently: an absent,
// denied or failing channel never prevents the others.
func (e *Emitter) Emit(ctx context.Context, d Delivery, dual bool) *EmitResult {
	d.Params = Policy(d.Priority)

	result := &EmitResult{Failed: make(map[string]error)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, ch := range e.channels {
		if ch.Kind() != KindVisual && !dual {
			continue
		}
		if !ch.Available() {
			result.Skipped = append(result.Skipped, ch.Name())
			e.metrics.RecordDelivery(ch.Name(), "skipped")
			continue
		}

		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			err := e.deliver(ctx, ch, d)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Delivered = append(result.Delivered, ch.Name())
				e.metrics.RecordDelivery(ch.Name(), "ok")
			case stderrors.Is(err, errors.ErrChannelUnavailable):
				result.Skipped = append(result.Skipped, ch.Name())
				e.metrics.RecordDelivery(ch.Name(), "skipped")
				e.logger.Debug("Channel unavailable", zap.String("channel", ch.Name()), zap.Error(err))
			default:
				result.Failed[ch.Name()] = err
				e.metrics.RecordDelivery(ch.Name(), "failed")
				e.logger.Warn("Channel delivery failed",
					zap.String("channel", ch.Name()),
					zap.String("alert_id", d.AlertID),
					zap.Error(err),
				)
			}
		}(ch)
	}

	wg.Wait()
	sort.Strings(result.Delivered)
	sort.Strings(result.Skipped)
	return result
}

func (e *Emitter) deliver(ctx context.Context, ch Channel, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in channel %s: %v", ch.Name(), r)
		}
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return ch.Deliver(ctx, d)
}

// Text renders the human-readable alert line shared by text channels
func (d Delivery) Text() string {
	return fmt.Sprintf("[%s] %s", d.Priority, d.Message)
}
