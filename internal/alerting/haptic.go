package alerting

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gmsas95/careminder/internal/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Publisher sends a payload to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
}

// MQTTPublisher publishes over an MQTT broker connection
type MQTTPublisher struct {
	client mqtt.Client
}

// NewMQTTPublisher connects to broker. The client reconnects on its own after
// the first successful connection.
func NewMQTTPublisher(broker, clientID string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &MQTTPublisher{client: client}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (p *MQTTPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Disconnect closes the broker connection
func (p *MQTTPublisher) Disconnect() {
	p.client.Disconnect(250)
}

// HapticPayload is the message a wearable receives
type HapticPayload struct {
	AlertID   string  `json:"alert_id"`
	Priority  string  `json:"priority"`
	PatternMS []int64 `json:"pattern_ms"`
	Repeat    bool    `json:"repeat"`
}

// VibrationPattern flattens pulses into alternating on/off milliseconds,
// dropping a trailing zero off-segment.
func VibrationPattern(pulses []Pulse) []int64 {
	pattern := make([]int64, 0, len(pulses)*2)
	for _, p := range pulses {
		pattern = append(pattern, p.On.Milliseconds())
		if p.Off > 0 {
			pattern = append(pattern, p.Off.Milliseconds())
		}
	}
	return pattern
}

// Haptic is the wearable vibration channel
type Haptic struct {
	publisher Publisher
	topic     string
	breaker   *gobreaker.CircuitBreaker[struct{}]
	logger    *zap.Logger
}

// HapticOptions tunes the circuit breaker
type HapticOptions struct {
	Topic           string
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// NewHaptic creates a haptic channel. After BreakerFailures consecutive
// publish failures the channel reports itself unavailable for BreakerTimeout.
func NewHaptic(p Publisher, opts HapticOptions, logger *zap.Logger) *Haptic {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Topic == "" {
		opts.Topic = "careminder/haptic"
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 3
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = time.Minute
	}

	h := &Haptic{publisher: p, topic: opts.Topic, logger: logger}
	h.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "haptic",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Haptic breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return h
}

func (h *Haptic) Name() string      { return "haptic" }
func (h *Haptic) Kind() ChannelKind { return KindHaptic }

func (h *Haptic) Available() bool {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return false
	}
	return h.breaker.State() != gobreaker.StateOpen
}

func (h *Haptic) Deliver(ctx context.Context, d Delivery) error {
	if h.publisher == nil {
		return errors.ErrChannelUnavailable
	}

	payload, err := json.Marshal(HapticPayload{
		AlertID:   d.AlertID,
		Priority:  string(d.Priority),
		PatternMS: VibrationPattern(d.Params.Vibration),
		Repeat:    d.Params.RequiresDismissal,
	})
	if err != nil {
		return fmt.Errorf("failed to encode haptic payload: %w", err)
	}

	_, err = h.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, h.publisher.Publish(ctx, h.topic, payload)
	})
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Wrap(err, errors.CodeChannelUnavailable, "haptic breaker open")
	}
	return err
}
