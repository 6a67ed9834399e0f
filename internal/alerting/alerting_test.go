package alerting

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/gmsas95/careminder/internal/errors"
	"github.com/gmsas95/careminder/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChannel struct {
	name      string
	kind      ChannelKind
	available bool
	err       error
	panics    bool

	mu        sync.Mutex
	delivered []Delivery
}

func (f *fakeChannel) Name() string      { return f.name }
func (f *fakeChannel) Kind() ChannelKind { return f.kind }
func (f *fakeChannel) Available() bool   { return f.available }

func (f *fakeChannel) Deliver(ctx context.Context, d Delivery) error {
	if f.panics {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, d)
	return f.err
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func TestPriorityRankAndParse(t *testing.T) {
	assert.Greater(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Greater(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Equal(t, 0, Priority("URGENT").Rank())

	p, err := ParsePriority(" high ")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)

	_, err = ParsePriority("urgent")
	assert.Error(t, err)

	assert.True(t, PriorityCritical.ForcesDualChannel())
	assert.False(t, PriorityMedium.ForcesDualChannel())
}

func TestPolicyTable(t *testing.T) {
	crit := Policy(PriorityCritical)
	assert.Equal(t, 1500*time.Millisecond, crit.ToneDuration)
	assert.Len(t, crit.Vibration, 3)
	assert.True(t, crit.RequiresDismissal)

	high := Policy(PriorityHigh)
	assert.Equal(t, time.Second, high.ToneDuration)
	assert.Len(t, high.Vibration, 2)
	assert.True(t, high.RequiresDismissal)

	med := Policy(PriorityMedium)
	assert.Equal(t, 700*time.Millisecond, med.ToneDuration)
	assert.Equal(t, 800*time.Millisecond, med.Vibration[0].On)
	assert.False(t, med.RequiresDismissal)

	low := Policy(PriorityLow)
	assert.Equal(t, 500*time.Millisecond, low.ToneDuration)
	assert.Equal(t, 200*time.Millisecond, low.Vibration[0].On)
	assert.False(t, low.RequiresDismissal)

	assert.Greater(t, crit.ToneHz, high.ToneHz)
	assert.Greater(t, high.ToneHz, med.ToneHz)
	assert.Greater(t, med.ToneHz, low.ToneHz)

	// Returned slices are copies
	crit.Vibration[0].On = 0
	assert.Equal(t, 150*time.Millisecond, Policy(PriorityCritical).Vibration[0].On)
}

func TestEmitter_VisualOnlyWhenNotDual(t *testing.T) {
	visual := &fakeChannel{name: "screen", kind: KindVisual, available: true}
	audio := &fakeChannel{name: "speaker", kind: KindAudio, available: true}
	haptic := &fakeChannel{name: "wrist", kind: KindHaptic, available: true}

	e := NewEmitter(zap.NewNop(), nil, visual, audio, haptic)
	res := e.Emit(context.Background(), Delivery{AlertID: "a1", Message: "drink water", Priority: PriorityLow}, false)

	assert.Equal(t, []string{"screen"}, res.Delivered)
	assert.NoError(t, res.Err())
	assert.Equal(t, 1, visual.count())
	assert.Equal(t, 0, audio.count())
	assert.Equal(t, 0, haptic.count())
}

func TestEmitter_DualAttemptsAllAndAttachesPolicy(t *testing.T) {
	visual := &fakeChannel{name: "screen", kind: KindVisual, available: true}
	audio := &fakeChannel{name: "speaker", kind: KindAudio, available: true}
	haptic := &fakeChannel{name: "wrist", kind: KindHaptic, available: true}

	e := NewEmitter(zap.NewNop(), nil, visual, audio, haptic)
	res := e.Emit(context.Background(), Delivery{AlertID: "a1", Message: "turn patient", Priority: PriorityHigh}, true)

	assert.Equal(t, []string{"screen", "speaker", "wrist"}, res.Delivered)
	require.Equal(t, 1, audio.count())
	assert.Equal(t, Policy(PriorityHigh).ToneHz, audio.delivered[0].Params.ToneHz)
	assert.True(t, haptic.delivered[0].Params.RequiresDismissal)
}

func TestEmitter_UnavailableChannelsAreSkipped(t *testing.T) {
	m := metrics.New()
	visual := &fakeChannel{name: "screen", kind: KindVisual, available: true}
	absent := &fakeChannel{name: "speaker", kind: KindAudio, available: false}
	denied := &fakeChannel{name: "wrist", kind: KindHaptic, available: true, err: errors.ErrChannelUnavailable}

	e := NewEmitter(zap.NewNop(), m, visual, absent, denied)
	res := e.Emit(context.Background(), Delivery{AlertID: "a1", Message: "meds", Priority: PriorityCritical}, true)

	assert.Equal(t, []string{"screen"}, res.Delivered)
	assert.Equal(t, []string{"speaker", "wrist"}, res.Skipped)
	assert.Empty(t, res.Failed)
	assert.NoError(t, res.Err())
	assert.Equal(t, 0, absent.count())
}

func TestEmitter_FailureDoesNotBlockOthers(t *testing.T) {
	broken := &fakeChannel{name: "broken", kind: KindVisual, available: true, err: assert.AnError}
	panicky := &fakeChannel{name: "panicky", kind: KindAudio, available: true, panics: true}
	ok := &fakeChannel{name: "ok", kind: KindHaptic, available: true}

	e := NewEmitter(zap.NewNop(), nil, broken, panicky, ok)
	res := e.Emit(context.Background(), Delivery{AlertID: "a1", Message: "x", Priority: PriorityHigh}, true)

	assert.Equal(t, []string{"ok"}, res.Delivered)
	assert.Len(t, res.Failed, 2)

	err := res.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotificationFailed)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)
	assert.True(t, c.Available())

	err := c.Deliver(context.Background(), Delivery{
		AlertID:  "alert-9",
		Message:  "reposition patient",
		Priority: PriorityHigh,
		Params:   Policy(PriorityHigh),
		Reminder: true,
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "reposition patient")
	assert.Contains(t, buf.String(), "REMINDER")
	assert.Contains(t, buf.String(), "alert-9")
}

func TestConsoleDisabled(t *testing.T) {
	c := NewConsole(false)
	assert.False(t, c.Available())
	assert.ErrorIs(t, c.Deliver(context.Background(), Delivery{}), errors.ErrChannelUnavailable)
}

func TestSynthesizeTone(t *testing.T) {
	wav := SynthesizeTone(784, 700*time.Millisecond, 8000)

	require.Greater(t, len(wav), 44)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "data", string(wav[36:40]))

	dataSize := binary.LittleEndian.Uint32(wav[40:44])
	assert.Equal(t, uint32(5600*2), dataSize)
	assert.Equal(t, int(dataSize)+44, len(wav))
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(wav[24:28]))
}

type recordingPlayer struct {
	got []byte
	err error
}

func (p *recordingPlayer) Play(ctx context.Context, wav io.Reader) error {
	p.got, _ = io.ReadAll(wav)
	return p.err
}

func TestToneDeliver(t *testing.T) {
	player := &recordingPlayer{}
	tone := NewToneWithPlayer(player, 8000)
	require.True(t, tone.Available())
	assert.Equal(t, KindAudio, tone.Kind())

	err := tone.Deliver(context.Background(), Delivery{Priority: PriorityLow, Params: Policy(PriorityLow)})
	require.NoError(t, err)
	assert.Equal(t, 44+4000*2, len(player.got))

	assert.False(t, NewToneWithPlayer(nil, 0).Available())
}

type fakePublisher struct {
	connected bool
	err       error
	topics    []string
	payloads  [][]byte
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return p.err
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

func TestVibrationPattern(t *testing.T) {
	assert.Equal(t, []int64{150, 100, 150, 100, 150}, VibrationPattern(Policy(PriorityCritical).Vibration))
	assert.Equal(t, []int64{400, 200, 400}, VibrationPattern(Policy(PriorityHigh).Vibration))
	assert.Equal(t, []int64{800}, VibrationPattern(Policy(PriorityMedium).Vibration))
}

func TestHapticPublishesPattern(t *testing.T) {
	pub := &fakePublisher{connected: true}
	h := NewHaptic(pub, HapticOptions{Topic: "ward/3"}, zap.NewNop())
	require.True(t, h.Available())

	err := h.Deliver(context.Background(), Delivery{AlertID: "a1", Priority: PriorityCritical, Params: Policy(PriorityCritical)})
	require.NoError(t, err)
	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "ward/3", pub.topics[0])

	var payload HapticPayload
	require.NoError(t, json.Unmarshal(pub.payloads[0], &payload))
	assert.Equal(t, "a1", payload.AlertID)
	assert.Equal(t, []int64{150, 100, 150, 100, 150}, payload.PatternMS)
	assert.True(t, payload.Repeat)
}

func TestHapticBreakerOpensAfterFailures(t *testing.T) {
	pub := &fakePublisher{connected: true, err: assert.AnError}
	h := NewHaptic(pub, HapticOptions{BreakerFailures: 2, BreakerTimeout: time.Hour}, zap.NewNop())
	ctx := context.Background()
	d := Delivery{AlertID: "a1", Priority: PriorityHigh, Params: Policy(PriorityHigh)}

	assert.ErrorIs(t, h.Deliver(ctx, d), assert.AnError)
	assert.ErrorIs(t, h.Deliver(ctx, d), assert.AnError)
	assert.False(t, h.Available())

	err := h.Deliver(ctx, d)
	assert.ErrorIs(t, err, errors.ErrChannelUnavailable)
	assert.Len(t, pub.payloads, 2)
}

func TestHapticDisconnectedIsUnavailable(t *testing.T) {
	h := NewHaptic(&fakePublisher{connected: false}, HapticOptions{}, nil)
	assert.False(t, h.Available())
}

type fakeSender struct {
	fail map[string]bool
	sent []*messaging.Message
}

func (s *fakeSender) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	if s.fail[msg.Token] {
		return "", assert.AnError
	}
	s.sent = append(s.sent, msg)
	return "projects/x/messages/1", nil
}

func TestPushMessage(t *testing.T) {
	p := NewPush(&fakeSender{}, []string{"dev-1"})

	crit := p.Message("dev-1", Delivery{AlertID: "a1", SubjectID: "s1", Message: "meds", Priority: PriorityCritical, Params: Policy(PriorityCritical)})
	assert.Equal(t, "high", crit.Android.Priority)
	assert.True(t, crit.Android.Notification.Sticky)
	assert.Equal(t, "a1", crit.Data["alert_id"])
	assert.Equal(t, "true", crit.Data["requires_dismissal"])

	low := p.Message("dev-1", Delivery{AlertID: "a2", Message: "water", Priority: PriorityLow, Params: Policy(PriorityLow)})
	assert.Equal(t, "normal", low.Android.Priority)
	assert.False(t, low.Android.Notification.Sticky)
}

func TestPushDeliver(t *testing.T) {
	sender := &fakeSender{fail: map[string]bool{"dev-2": true}}
	p := NewPush(sender, []string{"dev-1", "dev-2"})
	d := Delivery{AlertID: "a1", Message: "meds", Priority: PriorityHigh, Params: Policy(PriorityHigh)}

	require.NoError(t, p.Deliver(context.Background(), d))
	assert.Len(t, sender.sent, 1)

	allFail := NewPush(&fakeSender{fail: map[string]bool{"dev-1": true}}, []string{"dev-1"})
	assert.ErrorIs(t, allFail.Deliver(context.Background(), d), assert.AnError)

	none := NewPush(sender, nil)
	assert.False(t, none.Available())
	assert.ErrorIs(t, none.Deliver(context.Background(), d), errors.ErrChannelUnavailable)
}
