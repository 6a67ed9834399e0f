package telegram

import (
	"context"
	"testing"

	"github.com/gmsas95/careminder/internal/alerting"
	"github.com/gmsas95/careminder/internal/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	failChat map[int64]bool
	sent     []tgbotapi.MessageConfig
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	if s.failChat[msg.ChatID] {
		return tgbotapi.Message{}, assert.AnError
	}
	s.sent = append(s.sent, msg)
	return tgbotapi.Message{MessageID: len(s.sent)}, nil
}

type fakeActions struct {
	acked     []string
	dismissed []string
	err       error
}

func (a *fakeActions) Acknowledge(ctx context.Context, alertID string) error {
	a.acked = append(a.acked, alertID)
	return a.err
}

func (a *fakeActions) Dismiss(ctx context.Context, alertID string) error {
	a.dismissed = append(a.dismissed, alertID)
	return a.err
}

func TestDisabledBotIsUnavailable(t *testing.T) {
	b, err := NewBot(Config{Enabled: false}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, b.Available())
	assert.NoError(t, b.Start())
	b.Stop()

	err = b.Deliver(context.Background(), alerting.Delivery{})
	assert.ErrorIs(t, err, errors.ErrChannelUnavailable)
}

func TestDeliverToEveryChat(t *testing.T) {
	sender := &fakeSender{}
	b := NewBotWithSender(sender, Config{ChatIDs: []int64{1, 2}, RatePerMinute: 600}, nil, zap.NewNop())
	require.True(t, b.Available())

	err := b.Deliver(context.Background(), alerting.Delivery{
		AlertID:  "alert-1",
		Message:  "give medication",
		Priority: alerting.PriorityHigh,
		Params:   alerting.Policy(alerting.PriorityHigh),
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 2)
	assert.Contains(t, sender.sent[0].Text, "give medication")
	assert.Contains(t, sender.sent[0].Text, "/ack alert-1")
}

func TestDeliverFailsOnlyWhenAllChatsFail(t *testing.T) {
	sender := &fakeSender{failChat: map[int64]bool{1: true}}
	b := NewBotWithSender(sender, Config{ChatIDs: []int64{1, 2}, RatePerMinute: 600}, nil, zap.NewNop())
	d := alerting.Delivery{Message: "water", Priority: alerting.PriorityLow}

	require.NoError(t, b.Deliver(context.Background(), d))

	sender.failChat[2] = true
	assert.ErrorIs(t, b.Deliver(context.Background(), d), assert.AnError)
}

func TestHandleCommand(t *testing.T) {
	sender := &fakeSender{}
	actions := &fakeActions{}
	b := NewBotWithSender(sender, Config{ChatIDs: []int64{7}}, actions, zap.NewNop())

	require.NoError(t, b.handleCommand(7, "ack", " alert-1 "))
	require.NoError(t, b.handleCommand(7, "dismiss", "alert-2"))
	require.NoError(t, b.handleCommand(7, "ack", ""))

	assert.Equal(t, []string{"alert-1"}, actions.acked)
	assert.Equal(t, []string{"alert-2"}, actions.dismissed)
	require.Len(t, sender.sent, 3)
	assert.Contains(t, sender.sent[0].Text, "acknowledged")
	assert.Contains(t, sender.sent[1].Text, "dismissed")
	assert.Contains(t, sender.sent[2].Text, "Usage")
}

func TestHandleCommandReportsFailure(t *testing.T) {
	sender := &fakeSender{}
	actions := &fakeActions{err: errors.NotFoundf("alert %s not found", "alert-1")}
	b := NewBotWithSender(sender, Config{ChatIDs: []int64{7}}, actions, zap.NewNop())

	require.NoError(t, b.handleCommand(7, "ack", "alert-1"))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Text, "NOTFOUND_001")
}
