// Package telegram delivers care alerts to caregiver chats and accepts
// acknowledgement commands back.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gmsas95/careminder/internal/alerting"
	"github.com/gmsas95/careminder/internal/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AlertActions is what caregivers can do to an alert from the chat
type AlertActions interface {
	Acknowledge(ctx context.Context, alertID string) error
	Dismiss(ctx context.Context, alertID string) error
}

// Sender is the subset of the bot API used for outgoing messages
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config holds Telegram bot configuration
type Config struct {
	Token         string
	Enabled       bool
	ChatIDs       []int64 // caregiver chats that receive alerts and may send commands
	RatePerMinute int
}

// Bot is a visual alert channel backed by a Telegram bot
type Bot struct {
	api     *tgbotapi.BotAPI
	sender  Sender
	actions AlertActions
	logger  *zap.Logger
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	enabled bool
	chats   []int64
	allowed map[int64]bool
}

// NewBot creates a new Telegram bot. A disabled config yields a bot that is
// never available.
func NewBot(cfg Config, actions AlertActions, logger *zap.Logger) (*Bot, error) {
	if !cfg.Enabled || cfg.Token == "" {
		return &Bot{enabled: false, logger: zap.NewNop()}, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = false

	b := newBot(api, cfg, actions, logger)
	b.api = api
	b.logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))
	return b, nil
}

// NewBotWithSender creates a bot over an arbitrary sender. Start is a no-op
// for such bots because there is no update stream.
func NewBotWithSender(sender Sender, cfg Config, actions AlertActions, logger *zap.Logger) *Bot {
	return newBot(sender, cfg, actions, logger)
}

func newBot(sender Sender, cfg Config, actions AlertActions, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 20
	}

	allowed := make(map[int64]bool, len(cfg.ChatIDs))
	for _, id := range cfg.ChatIDs {
		allowed[id] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		sender:  sender,
		actions: actions,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), max(len(cfg.ChatIDs), 1)),
		ctx:     ctx,
		cancel:  cancel,
		enabled: true,
		chats:   cfg.ChatIDs,
		allowed: allowed,
	}
}

// SetActions wires the command handler after construction
func (b *Bot) SetActions(actions AlertActions) {
	b.actions = actions
}

func (b *Bot) Name() string                { return "telegram" }
func (b *Bot) Kind() alerting.ChannelKind { return alerting.KindVisual }

func (b *Bot) Available() bool {
	return b.enabled && len(b.chats) > 0
}

// Deliver sends the alert to every caregiver chat. It fails only when no
// chat received it.
func (b *Bot) Deliver(ctx context.Context, d alerting.Delivery) error {
	if !b.Available() {
		return errors.ErrChannelUnavailable
	}

	text := formatAlert(d)
	var lastErr error
	sent := 0
	for _, chatID := range b.chats {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := b.sendMessage(chatID, text); err != nil {
			lastErr = err
			b.logger.Warn("Failed to send alert", zap.Int64("chat_id", chatID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return fmt.Errorf("telegram delivery failed: %w", lastErr)
	}
	return nil
}

func formatAlert(d alerting.Delivery) string {
	var sb strings.Builder
	switch d.Priority {
	case alerting.PriorityCritical:
		sb.WriteString("🚨 ")
	case alerting.PriorityHigh:
		sb.WriteString("⚠️ ")
	default:
		sb.WriteString("🔔 ")
	}
	sb.WriteString(fmt.Sprintf("*%s* %s", d.Priority, d.Message))
	if d.Params.RequiresDismissal {
		sb.WriteString(fmt.Sprintf("\n\n/ack %s", d.AlertID))
	}
	return sb.String()
}

// Start starts polling for caregiver commands
func (b *Bot) Start() error {
	if !b.enabled || b.api == nil {
		return nil
	}

	b.wg.Add(1)
	go b.run()

	return nil
}

// Stop stops the bot
func (b *Bot) Stop() {
	if !b.enabled {
		return
	}

	b.cancel()
	if b.api != nil {
		b.api.StopReceivingUpdates()
	}
	b.wg.Wait()
}

func (b *Bot) run() {
	defer b.wg.Done()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.handleUpdate(update); err != nil {
				b.logger.Error("Failed to handle update", zap.Error(err))
			}
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) error {
	if update.Message == nil {
		return nil
	}

	msg := update.Message
	if len(b.allowed) > 0 && !b.allowed[msg.Chat.ID] {
		_, err := b.sendMessage(msg.Chat.ID, "⛔ This chat is not registered for care alerts.")
		return err
	}

	if msg.IsCommand() {
		return b.handleCommand(msg.Chat.ID, msg.Command(), msg.CommandArguments())
	}
	return nil
}

func (b *Bot) handleCommand(chatID int64, command, args string) error {
	alertID := strings.TrimSpace(args)

	switch command {
	case "start", "help":
		_, err := b.sendMessage(chatID, `*Careminder*

/ack <alert id> - Acknowledge an alert
/dismiss <alert id> - Dismiss an alert
/status - Show bot status`)
		return err

	case "ack", "dismiss":
		if alertID == "" {
			_, err := b.sendMessage(chatID, fmt.Sprintf("Usage: /%s <alert id>", command))
			return err
		}
		if b.actions == nil {
			_, err := b.sendMessage(chatID, "❌ Alert actions are not available.")
			return err
		}

		ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
		defer cancel()

		var err error
		if command == "ack" {
			err = b.actions.Acknowledge(ctx, alertID)
		} else {
			err = b.actions.Dismiss(ctx, alertID)
		}
		if err != nil {
			b.logger.Warn("Alert command failed",
				zap.String("command", command),
				zap.String("alert_id", alertID),
				zap.Error(err),
			)
			_, sendErr := b.sendMessage(chatID, fmt.Sprintf("❌ %v", err))
			return sendErr
		}
		_, err = b.sendMessage(chatID, fmt.Sprintf("✅ Alert %s %s.", alertID, pastTense(command)))
		return err

	case "status":
		_, err := b.sendMessage(chatID, "✅ Bot is running and delivering alerts.")
		return err

	default:
		_, err := b.sendMessage(chatID, "❓ Unknown command. Use /help for available commands.")
		return err
	}
}

func pastTense(command string) string {
	if command == "ack" {
		return "acknowledged"
	}
	return "dismissed"
}

func (b *Bot) sendMessage(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	sent, err := b.sender.Send(msg)
	if err != nil {
		// Try without markdown if it fails
		msg.ParseMode = ""
		sent, err = b.sender.Send(msg)
		if err != nil {
			return 0, err
		}
	}

	return sent.MessageID, nil
}
