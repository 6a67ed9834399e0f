// Package discord delivers care alerts to a caregiver Discord channel
package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gmsas95/careminder/internal/alerting"
	"github.com/gmsas95/careminder/internal/errors"
	"go.uber.org/zap"
)

// AlertActions is what caregivers can do to an alert from the channel
type AlertActions interface {
	Acknowledge(ctx context.Context, alertID string) error
	Dismiss(ctx context.Context, alertID string) error
}

// Sender is the subset of the session used for outgoing messages
type Sender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Config holds Discord bot configuration
type Config struct {
	Token     string
	Enabled   bool
	ChannelID string // alerts are posted here and commands are read from here
}

// Bot is a visual alert channel backed by a Discord bot
type Bot struct {
	session *discordgo.Session
	sender  Sender
	actions AlertActions
	config  Config
	logger  *zap.Logger
	open    bool
}

// NewBot creates a new Discord bot
func NewBot(cfg Config, actions AlertActions, logger *zap.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := &Bot{
		session: session,
		sender:  session,
		actions: actions,
		config:  cfg,
		logger:  logger,
	}

	session.AddHandler(bot.messageCreate)
	session.AddHandler(bot.ready)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	return bot, nil
}

// NewBotWithSender creates a bot over an arbitrary sender; it is treated as
// connected.
func NewBotWithSender(sender Sender, cfg Config, actions AlertActions, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{sender: sender, actions: actions, config: cfg, logger: logger, open: true}
}

// SetActions wires the command handler after construction
func (b *Bot) SetActions(actions AlertActions) {
	b.actions = actions
}

// Start opens the gateway connection
func (b *Bot) Start() error {
	if b.session == nil {
		return nil
	}
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord connection: %w", err)
	}
	b.open = true

	b.logger.Info("Discord bot started",
		zap.String("username", b.session.State.User.Username),
	)
	return nil
}

// Stop closes the gateway connection
func (b *Bot) Stop() error {
	if b.session == nil || !b.open {
		return nil
	}
	b.open = false
	return b.session.Close()
}

func (b *Bot) Name() string                { return "discord" }
func (b *Bot) Kind() alerting.ChannelKind { return alerting.KindVisual }

func (b *Bot) Available() bool {
	return b.open && b.config.ChannelID != ""
}

// Deliver posts the alert to the caregiver channel
func (b *Bot) Deliver(ctx context.Context, d alerting.Delivery) error {
	if !b.Available() {
		return errors.ErrChannelUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := b.sender.ChannelMessageSend(b.config.ChannelID, formatAlert(d), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord delivery failed: %w", err)
	}
	return nil
}

func formatAlert(d alerting.Delivery) string {
	prefix := "🔔"
	switch d.Priority {
	case alerting.PriorityCritical:
		prefix = "🚨"
	case alerting.PriorityHigh:
		prefix = "⚠️"
	}
	text := fmt.Sprintf("%s **%s** %s", prefix, d.Priority, d.Message)
	if d.Params.RequiresDismissal {
		text += fmt.Sprintf("\n`/ack %s`", d.AlertID)
	}
	return text
}

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("Discord bot ready",
		zap.String("username", s.State.User.Username),
		zap.Int("guilds", len(event.Guilds)),
	)
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	if m.ChannelID != b.config.ChannelID {
		return
	}

	content := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(content, "/") {
		return
	}

	if reply := b.handleCommand(content); reply != "" {
		if _, err := b.sender.ChannelMessageSend(m.ChannelID, reply); err != nil {
			b.logger.Warn("Failed to reply", zap.Error(err))
		}
	}
}

// handleCommand runs one caregiver command and returns the reply text
func (b *Bot) handleCommand(cmd string) string {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return ""
	}

	switch parts[0] {
	case "/help":
		return `**Careminder**

• "/ack <alert id>" - Acknowledge an alert
• "/dismiss <alert id>" - Dismiss an alert`

	case "/ack", "/dismiss":
		if len(parts) < 2 {
			return fmt.Sprintf("Usage: %s <alert id>", parts[0])
		}
		if b.actions == nil {
			return "❌ Alert actions are not available."
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		alertID := parts[1]
		var err error
		verb := "acknowledged"
		if parts[0] == "/ack" {
			err = b.actions.Acknowledge(ctx, alertID)
		} else {
			verb = "dismissed"
			err = b.actions.Dismiss(ctx, alertID)
		}
		if err != nil {
			b.logger.Warn("Alert command failed", zap.String("alert_id", alertID), zap.Error(err))
			return "❌ " + err.Error()
		}
		return fmt.Sprintf("✅ Alert %s %s.", alertID, verb)
	}
	return ""
}
