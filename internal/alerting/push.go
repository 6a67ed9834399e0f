package alerting

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/gmsas95/careminder/internal/errors"
	"google.golang.org/api/option"
)

// PushSender sends one FCM message
type PushSender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// NewFirebaseSender initializes an FCM client from a service account file
func NewFirebaseSender(ctx context.Context, credentialsPath string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Messaging client: %w", err)
	}
	return client, nil
}

// Push delivers alerts to caregiver devices through Firebase Cloud Messaging
type Push struct {
	sender PushSender
	tokens []string
}

func NewPush(sender PushSender, deviceTokens []string) *Push {
	return &Push{sender: sender, tokens: deviceTokens}
}

func (p *Push) Name() string      { return "push" }
func (p *Push) Kind() ChannelKind { return KindVisual }

func (p *Push) Available() bool {
	return p.sender != nil && len(p.tokens) > 0
}

// Message builds the FCM message for one device. Alerts that require
// dismissal stay in the notification tray until the caregiver clears them.
func (p *Push) Message(token string, d Delivery) *messaging.Message {
	title := "Care reminder"
	if d.Reminder {
		title = "Care reminder (repeat)"
	}

	androidPriority := "normal"
	notifPriority := messaging.PriorityDefault
	if d.Priority.ForcesDualChannel() {
		androidPriority = "high"
		notifPriority = messaging.PriorityHigh
	}

	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  d.Message,
		},
		Data: map[string]string{
			"type":               "care_alert",
			"alert_id":           d.AlertID,
			"subject_id":         d.SubjectID,
			"priority":           string(d.Priority),
			"requires_dismissal": strconv.FormatBool(d.Params.RequiresDismissal),
		},
		Android: &messaging.AndroidConfig{
			Priority: androidPriority,
			Notification: &messaging.AndroidNotification{
				Priority:     notifPriority,
				ChannelID:    "care_alerts",
				DefaultSound: true,
				Sticky:       d.Params.RequiresDismissal,
			},
		},
	}
}

// Deliver sends to every device; it fails only when no device received it.
func (p *Push) Deliver(ctx context.Context, d Delivery) error {
	if !p.Available() {
		return errors.ErrChannelUnavailable
	}

	var errs []error
	for _, token := range p.tokens {
		if _, err := p.sender.Send(ctx, p.Message(token, d)); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(p.tokens) {
		return fmt.Errorf("error sending alert push: %w", stderrors.Join(errs...))
	}
	return nil
}
