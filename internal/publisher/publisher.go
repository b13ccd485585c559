package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"publish-calendar-backend/internal/model"
)

// Publisher performs the publish action for one occurrence.
type Publisher interface {
	Publish(ctx context.Context, job *model.PublishJob) error
}

// Message is the payload delivered for a published occurrence.
type Message struct {
	ItemID       string    `json:"itemId"`
	CalendarID   string    `json:"calendarId"`
	CalendarName string    `json:"calendarName"`
	CharacterID  *string   `json:"characterId,omitempty"`
	SlotID       string    `json:"slotId"`
	ScheduledAt  time.Time `json:"scheduledAt"`
	Timezone     string    `json:"timezone"`
}

// NewMessage builds the Message for job.
func NewMessage(job *model.PublishJob) Message {
	return Message{
		ItemID:       job.Item.ID,
		CalendarID:   job.Calendar.ID,
		CalendarName: job.Calendar.Name,
		CharacterID:  job.Calendar.CharacterID,
		SlotID:       job.Slot.ID,
		ScheduledAt:  job.Item.ScheduledAt,
		Timezone:     job.Calendar.Timezone,
	}
}

// LogPublisher only logs the occurrence. It is used when push delivery is
// not configured.
type LogPublisher struct {
	Log *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, job *model.PublishJob) error {
	p.Log.InfoContext(ctx, "publishing occurrence",
		"item_id", job.Item.ID,
		"calendar_id", job.Calendar.ID,
		"calendar", job.Calendar.Name,
		"slot_id", job.Slot.ID,
		"scheduled_at", job.Item.ScheduledAt)
	return nil
}

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of Sender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (WebPushSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}

// SubscriptionStore is what WebPushPublisher needs from the store.
type SubscriptionStore interface {
	SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint, userID string) (bool, error)
}

// WebPushPublisher delivers the occurrence to every push subscription of the
// calendar owner.
type WebPushPublisher struct {
	subs    SubscriptionStore
	options *webpush.Options
	sender  Sender
	log     *slog.Logger
}

// NewWebPushPublisher creates a WebPushPublisher using the real sender.
func NewWebPushPublisher(subs SubscriptionStore, options *webpush.Options, log *slog.Logger) *WebPushPublisher {
	return &WebPushPublisher{
		subs:    subs,
		options: options,
		sender:  WebPushSender{},
		log:     log.With("component", "webpush"),
	}
}

// Publish succeeds if at least one subscription accepted the message, or if
// the owner has no subscriptions.
func (p *WebPushPublisher) Publish(ctx context.Context, job *model.PublishJob) error {
	subscriptions, err := p.subs.SubscriptionsForUser(ctx, job.Item.UserID)
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}
	if len(subscriptions) == 0 {
		p.log.Info("no push subscriptions, nothing to deliver", "user_id", job.Item.UserID, "item_id", job.Item.ID)
		return nil
	}

	payload, err := json.Marshal(NewMessage(job))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var errs []error
	delivered := 0
	for _, sub := range subscriptions {
		if err := p.send(ctx, sub, payload); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if delivered == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// send sends a single web push notification.
func (p *WebPushPublisher) send(ctx context.Context, sub model.PushSubscription, payload []byte) error {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := p.sender.Send(ctx, payload, wpSub, p.options)
	if err != nil {
		return fmt.Errorf("push to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		p.log.Info("subscription expired, deleting", "endpoint", sub.Endpoint)
		if _, err := p.subs.DeleteSubscription(ctx, sub.Endpoint, sub.UserID); err != nil {
			p.log.Error("failed to delete expired subscription", "endpoint", sub.Endpoint, "error", err)
		}
		return fmt.Errorf("push to %s: subscription expired", sub.Endpoint)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push to %s: status %d", sub.Endpoint, resp.StatusCode)
	}
	return nil
}
