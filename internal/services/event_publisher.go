package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"transit-ticket/internal/messaging"
	"transit-ticket/models"
	"transit-ticket/monitoring"
)

type EventPublisherOptions struct {
	// TopicFormat takes the owner id then the ticket id.
	TopicFormat string
	Timeout     time.Duration
	Monitor     *monitoring.Monitor
	Logger      *slog.Logger
	Clock       func() time.Time
}

// EventPublisher fans lifecycle events out to the device fabric and to the
// owner's dashboard channel. Publishing is fire-and-forget: the caller's
// transition is already persisted and never waits on, or fails because of,
// an event.
type EventPublisher struct {
	devices   messaging.Publisher
	dashboard messaging.Publisher
	opts      EventPublisherOptions
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewEventPublisher accepts nil for either publisher to disable that leg.
func NewEventPublisher(devices, dashboard messaging.Publisher, opts EventPublisherOptions) *EventPublisher {
	if opts.TopicFormat == "" {
		opts.TopicFormat = "bc/users/%s/tickets/%s/events"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		devices:   devices,
		dashboard: dashboard,
		opts:      opts,
		logger:    logger,
	}
}

func (p *EventPublisher) Publish(event string, t *models.Ticket) {
	if t == nil {
		return
	}
	payload := models.NewLifecycleEvent(event, t, p.opts.Clock())

	if p.devices != nil {
		topic := p.Topic(t.OwnerID, t.ID)
		p.send("mqtt", func(ctx context.Context) error {
			return p.devices.Publish(ctx, topic, payload, false)
		}, payload)
	}
	if p.dashboard != nil {
		channel := DashboardChannel(t.OwnerID)
		p.send("pubnub", func(ctx context.Context) error {
			return p.dashboard.Publish(ctx, channel, dashboardMessage(payload), false)
		}, payload)
	}
}

func (p *EventPublisher) Topic(ownerID, ticketID string) string {
	return fmt.Sprintf(p.opts.TopicFormat, ownerID, ticketID)
}

// Wait blocks until every in-flight publish has finished.
func (p *EventPublisher) Wait() {
	p.wg.Wait()
}

func (p *EventPublisher) send(kind string, fn func(context.Context) error, ev models.LifecycleEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			p.logger.Warn("Failed to publish ticket event",
				"transport", kind,
				"event", ev.Event,
				"ticket_id", ev.TicketID,
				"owner_id", ev.UserID,
				"error", err,
			)
			p.opts.Monitor.TrackPublishFailure(kind)
		}
	}()
}

// DashboardChannel is the per-owner PubNub channel.
func DashboardChannel(ownerID string) string {
	return fmt.Sprintf("user-%s", ownerID)
}

func dashboardMessage(ev models.LifecycleEvent) map[string]any {
	msg := map[string]any{
		"type":       "ticket_event",
		"event":      ev.Event,
		"ticket_id":  ev.TicketID,
		"user_id":    ev.UserID,
		"kind":       ev.Type,
		"status":     ev.Status,
		"validation": ev.ValidationStatus,
		"ts":         ev.TS,
	}
	if ev.ExpiresAt != nil {
		msg["expires_at"] = *ev.ExpiresAt
	}
	return msg
}
