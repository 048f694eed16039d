package messaging

import (
	"context"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go/v7"
)

type PubNubOptions struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
	UserID       string
}

func NewPubNub(opts PubNubOptions) *pubnub.PubNub {
	cfg := pubnub.NewConfigWithUserId(pubnub.UserId(opts.UserID))
	cfg.PublishKey = opts.PublishKey
	cfg.SubscribeKey = opts.SubscribeKey
	cfg.SecretKey = opts.SecretKey
	return pubnub.NewPubNub(cfg)
}

// PubNubPublisher publishes to PubNub channels. retained maps to message
// storage so late dashboard subscribers can fetch history.
type PubNubPublisher struct {
	pn *pubnub.PubNub
}

func NewPubNubPublisher(pn *pubnub.PubNub) *PubNubPublisher {
	return &PubNubPublisher{pn: pn}
}

func (p *PubNubPublisher) Publish(ctx context.Context, channel string, payload any, retained bool) error {
	_, _, err := p.pn.PublishWithContext(ctx).
		Channel(channel).
		Message(payload).
		ShouldStore(retained).
		Execute()
	if err != nil {
		return fmt.Errorf("pubnub publish %s: %w", channel, err)
	}
	return nil
}

// PubNubSubscriber delivers messages from a set of channels to a handler.
type PubNubSubscriber struct {
	pn       *pubnub.PubNub
	listener *pubnub.Listener
	channels []string
	logger   *slog.Logger
}

func NewPubNubSubscriber(pn *pubnub.PubNub, channels []string, logger *slog.Logger) *PubNubSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &PubNubSubscriber{
		pn:       pn,
		listener: pubnub.NewListener(),
		channels: channels,
		logger:   logger.With("component", "pubnub"),
	}
}

// Run subscribes and dispatches each message to handle in its own
// goroutine until ctx is done.
func (s *PubNubSubscriber) Run(ctx context.Context, handle func(context.Context, any)) {
	s.pn.AddListener(s.listener)
	s.pn.Subscribe().
		Channels(s.channels).
		Execute()

	defer func() {
		s.pn.Unsubscribe().Channels(s.channels).Execute()
		s.pn.RemoveListener(s.listener)
		s.logger.Info("Closed subscription", "channels", s.channels)
	}()

	for {
		select {
		case status := <-s.listener.Status:
			s.logStatus(status)

		case message := <-s.listener.Message:
			if message == nil {
				continue
			}
			go handle(ctx, message.Message)

		case <-s.listener.Presence:

		case <-ctx.Done():
			return
		}
	}
}

func (s *PubNubSubscriber) logStatus(status *pubnub.PNStatus) {
	if status == nil {
		return
	}
	switch status.Category {
	case pubnub.PNConnectedCategory:
		s.logger.Info("Connected", "channels", s.channels)

	case pubnub.PNReconnectedCategory:
		s.logger.Info("Reconnected", "channels", s.channels)

	case pubnub.PNDisconnectedCategory:
		s.logger.Warn("Disconnected")

	case pubnub.PNAccessDeniedCategory:
		s.logger.Error("Access denied", "channels", s.channels)

	case pubnub.PNBadRequestCategory:
		s.logger.Error("Bad request")

	case pubnub.PNReconnectionAttemptsExhausted:
		s.logger.Error("Reconnection attempts exhausted")

	case pubnub.PNTimeoutCategory:
		s.logger.Warn("Timeout")

	case pubnub.PNAcknowledgmentCategory, pubnub.PNCancelledCategory, pubnub.PNLoopStopCategory:
		s.logger.Debug("Status", "category", status.Category)

	default:
		s.logger.Warn("Unhandled status", "category", status.Category)
	}
}
