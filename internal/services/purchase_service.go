package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"transit-ticket/internal/messaging"
	"transit-ticket/internal/status"
	"transit-ticket/models"
	"transit-ticket/monitoring"
)

const purchaseKeyTTL = 24 * time.Hour

// TicketCreator is the slice of the lifecycle engine purchases need.
type TicketCreator interface {
	CreateBatch(ctx context.Context, ownerID string, kind models.Kind, qty int) ([]*models.Ticket, error)
}

type PurchaseServiceOptions struct {
	PaymentChannel string
	Monitor        *monitoring.Monitor
	Logger         *slog.Logger
}

// PurchaseService turns captured-payment notifications into tickets. Each
// payment id is processed at most once, guarded by a Redis key.
type PurchaseService struct {
	redis     *redis.Client
	tickets   TicketCreator
	dashboard messaging.Publisher
	opts      PurchaseServiceOptions
	logger    *slog.Logger
}

func NewPurchaseService(redisClient *redis.Client, tickets TicketCreator, dashboard messaging.Publisher, opts PurchaseServiceOptions) *PurchaseService {
	if opts.PaymentChannel == "" {
		opts.PaymentChannel = "bank-payment-notifications"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PurchaseService{
		redis:     redisClient,
		tickets:   tickets,
		dashboard: dashboard,
		opts:      opts,
		logger:    logger.With("component", "purchase"),
	}
}

// HandleNotification is the subscriber callback for the payment channel.
func (s *PurchaseService) HandleNotification(ctx context.Context, body any) {
	var n models.PaymentNotification
	if err := messaging.Decode(body, &n); err != nil {
		s.logger.Warn("Dropping malformed payment notification", "error", err)
		s.opts.Monitor.TrackPurchase("malformed")
		return
	}

	tickets, err := s.Process(ctx, n)
	switch {
	case err == nil:
		s.opts.Monitor.TrackPurchase("created")
	case errors.Is(err, status.ErrDuplicatePayment):
		s.logger.Info("Ignoring replayed payment", "payment_id", n.PaymentID)
		s.opts.Monitor.TrackPurchase("duplicate")
	case errors.Is(err, status.ErrPaymentNotSucceeded):
		s.opts.Monitor.TrackPurchase("ignored")
	default:
		s.logger.Error("Failed to process payment", "payment_id", n.PaymentID, "owner_id", n.UserID, "created", len(tickets), "error", err)
		s.opts.Monitor.TrackPurchase("failed")
	}
}

// Process verifies n and creates its tickets.
func (s *PurchaseService) Process(ctx context.Context, n models.PaymentNotification) ([]*models.Ticket, error) {
	if !strings.EqualFold(n.Status, models.PaymentSucceeded) && !strings.EqualFold(n.Status, "success") {
		return nil, status.ErrPaymentNotSucceeded
	}
	if n.PaymentID == "" || n.UserID == "" {
		return nil, fmt.Errorf("%w: payment_id and user_id are required", status.ErrMalformedMessage)
	}

	kind := models.NormalizeKind(n.Kind)
	qty := max(n.Quantity, 1)
	expected := ExpectedAmount(kind, qty)

	currency := n.Currency
	if currency == "" {
		currency = models.Currency
	}
	if !strings.EqualFold(currency, models.Currency) || !n.Amount.Equal(expected) {
		return nil, fmt.Errorf("%w: got %s %s, want %s %s",
			status.ErrAmountMismatch, n.Amount.StringFixed(2), currency, expected.StringFixed(2), models.Currency)
	}

	key := purchaseKey(n.PaymentID)
	acquired, err := s.redis.SetNX(ctx, key, "processing", purchaseKeyTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("claim payment %s: %w", n.PaymentID, err)
	}
	if !acquired {
		return nil, status.ErrDuplicatePayment
	}

	tickets, err := s.tickets.CreateBatch(ctx, n.UserID, kind, qty)
	if err != nil {
		if len(tickets) == 0 {
			// Nothing was created; let a redelivery try again.
			if delErr := s.redis.Del(ctx, key).Err(); delErr != nil {
				s.logger.Error("Failed to release payment claim, redelivery is blocked until it expires",
					"payment_id", n.PaymentID, "ttl", purchaseKeyTTL, "error", delErr)
			}
		}
		return tickets, err
	}

	if err := s.redis.Set(ctx, key, "completed", purchaseKeyTTL).Err(); err != nil {
		s.logger.Warn("Failed to mark payment completed", "payment_id", n.PaymentID, "error", err)
	}

	s.logger.Info("Payment processed", "payment_id", n.PaymentID, "owner_id", n.UserID, "type", kind, "quantity", qty)
	s.notifyOwner(ctx, n.PaymentID, n.UserID, kind, tickets)
	return tickets, nil
}

// Simulate publishes a succeeded payment on the payment channel, as the
// provider would. Development only.
func (s *PurchaseService) Simulate(ctx context.Context, publisher messaging.Publisher, ownerID string, kind models.Kind, qty int) (models.PaymentNotification, error) {
	kind = models.NormalizeKind(string(kind))
	qty = max(qty, 1)

	n := models.PaymentNotification{
		PaymentID: "sim_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		UserID:    ownerID,
		Kind:      string(kind),
		Quantity:  qty,
		Amount:    ExpectedAmount(kind, qty),
		Currency:  models.Currency,
		Status:    models.PaymentSucceeded,
		PaidAt:    models.FormatTime(time.Now()),
	}
	if err := publisher.Publish(ctx, s.opts.PaymentChannel, n, false); err != nil {
		return n, err
	}
	return n, nil
}

func (s *PurchaseService) notifyOwner(ctx context.Context, paymentID, ownerID string, kind models.Kind, tickets []*models.Ticket) {
	if s.dashboard == nil {
		return
	}
	ids := make([]string, 0, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.ID)
	}
	err := s.dashboard.Publish(ctx, DashboardChannel(ownerID), map[string]any{
		"type":       "payment_success",
		"payment_id": paymentID,
		"kind":       kind,
		"ticket_ids": ids,
	}, false)
	if err != nil {
		s.logger.Warn("Failed to notify owner", "payment_id", paymentID, "owner_id", ownerID, "error", err)
		s.opts.Monitor.TrackPublishFailure("pubnub")
	}
}

// ExpectedAmount is the EUR total for qty tickets of kind.
func ExpectedAmount(kind models.Kind, qty int) decimal.Decimal {
	return kind.Price().Mul(decimal.NewFromInt(int64(qty)))
}

func purchaseKey(paymentID string) string {
	return fmt.Sprintf("purchase:%s", paymentID)
}
