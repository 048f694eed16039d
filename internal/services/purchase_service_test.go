package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"transit-ticket/internal/status"
	"transit-ticket/models"
)

type MockTicketCreator struct {
	mock.Mock
}

func (m *MockTicketCreator) CreateBatch(ctx context.Context, ownerID string, kind models.Kind, qty int) ([]*models.Ticket, error) {
	args := m.Called(ownerID, kind, qty)
	tickets, _ := args.Get(0).([]*models.Ticket)
	return tickets, args.Error(1)
}

func paidNotification() models.PaymentNotification {
	return models.PaymentNotification{
		PaymentID: "pay-1",
		UserID:    "user-1",
		Kind:      "day",
		Quantity:  2,
		Amount:    decimal.RequireFromString("10.00"),
		Currency:  "EUR",
		Status:    "succeeded",
	}
}

func TestPurchaseService_CreatesTickets(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	creator := &MockTicketCreator{}
	dashboard := &MockPublisher{}
	svc := NewPurchaseService(db, creator, dashboard, PurchaseServiceOptions{})

	created := []*models.Ticket{{ID: "t1"}, {ID: "t2"}}
	redisMock.ExpectSetNX("purchase:pay-1", "processing", 24*time.Hour).SetVal(true)
	creator.On("CreateBatch", "user-1", models.KindDay, 2).Return(created, nil).Once()
	redisMock.ExpectSet("purchase:pay-1", "completed", 24*time.Hour).SetVal("OK")
	dashboard.On("Publish", "user-user-1", mock.MatchedBy(func(payload map[string]any) bool {
		return payload["type"] == "payment_success" && payload["payment_id"] == "pay-1"
	}), false).Return(nil).Once()

	tickets, err := svc.Process(context.Background(), paidNotification())
	require.NoError(t, err)
	assert.Equal(t, created, tickets)

	creator.AssertExpectations(t)
	dashboard.AssertExpectations(t)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestPurchaseService_DuplicatePayment(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	creator := &MockTicketCreator{}
	svc := NewPurchaseService(db, creator, nil, PurchaseServiceOptions{})

	redisMock.ExpectSetNX("purchase:pay-1", "processing", 24*time.Hour).SetVal(false)

	_, err := svc.Process(context.Background(), paidNotification())
	assert.ErrorIs(t, err, status.ErrDuplicatePayment)
	creator.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything, mock.Anything)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestPurchaseService_RejectsBeforeClaiming(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(n *models.PaymentNotification)
		wantErr error
	}{
		{"pending payment", func(n *models.PaymentNotification) { n.Status = "pending" }, status.ErrPaymentNotSucceeded},
		{"short amount", func(n *models.PaymentNotification) { n.Amount = decimal.RequireFromString("5.00") }, status.ErrAmountMismatch},
		{"wrong currency", func(n *models.PaymentNotification) { n.Currency = "USD" }, status.ErrAmountMismatch},
		{"missing owner", func(n *models.PaymentNotification) { n.UserID = "" }, status.ErrMalformedMessage},
		{"missing payment id", func(n *models.PaymentNotification) { n.PaymentID = "" }, status.ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, redisMock := redismock.NewClientMock()
			creator := &MockTicketCreator{}
			svc := NewPurchaseService(db, creator, nil, PurchaseServiceOptions{})

			n := paidNotification()
			tt.mutate(&n)

			_, err := svc.Process(context.Background(), n)
			assert.ErrorIs(t, err, tt.wantErr)
			creator.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything, mock.Anything)
			assert.NoError(t, redisMock.ExpectationsWereMet())
		})
	}
}

func TestPurchaseService_DefaultsQuantityAndAliases(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	creator := &MockTicketCreator{}
	svc := NewPurchaseService(db, creator, nil, PurchaseServiceOptions{})

	n := paidNotification()
	n.Kind = "weekly"
	n.Quantity = 0
	n.Amount = decimal.RequireFromString("15")
	n.Currency = ""
	n.Status = "success"

	redisMock.ExpectSetNX("purchase:pay-1", "processing", 24*time.Hour).SetVal(true)
	creator.On("CreateBatch", "user-1", models.KindWeek, 1).Return([]*models.Ticket{{ID: "t1"}}, nil).Once()
	redisMock.ExpectSet("purchase:pay-1", "completed", 24*time.Hour).SetVal("OK")

	_, err := svc.Process(context.Background(), n)
	require.NoError(t, err)
	creator.AssertExpectations(t)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestPurchaseService_ReleasesClaimWhenNothingCreated(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	creator := &MockTicketCreator{}
	svc := NewPurchaseService(db, creator, nil, PurchaseServiceOptions{})

	storeErr := errors.New("store down")
	redisMock.ExpectSetNX("purchase:pay-1", "processing", 24*time.Hour).SetVal(true)
	creator.On("CreateBatch", "user-1", models.KindDay, 2).Return(nil, storeErr).Once()
	redisMock.ExpectDel("purchase:pay-1").SetVal(1)

	_, err := svc.Process(context.Background(), paidNotification())
	assert.ErrorIs(t, err, storeErr)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestPurchaseService_LogsFailedClaimRelease(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	creator := &MockTicketCreator{}
	var logs bytes.Buffer
	svc := NewPurchaseService(db, creator, nil, PurchaseServiceOptions{
		Logger: slog.New(slog.NewJSONHandler(&logs, nil)),
	})

	storeErr := errors.New("store down")
	redisMock.ExpectSetNX("purchase:pay-1", "processing", 24*time.Hour).SetVal(true)
	creator.On("CreateBatch", "user-1", models.KindDay, 2).Return(nil, storeErr).Once()
	redisMock.ExpectDel("purchase:pay-1").SetErr(errors.New("connection reset"))

	_, err := svc.Process(context.Background(), paidNotification())
	assert.ErrorIs(t, err, storeErr)
	assert.NoError(t, redisMock.ExpectationsWereMet())
	assert.Contains(t, logs.String(), "Failed to release payment claim")
	assert.Contains(t, logs.String(), `"payment_id":"pay-1"`)
	assert.Contains(t, logs.String(), "connection reset")
}

func TestPurchaseService_KeepsClaimOnPartialBatch(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	creator := &MockTicketCreator{}
	svc := NewPurchaseService(db, creator, nil, PurchaseServiceOptions{})

	storeErr := errors.New("store down")
	redisMock.ExpectSetNX("purchase:pay-1", "processing", 24*time.Hour).SetVal(true)
	creator.On("CreateBatch", "user-1", models.KindDay, 2).Return([]*models.Ticket{{ID: "t1"}}, storeErr).Once()

	tickets, err := svc.Process(context.Background(), paidNotification())
	assert.ErrorIs(t, err, storeErr)
	assert.Len(t, tickets, 1)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestPurchaseService_HandleNotificationDecodesMaps(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	creator := &MockTicketCreator{}
	svc := NewPurchaseService(db, creator, nil, PurchaseServiceOptions{})

	redisMock.ExpectSetNX("purchase:pay-9", "processing", 24*time.Hour).SetVal(true)
	creator.On("CreateBatch", "user-9", models.KindSingle, 1).Return([]*models.Ticket{{ID: "t1"}}, nil).Once()
	redisMock.ExpectSet("purchase:pay-9", "completed", 24*time.Hour).SetVal("OK")

	svc.HandleNotification(context.Background(), map[string]any{
		"payment_id": "pay-9",
		"user_id":    "user-9",
		"type":       "single",
		"quantity":   1,
		"amount":     "1.50",
		"currency":   "EUR",
		"status":     "succeeded",
	})

	creator.AssertExpectations(t)
	assert.NoError(t, redisMock.ExpectationsWereMet())

	assert.NotPanics(t, func() {
		svc.HandleNotification(context.Background(), "not an object")
	})
}

func TestPurchaseService_Simulate(t *testing.T) {
	db, _ := redismock.NewClientMock()
	svc := NewPurchaseService(db, &MockTicketCreator{}, nil, PurchaseServiceOptions{PaymentChannel: "payments"})
	pub := &MockPublisher{}

	pub.On("Publish", "payments", mock.AnythingOfType("models.PaymentNotification"), false).Return(nil).Once()

	n, err := svc.Simulate(context.Background(), pub, "user-1", models.KindMonth, 2)
	require.NoError(t, err)
	assert.Contains(t, n.PaymentID, "sim_")
	assert.True(t, n.Amount.Equal(decimal.RequireFromString("90.00")))
	assert.Equal(t, "month", n.Kind)
	pub.AssertExpectations(t)
}

func TestExpectedAmount(t *testing.T) {
	assert.Equal(t, "4.50", ExpectedAmount(models.KindSingle, 3).StringFixed(2))
	assert.Equal(t, "45.00", ExpectedAmount(models.KindMonth, 1).StringFixed(2))
}
