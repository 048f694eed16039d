package handlers

import (
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"transit-ticket/internal/messaging"
	"transit-ticket/internal/services"
	"transit-ticket/models"
)

type PaymentHandler struct {
	ticketService   *services.TicketService
	purchaseService *services.PurchaseService
	publisher       messaging.Publisher
}

func NewPaymentHandler(ticketService *services.TicketService, purchaseService *services.PurchaseService, publisher messaging.Publisher) *PaymentHandler {
	return &PaymentHandler{
		ticketService:   ticketService,
		purchaseService: purchaseService,
		publisher:       publisher,
	}
}

type buyRequest struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
}

// TestBuy - Create tickets directly, skipping payment (development only)
func (h *PaymentHandler) TestBuy(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req buyRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	tickets, err := h.ticketService.CreateBatch(e.Request.Context(), e.Auth.Id, models.NormalizeKind(req.Type), req.Quantity)
	if err != nil && len(tickets) == 0 {
		return ticketError(err)
	}
	if err != nil {
		slog.Warn("Test purchase partially failed", "owner_id", e.Auth.Id, "created", len(tickets), "error", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"tickets":    tickets,
		"server_now": models.FormatTime(h.ticketService.Now()),
	})
}

// SimulatePayment - Publish a succeeded payment the way the provider would
// (development only). Tickets are created by the payment subscriber.
func (h *PaymentHandler) SimulatePayment(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req buyRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	n, err := h.purchaseService.Simulate(e.Request.Context(), h.publisher, e.Auth.Id, models.NormalizeKind(req.Type), req.Quantity)
	if err != nil {
		slog.Error("h.purchaseService.Simulate()", "owner_id", e.Auth.Id, "error", err)
		return apis.NewApiError(http.StatusServiceUnavailable, "Payment simulation failed", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"message":    "Payment simulation sent",
		"payment_id": n.PaymentID,
		"amount":     n.Amount,
		"currency":   n.Currency,
	})
}
