package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"transit-ticket/internal/services"
	"transit-ticket/internal/status"
	"transit-ticket/models"
)

type TicketHandler struct {
	ticketService *services.TicketService
}

func NewTicketHandler(ticketService *services.TicketService) *TicketHandler {
	return &TicketHandler{ticketService: ticketService}
}

// ListTickets - Owner's tickets, newest first
func (h *TicketHandler) ListTickets(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	tickets, err := h.ticketService.ListByOwner(e.Request.Context(), e.Auth.Id)
	if err != nil {
		return ticketError(err)
	}
	if tickets == nil {
		tickets = []*models.Ticket{}
	}

	return e.JSON(http.StatusOK, map[string]any{
		"tickets":    tickets,
		"server_now": models.FormatTime(h.ticketService.Now()),
	})
}

// GetTicket - Ticket detail with the server clock so the app can run a
// countdown without trusting the device time
func (h *TicketHandler) GetTicket(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	t, err := h.ticketService.Get(e.Request.Context(), e.Request.PathValue("ticketId"), e.Auth.Id)
	if err != nil {
		return ticketError(err)
	}
	return e.JSON(http.StatusOK, ticketBody(t, h.ticketService))
}

// StartValidation - Owner asks to validate; the ticket goes pending
func (h *TicketHandler) StartValidation(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	t, err := h.ticketService.BeginValidation(e.Request.Context(), e.Request.PathValue("ticketId"), e.Auth.Id)
	return h.transition(e, t, err)
}

// ConfirmValidation - Starts the validity window now
func (h *TicketHandler) ConfirmValidation(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	ctx := e.Request.Context()
	t, err := h.ticketService.ConfirmValidation(ctx, e.Request.PathValue("ticketId"), e.Auth.Id, h.ticketService.Now())
	return h.transition(e, t, err)
}

// DeleteTicket - Only expired tickets can be removed
func (h *TicketHandler) DeleteTicket(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	ticketID := e.Request.PathValue("ticketId")
	if err := h.ticketService.Delete(e.Request.Context(), ticketID, e.Auth.Id); err != nil {
		return ticketError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": "Ticket deleted", "ticket_id": ticketID})
}

// transition answers a state change. A ticket already past the requested
// step is not an error for the app: it gets the current ticket back.
func (h *TicketHandler) transition(e *core.RequestEvent, t *models.Ticket, err error) error {
	if errors.Is(err, status.ErrAlreadyInProgress) && t != nil {
		body := ticketBody(t, h.ticketService)
		body["message"] = "Validation already in progress"
		return e.JSON(http.StatusOK, body)
	}
	if err != nil {
		return ticketError(err)
	}
	return e.JSON(http.StatusOK, ticketBody(t, h.ticketService))
}

func ticketBody(t *models.Ticket, s *services.TicketService) map[string]any {
	return map[string]any{
		"ticket":     t,
		"server_now": models.FormatTime(s.Now()),
	}
}

// ticketError maps service errors onto API errors.
func ticketError(err error) error {
	switch {
	case errors.Is(err, status.ErrTicketNotFound):
		return apis.NewNotFoundError("Ticket not found", nil)
	case errors.Is(err, status.ErrAlreadyExpired):
		return apis.NewApiError(http.StatusConflict, "Ticket has expired", nil)
	case errors.Is(err, status.ErrNotExpired):
		return apis.NewApiError(http.StatusConflict, "Only expired tickets can be deleted", nil)
	case errors.Is(err, status.ErrAlreadyInProgress):
		return apis.NewApiError(http.StatusConflict, "Validation already in progress", nil)
	case errors.Is(err, status.ErrTransientStore):
		return apis.NewApiError(http.StatusServiceUnavailable, "Ticket store unavailable, please retry", nil)
	default:
		slog.Error("Unhandled ticket error", "error", err)
		return apis.NewInternalServerError("internal error", err)
	}
}
