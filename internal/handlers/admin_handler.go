package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"

	"transit-ticket/internal/services"
	"transit-ticket/models"
	"transit-ticket/utils"
)

// Connection reports whether a transport is currently connected.
type Connection interface {
	IsConnected() bool
}

type AdminHandler struct {
	ticketService *services.TicketService
	redis         *redis.Client
	mqtt          Connection
	breaker       *utils.CircuitBreaker
}

// NewAdminHandler accepts a nil mqtt when the device fabric is disabled.
func NewAdminHandler(ticketService *services.TicketService, redis *redis.Client, mqtt Connection, breaker *utils.CircuitBreaker) *AdminHandler {
	return &AdminHandler{
		ticketService: ticketService,
		redis:         redis,
		mqtt:          mqtt,
		breaker:       breaker,
	}
}

// Health - Redis ping, MQTT connection state and the store breaker
func (h *AdminHandler) Health(e *core.RequestEvent) error {
	body := map[string]any{"status": "healthy", "mqtt": "disabled"}
	code := http.StatusOK

	if h.breaker != nil {
		counts := h.breaker.Counts()
		body["breakers"] = map[string]any{
			h.breaker.Name(): map[string]any{
				"state":                h.breaker.State().String(),
				"requests":             counts.Requests,
				"consecutive_failures": counts.ConsecutiveFailures,
			},
		}
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			body["mqtt"] = "connected"
		} else {
			body["mqtt"] = "disconnected"
		}
	}

	if err := utils.RedisHealthCheck(h.redis); err != nil {
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	return e.JSON(code, body)
}

// LookupTicket - Any ticket by id, evaluated exactly like a scan
func (h *AdminHandler) LookupTicket(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}

	t, err := h.ticketService.Lookup(e.Request.Context(), e.Request.PathValue("ticketId"))
	if err != nil {
		return ticketError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"ticket":     t,
		"snapshot":   models.NewScanSuccess("", t, h.ticketService.Now()).TicketSnapshot,
		"server_now": models.FormatTime(h.ticketService.Now()),
	})
}
