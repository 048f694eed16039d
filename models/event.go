package models

import "time"

// LifecycleEvent is published on a ticket's event topic.
type LifecycleEvent struct {
	Event    string `json:"event"`
	TicketID string `json:"ticket_id"`
	UserID   string `json:"user_id"`
	Type     Kind   `json:"type,omitempty"`
	Status   Status `json:"status,omitempty"`

	ValidationStatus ValidationStatus `json:"validation_status,omitempty"`
	ValidatedAt      *string          `json:"validated_at,omitempty"`
	ExpiresAt        *string          `json:"expires_at,omitempty"`
	TS               string           `json:"ts"`
}

const (
	EventTicketBought      = "ticket_bought"
	EventValidationStarted = "validation_started"
	EventTicketValidated   = "ticket_validated"
	EventTicketExpired     = "ticket_expired"
	EventTicketDeleted     = "ticket_deleted"
)

// NewLifecycleEvent snapshots t for the named event.
func NewLifecycleEvent(name string, t *Ticket, now time.Time) LifecycleEvent {
	return LifecycleEvent{
		Event:            name,
		TicketID:         t.ID,
		UserID:           t.OwnerID,
		Type:             t.Kind,
		Status:           t.Status,
		ValidationStatus: t.ValidationStatus,
		ValidatedAt:      FormatTimePtr(t.ValidatedAt),
		ExpiresAt:        FormatTimePtr(t.ExpiresAt),
		TS:               FormatTime(now),
	}
}
