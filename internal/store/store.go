package store

import (
	"context"
	"errors"
	"slices"

	"transit-ticket/models"
)

// ErrNotFound is returned when no ticket carries the requested id.
var ErrNotFound = errors.New("store: record not found")

// Condition restricts a conditional write. Empty fields match anything.
type Condition struct {
	OwnerID          string
	Status           []models.Status
	ValidationStatus []models.ValidationStatus
}

func (c Condition) Matches(t *models.Ticket) bool {
	if c.OwnerID != "" && t.OwnerID != c.OwnerID {
		return false
	}
	if len(c.Status) > 0 && !slices.Contains(c.Status, t.Status) {
		return false
	}
	if len(c.ValidationStatus) > 0 && !slices.Contains(c.ValidationStatus, t.ValidationStatus) {
		return false
	}
	return true
}

// Mutator edits a ticket in place once its condition has matched.
type Mutator func(t *models.Ticket)

// TicketStore persists tickets. Update and Delete are atomic with respect to
// their condition: either the record matched and the write happened, or
// nothing changed and the returned bool is false.
type TicketStore interface {
	NewID() string
	Create(ctx context.Context, t *models.Ticket) error
	FindByID(ctx context.Context, id string) (*models.Ticket, error)
	FindByOwner(ctx context.Context, ownerID string) ([]*models.Ticket, error)
	Update(ctx context.Context, id string, cond Condition, mutate Mutator) (*models.Ticket, bool, error)
	Delete(ctx context.Context, id string, cond Condition) (bool, error)
}
