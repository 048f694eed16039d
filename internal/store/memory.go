package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"transit-ticket/models"
)

// MemoryStore keeps tickets in process. It backs tests and local runs
// without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	tickets map[string]*models.Ticket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]*models.Ticket)}
}

func (s *MemoryStore) NewID() string {
	return uuid.NewString()
}

func (s *MemoryStore) Create(ctx context.Context, t *models.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[t.ID]; ok {
		return fmt.Errorf("store: duplicate ticket id %q", t.ID)
	}
	c := t.Clone()
	c.NormalizeUTC()
	s.tickets[t.ID] = c
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) FindByOwner(ctx context.Context, ownerID string) ([]*models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Ticket, 0)
	for _, t := range s.tickets {
		if t.OwnerID == ownerID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PurchasedAt.After(out[j].PurchasedAt)
	})
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, cond Condition, mutate Mutator) (*models.Ticket, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !cond.Matches(t) {
		return t.Clone(), false, nil
	}

	next := t.Clone()
	mutate(next)
	next.ID = t.ID
	next.Credential = t.Credential
	next.NormalizeUTC()
	s.tickets[id] = next
	return next.Clone(), true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string, cond Condition) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return false, ErrNotFound
	}
	if !cond.Matches(t) {
		return false, nil
	}
	delete(s.tickets, id)
	return true, nil
}
