package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-ticket/models"
)

func newTicket(s *MemoryStore, owner string, purchased time.Time) *models.Ticket {
	return &models.Ticket{
		ID:               s.NewID(),
		OwnerID:          owner,
		Kind:             models.KindSingle,
		Status:           models.StatusActive,
		ValidationStatus: models.ValidationNone,
		PurchasedAt:      purchased,
	}
}

func TestMemoryStore_CreateNormalizesToUTC(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	zone := time.FixedZone("UTC+2", 2*3600)
	tk := newTicket(s, "u1", time.Date(2024, 5, 1, 12, 0, 0, 0, zone))
	require.NoError(t, s.Create(ctx, tk))

	got, err := s.FindByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.PurchasedAt.Location())
	assert.Equal(t, 10, got.PurchasedAt.Hour())

	assert.Error(t, s.Create(ctx, tk), "duplicate id")
}

func TestMemoryStore_FindByIDMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_FindByOwnerNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	older := newTicket(s, "u1", base)
	newer := newTicket(s, "u1", base.Add(time.Hour))
	other := newTicket(s, "u2", base)
	for _, tk := range []*models.Ticket{older, newer, other} {
		require.NoError(t, s.Create(ctx, tk))
	}

	got, err := s.FindByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, older.ID, got[1].ID)
}

func TestMemoryStore_UpdateConditional(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tk := newTicket(s, "u1", time.Now())
	require.NoError(t, s.Create(ctx, tk))

	cond := Condition{
		OwnerID:          "u1",
		Status:           []models.Status{models.StatusActive},
		ValidationStatus: []models.ValidationStatus{models.ValidationNone},
	}
	toPending := func(t *models.Ticket) { t.ValidationStatus = models.ValidationPending }

	got, applied, err := s.Update(ctx, tk.ID, cond, toPending)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.ValidationPending, got.ValidationStatus)

	got, applied, err = s.Update(ctx, tk.ID, cond, toPending)
	require.NoError(t, err)
	assert.False(t, applied, "condition no longer matches")
	assert.Equal(t, models.ValidationPending, got.ValidationStatus)

	_, applied, err = s.Update(ctx, tk.ID, Condition{OwnerID: "u2"}, toPending)
	require.NoError(t, err)
	assert.False(t, applied)

	_, _, err = s.Update(ctx, "missing", cond, toPending)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpdateKeepsCredential(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tk := newTicket(s, "u1", time.Now())
	tk.Credential = models.Credential{TicketID: tk.ID, OwnerID: "u1", Token: "tok"}
	require.NoError(t, s.Create(ctx, tk))

	got, applied, err := s.Update(ctx, tk.ID, Condition{}, func(t *models.Ticket) {
		t.Credential.Token = "changed"
	})
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, "tok", got.Credential.Token)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tk := newTicket(s, "u1", time.Now())
	require.NoError(t, s.Create(ctx, tk))

	got, err := s.FindByID(ctx, tk.ID)
	require.NoError(t, err)
	got.Status = models.StatusExpired

	again, err := s.FindByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, again.Status)
}

func TestMemoryStore_DeleteConditional(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tk := newTicket(s, "u1", time.Now())
	require.NoError(t, s.Create(ctx, tk))

	expiredOnly := Condition{OwnerID: "u1", Status: []models.Status{models.StatusExpired}}

	deleted, err := s.Delete(ctx, tk.ID, expiredOnly)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.FindByID(ctx, tk.ID)
	require.NoError(t, err, "record untouched")

	_, _, err = s.Update(ctx, tk.ID, Condition{}, func(t *models.Ticket) { t.Status = models.StatusExpired })
	require.NoError(t, err)

	deleted, err = s.Delete(ctx, tk.ID, expiredOnly)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.FindByID(ctx, tk.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.FindByID(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCondition_Matches(t *testing.T) {
	tk := &models.Ticket{OwnerID: "u1", Status: models.StatusValidated, ValidationStatus: models.ValidationValidated}

	assert.True(t, Condition{}.Matches(tk))
	assert.True(t, Condition{Status: []models.Status{models.StatusActive, models.StatusValidated}}.Matches(tk))
	assert.False(t, Condition{Status: []models.Status{models.StatusActive}}.Matches(tk))
	assert.False(t, Condition{ValidationStatus: []models.ValidationStatus{models.ValidationNone}}.Matches(tk))
	assert.False(t, Condition{OwnerID: "u2"}.Matches(tk))
}
