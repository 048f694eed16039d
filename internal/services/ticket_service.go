package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"transit-ticket/internal/status"
	"transit-ticket/internal/store"
	"transit-ticket/models"
	"transit-ticket/monitoring"
)

// CredentialIssuer mints the credential bound to a new ticket.
type CredentialIssuer interface {
	Issue(ticketID, ownerID string, kind models.Kind, now time.Time) (models.Credential, error)
}

// EventSink receives lifecycle events after a transition has been
// persisted. Implementations must not block the caller.
type EventSink interface {
	Publish(event string, t *models.Ticket)
}

type TicketServiceOptions struct {
	StoreTimeout time.Duration
	Monitor      *monitoring.Monitor
	Logger       *slog.Logger
	Clock        func() time.Time
}

// TicketService owns every ticket state transition. Transitions are
// conditional writes against the store, so concurrent callers racing on
// the same ticket observe a single winner.
type TicketService struct {
	store   store.TicketStore
	issuer  CredentialIssuer
	events  EventSink
	timeout time.Duration
	monitor *monitoring.Monitor
	logger  *slog.Logger
	now     func() time.Time
}

func NewTicketService(st store.TicketStore, issuer CredentialIssuer, events EventSink, opts TicketServiceOptions) *TicketService {
	s := &TicketService{
		store:   st,
		issuer:  issuer,
		events:  events,
		timeout: opts.StoreTimeout,
		monitor: opts.Monitor,
		logger:  opts.Logger,
		now:     opts.Clock,
	}
	if s.timeout <= 0 {
		s.timeout = 3 * time.Second
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.events == nil {
		s.events = nopSink{}
	}
	return s
}

// Now is the service clock in UTC at store precision.
func (s *TicketService) Now() time.Time {
	return s.now().UTC().Truncate(models.TimePrecision)
}

func (s *TicketService) Create(ctx context.Context, ownerID string, kind models.Kind) (*models.Ticket, error) {
	now := s.Now()
	kind = models.NormalizeKind(string(kind))
	id := s.store.NewID()

	cred, err := s.issuer.Issue(id, ownerID, kind, now)
	if err != nil {
		return nil, fmt.Errorf("issue credential: %w", err)
	}

	t := &models.Ticket{
		ID:               id,
		OwnerID:          ownerID,
		Kind:             kind,
		Status:           models.StatusActive,
		ValidationStatus: models.ValidationNone,
		PurchasedAt:      now,
		Credential:       cred,
	}

	if err := s.call(ctx, "create", func(ctx context.Context) error {
		return s.store.Create(ctx, t)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Ticket created", "ticket_id", t.ID, "owner_id", ownerID, "type", kind)
	s.monitor.TrackTransition("create")
	s.events.Publish(models.EventTicketBought, t)
	return t, nil
}

// CreateBatch creates qty tickets of one kind. A quantity below one is
// treated as one. Tickets created before a failure are returned with it.
func (s *TicketService) CreateBatch(ctx context.Context, ownerID string, kind models.Kind, qty int) ([]*models.Ticket, error) {
	qty = max(qty, 1)

	out := make([]*models.Ticket, 0, qty)
	for range qty {
		t, err := s.Create(ctx, ownerID, kind)
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Lookup reads a ticket for the scan path. There is no owner check; the
// credential is the authorization.
func (s *TicketService) Lookup(ctx context.Context, id string) (*models.Ticket, error) {
	return s.LookupAt(ctx, id, s.Now())
}

// LookupAt is Lookup with expiration evaluated against a caller-supplied
// instant, so a response can report the same server time it was judged at.
func (s *TicketService) LookupAt(ctx context.Context, id string, now time.Time) (*models.Ticket, error) {
	t, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.CheckExpiration(ctx, t, now)
}

// Get reads a ticket owned by ownerID, expiring it first when due.
func (s *TicketService) Get(ctx context.Context, id, ownerID string) (*models.Ticket, error) {
	t, err := s.findOwned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	return s.CheckExpiration(ctx, t, s.Now())
}

func (s *TicketService) ListByOwner(ctx context.Context, ownerID string) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	if err := s.call(ctx, "list", func(ctx context.Context) error {
		var err error
		tickets, err = s.store.FindByOwner(ctx, ownerID)
		return err
	}); err != nil {
		return nil, err
	}

	now := s.Now()
	for i, t := range tickets {
		checked, err := s.CheckExpiration(ctx, t, now)
		if err != nil {
			return nil, err
		}
		tickets[i] = checked
	}
	return tickets, nil
}

// BeginValidation moves (active, none) to (active, pending). A ticket that
// is already pending or validated comes back unchanged together with
// ErrAlreadyInProgress.
func (s *TicketService) BeginValidation(ctx context.Context, id, ownerID string) (*models.Ticket, error) {
	now := s.Now()

	t, err := s.findOwned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if t, err = s.CheckExpiration(ctx, t, now); err != nil {
		return nil, err
	}
	if t.Status == models.StatusExpired {
		return t, status.ErrAlreadyExpired
	}
	if t.ValidationStatus != models.ValidationNone {
		return t, status.ErrAlreadyInProgress
	}

	cond := store.Condition{
		OwnerID:          ownerID,
		Status:           []models.Status{models.StatusActive},
		ValidationStatus: []models.ValidationStatus{models.ValidationNone},
	}
	updated, applied, err := s.update(ctx, "begin", id, cond, func(t *models.Ticket) {
		t.ValidationStatus = models.ValidationPending
		t.ConfirmationRequestedAt = models.TimePtr(now)
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		if updated.Status == models.StatusExpired {
			return updated, status.ErrAlreadyExpired
		}
		return updated, status.ErrAlreadyInProgress
	}

	s.logger.Info("Validation started", "ticket_id", id, "owner_id", ownerID)
	s.monitor.TrackTransition("begin")
	s.events.Publish(models.EventValidationStarted, updated)
	return updated, nil
}

// ConfirmValidation starts the validity window at now. A ticket that was
// never begun may be confirmed directly.
func (s *TicketService) ConfirmValidation(ctx context.Context, id, ownerID string, now time.Time) (*models.Ticket, error) {
	now = now.UTC().Truncate(models.TimePrecision)

	t, err := s.findOwned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if t, err = s.CheckExpiration(ctx, t, now); err != nil {
		return nil, err
	}
	if t.Status == models.StatusExpired {
		return t, status.ErrAlreadyExpired
	}
	if t.Status == models.StatusValidated {
		return t, status.ErrAlreadyInProgress
	}

	cond := store.Condition{
		OwnerID: ownerID,
		Status:  []models.Status{models.StatusActive},
	}
	updated, applied, err := s.update(ctx, "confirm", id, cond, func(t *models.Ticket) {
		t.Status = models.StatusValidated
		t.ValidationStatus = models.ValidationValidated
		t.ValidatedAt = models.TimePtr(now)
		t.ExpiresAt = models.TimePtr(now.Add(t.Kind.Duration()))
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		if updated.Status == models.StatusExpired {
			return updated, status.ErrAlreadyExpired
		}
		return updated, status.ErrAlreadyInProgress
	}

	s.logger.Info("Ticket validated", "ticket_id", id, "owner_id", ownerID, "expires_at", models.FormatTime(*updated.ExpiresAt))
	s.monitor.TrackTransition("confirm")
	s.events.Publish(models.EventTicketValidated, updated)
	return updated, nil
}

// CheckExpiration marks t expired when its window has elapsed at now. It is
// idempotent: a ticket that is not due, or already expired, is returned as
// is. When another caller wins the write, the stored state is returned.
func (s *TicketService) CheckExpiration(ctx context.Context, t *models.Ticket, now time.Time) (*models.Ticket, error) {
	now = now.UTC()
	if !t.IsOverdue(now) {
		return t, nil
	}

	cond := store.Condition{
		Status: []models.Status{models.StatusActive, models.StatusValidated},
	}
	updated, applied, err := s.update(ctx, "expire", t.ID, cond, func(t *models.Ticket) {
		t.Status = models.StatusExpired
		t.ExpiredAt = models.TimePtr(now)
		t.ValidationStatus = models.ValidationNone
	})
	if err != nil {
		return nil, err
	}
	if applied {
		s.logger.Info("Ticket expired", "ticket_id", t.ID, "owner_id", t.OwnerID)
		s.monitor.TrackTransition("expire")
		s.events.Publish(models.EventTicketExpired, updated)
	}
	return updated, nil
}

// Delete removes an expired ticket. Anything else fails with ErrNotExpired
// and leaves the record untouched.
func (s *TicketService) Delete(ctx context.Context, id, ownerID string) error {
	t, err := s.findOwned(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if t, err = s.CheckExpiration(ctx, t, s.Now()); err != nil {
		return err
	}
	if t.Status != models.StatusExpired {
		return status.ErrNotExpired
	}

	cond := store.Condition{
		OwnerID: ownerID,
		Status:  []models.Status{models.StatusExpired},
	}
	var deleted bool
	if err := s.call(ctx, "delete", func(ctx context.Context) error {
		var err error
		deleted, err = s.store.Delete(ctx, id, cond)
		return err
	}); err != nil {
		return err
	}
	if !deleted {
		return status.ErrNotExpired
	}

	s.logger.Info("Ticket deleted", "ticket_id", id, "owner_id", ownerID)
	s.monitor.TrackTransition("delete")
	s.events.Publish(models.EventTicketDeleted, t)
	return nil
}

func (s *TicketService) find(ctx context.Context, id string) (*models.Ticket, error) {
	if id == "" {
		return nil, status.ErrTicketNotFound
	}
	var t *models.Ticket
	err := s.call(ctx, "find", func(ctx context.Context) error {
		var err error
		t, err = s.store.FindByID(ctx, id)
		return err
	})
	return t, err
}

// findOwned hides tickets owned by someone else behind ErrTicketNotFound.
func (s *TicketService) findOwned(ctx context.Context, id, ownerID string) (*models.Ticket, error) {
	t, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, status.ErrTicketNotFound
	}
	return t, nil
}

func (s *TicketService) update(ctx context.Context, op, id string, cond store.Condition, mutate store.Mutator) (*models.Ticket, bool, error) {
	var (
		t       *models.Ticket
		applied bool
	)
	err := s.call(ctx, op, func(ctx context.Context) error {
		var err error
		t, applied, err = s.store.Update(ctx, id, cond, mutate)
		return err
	})
	return t, applied, err
}

// call bounds a store operation by the configured timeout and folds its
// failure into the service error taxonomy.
func (s *TicketService) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	s.monitor.ObserveStore(op, time.Since(start))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return status.ErrTicketNotFound
	default:
		s.logger.Error("Ticket store call failed", "operation", op, "error", err)
		return fmt.Errorf("%w: %s: %v", status.ErrTransientStore, op, err)
	}
}

type nopSink struct{}

func (nopSink) Publish(string, *models.Ticket) {}
