package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/security"
	"github.com/pocketbase/pocketbase/tools/types"

	"transit-ticket/models"
)

const (
	TicketsCollection = "tickets"

	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	idLength   = 15
)

// PBStore keeps tickets in the PocketBase "tickets" collection.
type PBStore struct {
	app core.App
}

func NewPBStore(app core.App) *PBStore {
	return &PBStore{app: app}
}

// NewID matches PocketBase's default record id shape so ids can be
// pre-allocated before the credential is signed.
func (s *PBStore) NewID() string {
	return security.RandomStringWithAlphabet(idLength, idAlphabet)
}

func (s *PBStore) Create(ctx context.Context, t *models.Ticket) error {
	collection, err := s.app.FindCollectionByNameOrId(TicketsCollection)
	if err != nil {
		return fmt.Errorf("find collection: %w", err)
	}

	t.NormalizeUTC()
	record := core.NewRecord(collection)
	record.Id = t.ID
	writeRecord(record, t)
	record.Set("credential_payload", t.Credential)

	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save ticket %s: %w", t.ID, err)
	}
	return nil
}

func (s *PBStore) FindByID(ctx context.Context, id string) (*models.Ticket, error) {
	record, err := findRecord(ctx, s.app, id)
	if err != nil {
		return nil, err
	}
	return readRecord(record)
}

func (s *PBStore) FindByOwner(ctx context.Context, ownerID string) ([]*models.Ticket, error) {
	records := []*core.Record{}
	err := s.app.RecordQuery(TicketsCollection).
		WithContext(ctx).
		AndWhere(dbx.HashExp{"owner_id": ownerID}).
		OrderBy("purchased_at DESC").
		All(&records)
	if err != nil {
		return nil, fmt.Errorf("list tickets for %s: %w", ownerID, err)
	}

	out := make([]*models.Ticket, 0, len(records))
	for _, r := range records {
		t, err := readRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *PBStore) Update(ctx context.Context, id string, cond Condition, mutate Mutator) (*models.Ticket, bool, error) {
	var (
		result  *models.Ticket
		applied bool
	)

	err := s.app.RunInTransaction(func(txApp core.App) error {
		record, err := findRecord(ctx, txApp, id)
		if err != nil {
			return err
		}
		current, err := readRecord(record)
		if err != nil {
			return err
		}
		if !cond.Matches(current) {
			result = current
			return nil
		}

		mutate(current)
		current.NormalizeUTC()
		writeRecord(record, current)
		if err := txApp.SaveWithContext(ctx, record); err != nil {
			return fmt.Errorf("save ticket %s: %w", id, err)
		}
		result, applied = current, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

func (s *PBStore) Delete(ctx context.Context, id string, cond Condition) (bool, error) {
	var deleted bool

	err := s.app.RunInTransaction(func(txApp core.App) error {
		record, err := findRecord(ctx, txApp, id)
		if err != nil {
			return err
		}
		current, err := readRecord(record)
		if err != nil {
			return err
		}
		if !cond.Matches(current) {
			return nil
		}
		if err := txApp.DeleteWithContext(ctx, record); err != nil {
			return fmt.Errorf("delete ticket %s: %w", id, err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func findRecord(ctx context.Context, app core.App, id string) (*core.Record, error) {
	record := &core.Record{}
	err := app.RecordQuery(TicketsCollection).
		WithContext(ctx).
		AndWhere(dbx.HashExp{"id": id}).
		Limit(1).
		One(record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ticket %s: %w", id, err)
	}
	return record, nil
}

// writeRecord copies the mutable ticket fields onto record. The credential
// is written once by Create and never touched again.
func writeRecord(record *core.Record, t *models.Ticket) {
	record.Set("owner_id", t.OwnerID)
	record.Set("kind", string(t.Kind))
	record.Set("status", string(t.Status))
	record.Set("validation_status", string(t.ValidationStatus))
	record.Set("purchased_at", t.PurchasedAt.UTC())
	record.Set("validated_at", dateValue(t.ValidatedAt))
	record.Set("expires_at", dateValue(t.ExpiresAt))
	record.Set("expired_at", dateValue(t.ExpiredAt))
	record.Set("confirmation_requested_at", dateValue(t.ConfirmationRequestedAt))
}

func readRecord(record *core.Record) (*models.Ticket, error) {
	t := &models.Ticket{
		ID:                      record.Id,
		OwnerID:                 record.GetString("owner_id"),
		Kind:                    models.Kind(record.GetString("kind")),
		Status:                  models.Status(record.GetString("status")),
		ValidationStatus:        models.ValidationStatus(record.GetString("validation_status")),
		PurchasedAt:             record.GetDateTime("purchased_at").Time(),
		ValidatedAt:             datePtr(record.GetDateTime("validated_at")),
		ExpiresAt:               datePtr(record.GetDateTime("expires_at")),
		ExpiredAt:               datePtr(record.GetDateTime("expired_at")),
		ConfirmationRequestedAt: datePtr(record.GetDateTime("confirmation_requested_at")),
	}
	if t.ValidationStatus == "" {
		t.ValidationStatus = models.ValidationNone
	}
	if err := record.UnmarshalJSONField("credential_payload", &t.Credential); err != nil {
		return nil, fmt.Errorf("decode credential for %s: %w", record.Id, err)
	}
	t.NormalizeUTC()
	return t, nil
}

func dateValue(t *time.Time) any {
	if t == nil {
		return ""
	}
	return t.UTC()
}

func datePtr(dt types.DateTime) *time.Time {
	if dt.IsZero() {
		return nil
	}
	v := dt.Time().UTC()
	return &v
}
