package models

import (
	"strings"
	"time"
)

type Kind string

const (
	KindSingle Kind = "single"
	KindDay    Kind = "day"
	KindWeek   Kind = "week"
	KindMonth  Kind = "month"
)

var Kinds = []Kind{KindSingle, KindDay, KindWeek, KindMonth}

var kindAliases = map[string]Kind{
	"horaires": KindSingle,
	"horaire":  KindSingle,
	"jour":     KindDay,
	"semaine":  KindWeek,
	"weekly":   KindWeek,
	"mois":     KindMonth,
	"mensuel":  KindMonth,
	"monthly":  KindMonth,
}

var kindDurations = map[Kind]time.Duration{
	KindSingle: 2 * time.Hour,
	KindDay:    24 * time.Hour,
	KindWeek:   7 * 24 * time.Hour,
	KindMonth:  30 * 24 * time.Hour,
}

// NormalizeKind maps free-form purchase input onto a Kind. Unknown values
// become KindSingle.
func NormalizeKind(raw string) Kind {
	s := strings.ToLower(strings.TrimSpace(raw))
	if k, ok := kindAliases[s]; ok {
		return k
	}
	k := Kind(s)
	if _, ok := kindDurations[k]; ok {
		return k
	}
	return KindSingle
}

// Duration is the validity window that starts when a ticket of this kind
// is confirmed.
func (k Kind) Duration() time.Duration {
	if d, ok := kindDurations[k]; ok {
		return d
	}
	return kindDurations[KindSingle]
}

type Status string

const (
	StatusActive    Status = "active"
	StatusValidated Status = "validated"
	StatusExpired   Status = "expired"
)

type ValidationStatus string

const (
	ValidationNone      ValidationStatus = "none"
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
)

// Credential is embedded in the QR/NFC artifact handed to the rider. It is
// created once at issuance and never mutated.
type Credential struct {
	TicketID string    `json:"ticket_id"`
	OwnerID  string    `json:"owner_id"`
	Type     Kind      `json:"type"`
	IssuedAt time.Time `json:"issued_at"`
	Token    string    `json:"token,omitempty"`
}

type Ticket struct {
	ID                      string           `json:"id"`
	OwnerID                 string           `json:"owner_id"`
	Kind                    Kind             `json:"type"`
	Status                  Status           `json:"status"`
	ValidationStatus        ValidationStatus `json:"validation_status"`
	PurchasedAt             time.Time        `json:"purchased_at"`
	ValidatedAt             *time.Time       `json:"validated_at"`
	ExpiresAt               *time.Time       `json:"expires_at"`
	ExpiredAt               *time.Time       `json:"expired_at"`
	ConfirmationRequestedAt *time.Time       `json:"confirmation_requested_at,omitempty"`
	Credential              Credential       `json:"credential_payload"`
}

// IsOverdue reports whether the validity window has elapsed at now while
// the ticket has not yet been marked expired.
func (t *Ticket) IsOverdue(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now) && t.Status != StatusExpired
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.ValidatedAt = cloneTime(t.ValidatedAt)
	c.ExpiresAt = cloneTime(t.ExpiresAt)
	c.ExpiredAt = cloneTime(t.ExpiredAt)
	c.ConfirmationRequestedAt = cloneTime(t.ConfirmationRequestedAt)
	return &c
}

// TimePrecision is the finest timestamp resolution a store can hold.
const TimePrecision = time.Millisecond

// NormalizeUTC converts every timestamp on the ticket to UTC, truncated to
// TimePrecision. Stores call it at their boundary so the rest of the code
// never sees a zoned value or one that changes after a round trip.
func (t *Ticket) NormalizeUTC() {
	t.PurchasedAt = t.PurchasedAt.UTC().Truncate(TimePrecision)
	t.ValidatedAt = utcPtr(t.ValidatedAt)
	t.ExpiresAt = utcPtr(t.ExpiresAt)
	t.ExpiredAt = utcPtr(t.ExpiredAt)
	t.ConfirmationRequestedAt = utcPtr(t.ConfirmationRequestedAt)
	t.Credential.IssuedAt = t.Credential.IssuedAt.UTC().Truncate(TimePrecision)
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func utcPtr(p *time.Time) *time.Time {
	if p == nil || p.IsZero() {
		return nil
	}
	v := p.UTC().Truncate(TimePrecision)
	return &v
}

// TimePtr is a small helper for building optional timestamps.
func TimePtr(t time.Time) *time.Time {
	return &t
}
