package models

import (
	"math"
	"time"
)

const (
	ReasonInvalid = "invalid"
	ReasonError   = "error"

	UnknownDevice = "unknown"
)

// FormatTime renders t as RFC 3339 in UTC, which always carries a literal
// "Z" suffix.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FormatTimePtr is FormatTime for optional timestamps; nil stays nil.
func FormatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}

type ScanRequest struct {
	DeviceID string `json:"device_id"`
	ReqID    string `json:"req_id"`
	Token    string `json:"token"`
	TicketID string `json:"ticket_id"`
}

// Credential returns the credential to resolve: the signed token when
// present, the raw ticket id otherwise.
func (r ScanRequest) Credential() string {
	if r.Token != "" {
		return r.Token
	}
	return r.TicketID
}

// ScanResponse is published on the device response topic. The embedded
// snapshot is nil for invalid or failed scans so those responses never
// reference a ticket.
type ScanResponse struct {
	ReqID  string  `json:"req_id"`
	OK     bool    `json:"ok"`
	Reason *string `json:"reason"`
	*TicketSnapshot
}

type TicketSnapshot struct {
	TicketID         string           `json:"ticket_id"`
	Type             Kind             `json:"type"`
	Status           Status           `json:"status"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	ValidatedAt      *string          `json:"validated_at"`
	ExpiresAt        *string          `json:"expires_at"`
	ServerNow        string           `json:"server_now"`
	RemainingSeconds *int64           `json:"remaining_seconds"`
}

// NewScanFailure builds an ok=false response carrying only the reason.
func NewScanFailure(reqID, reason string) ScanResponse {
	return ScanResponse{ReqID: reqID, OK: false, Reason: &reason}
}

// NewScanSuccess snapshots t as observed at now.
func NewScanSuccess(reqID string, t *Ticket, now time.Time) ScanResponse {
	return ScanResponse{
		ReqID: reqID,
		OK:    true,
		TicketSnapshot: &TicketSnapshot{
			TicketID:         t.ID,
			Type:             t.Kind,
			Status:           t.Status,
			ValidationStatus: t.ValidationStatus,
			ValidatedAt:      FormatTimePtr(t.ValidatedAt),
			ExpiresAt:        FormatTimePtr(t.ExpiresAt),
			ServerNow:        FormatTime(now),
			RemainingSeconds: RemainingSeconds(t, now),
		},
	}
}

// RemainingSeconds is floor(expires_at - now) in whole seconds, or nil when
// no window is running.
func RemainingSeconds(t *Ticket, now time.Time) *int64 {
	if t.ExpiresAt == nil || t.Status == StatusExpired {
		return nil
	}
	secs := int64(math.Floor(t.ExpiresAt.Sub(now).Seconds()))
	return &secs
}
