package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"single", KindSingle},
		{" Day ", KindDay},
		{"WEEK", KindWeek},
		{"month", KindMonth},
		{"horaire", KindSingle},
		{"horaires", KindSingle},
		{"jour", KindDay},
		{"semaine", KindWeek},
		{"weekly", KindWeek},
		{"mois", KindMonth},
		{"mensuel", KindMonth},
		{"Monthly", KindMonth},
		{"", KindSingle},
		{"yearly", KindSingle},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeKind(tt.in))
		})
	}
}

func TestKind_Duration(t *testing.T) {
	assert.Equal(t, 2*time.Hour, KindSingle.Duration())
	assert.Equal(t, 24*time.Hour, KindDay.Duration())
	assert.Equal(t, 7*24*time.Hour, KindWeek.Duration())
	assert.Equal(t, 30*24*time.Hour, KindMonth.Duration())
	assert.Equal(t, 2*time.Hour, Kind("bogus").Duration())
}

func TestFormatTime_AlwaysUTCWithZ(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	ts := time.Date(2024, 5, 1, 11, 0, 0, 0, paris)

	got := FormatTime(ts)

	assert.Equal(t, "2024-05-01T10:00:00Z", got)
	assert.True(t, strings.HasSuffix(got, "Z"))
	assert.Nil(t, FormatTimePtr(nil))
}

func TestTicket_IsOverdue(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tk := &Ticket{Status: StatusValidated}
	assert.False(t, tk.IsOverdue(now), "no expiry set")

	tk.ExpiresAt = TimePtr(now)
	assert.True(t, tk.IsOverdue(now), "expiry equal to now is overdue")

	tk.ExpiresAt = TimePtr(now.Add(time.Second))
	assert.False(t, tk.IsOverdue(now))

	tk.ExpiresAt = TimePtr(now.Add(-time.Hour))
	tk.Status = StatusExpired
	assert.False(t, tk.IsOverdue(now), "already expired")
}

func TestTicket_CloneIsDeep(t *testing.T) {
	now := time.Now().UTC()
	orig := &Ticket{ID: "t1", ExpiresAt: TimePtr(now)}

	c := orig.Clone()
	*c.ExpiresAt = now.Add(time.Hour)

	assert.Equal(t, now, *orig.ExpiresAt)
	assert.Nil(t, (*Ticket)(nil).Clone())
}

func TestTicket_NormalizeUTC(t *testing.T) {
	zone := time.FixedZone("X", -5*3600)
	local := time.Date(2024, 1, 1, 7, 0, 0, 0, zone)
	zero := time.Time{}

	tk := &Ticket{
		PurchasedAt: local,
		ValidatedAt: &local,
		ExpiredAt:   &zero,
	}
	tk.NormalizeUTC()

	assert.Equal(t, time.UTC, tk.PurchasedAt.Location())
	require.NotNil(t, tk.ValidatedAt)
	assert.Equal(t, time.UTC, tk.ValidatedAt.Location())
	assert.True(t, local.Equal(*tk.ValidatedAt))
	assert.Nil(t, tk.ExpiredAt, "zero time collapses to nil")
}

func TestTicket_NormalizeUTCTruncatesToMilliseconds(t *testing.T) {
	precise := time.Date(2024, 1, 1, 23, 6, 0, 123_456_789, time.UTC)
	tk := &Ticket{PurchasedAt: precise, ExpiresAt: &precise}
	tk.Credential.IssuedAt = precise
	tk.NormalizeUTC()

	want := time.Date(2024, 1, 1, 23, 6, 0, 123_000_000, time.UTC)
	assert.Equal(t, want, tk.PurchasedAt)
	assert.Equal(t, want, *tk.ExpiresAt)
	assert.Equal(t, want, tk.Credential.IssuedAt)
	assert.Equal(t, 123_456_789, precise.Nanosecond(), "input untouched")
}

func TestScanResponse_FailureCarriesNoTicketFields(t *testing.T) {
	data, err := json.Marshal(NewScanFailure("r1", ReasonInvalid))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, map[string]any{"req_id": "r1", "ok": false, "reason": "invalid"}, got)
}

func TestScanResponse_Success(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 30, 0, 500_000_000, time.UTC)

	t.Run("not yet validated emits nulls", func(t *testing.T) {
		tk := &Ticket{ID: "t1", Kind: KindDay, Status: StatusActive, ValidationStatus: ValidationNone}

		data, err := json.Marshal(NewScanSuccess("r1", tk, now))
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal(data, &got))

		assert.Equal(t, true, got["ok"])
		assert.Nil(t, got["reason"])
		assert.Contains(t, got, "reason")
		assert.Equal(t, "t1", got["ticket_id"])
		assert.Equal(t, "day", got["type"])
		assert.Equal(t, "none", got["validation_status"])
		assert.Contains(t, got, "expires_at")
		assert.Nil(t, got["expires_at"])
		assert.Contains(t, got, "remaining_seconds")
		assert.Nil(t, got["remaining_seconds"])
		assert.Equal(t, "2024-05-01T10:30:00.5Z", got["server_now"])
	})

	t.Run("remaining seconds floors", func(t *testing.T) {
		validated := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		tk := &Ticket{
			ID:               "t1",
			Kind:             KindDay,
			Status:           StatusValidated,
			ValidationStatus: ValidationValidated,
			ValidatedAt:      &validated,
			ExpiresAt:        TimePtr(validated.Add(24 * time.Hour)),
		}

		resp := NewScanSuccess("r1", tk, now)

		require.NotNil(t, resp.RemainingSeconds)
		assert.Equal(t, int64(84599), *resp.RemainingSeconds)
		assert.Equal(t, "2024-05-02T10:00:00Z", *resp.ExpiresAt)
	})

	t.Run("expired ticket has null remaining", func(t *testing.T) {
		tk := &Ticket{ID: "t1", Status: StatusExpired, ExpiresAt: TimePtr(now.Add(-time.Hour))}
		assert.Nil(t, RemainingSeconds(tk, now))
	})
}

func TestScanRequest_CredentialPrefersToken(t *testing.T) {
	assert.Equal(t, "tok", ScanRequest{Token: "tok", TicketID: "id"}.Credential())
	assert.Equal(t, "id", ScanRequest{TicketID: "id"}.Credential())
	assert.Equal(t, "", ScanRequest{}.Credential())
}
