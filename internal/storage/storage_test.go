package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kazasu/internal/ledger"
	"kazasu/internal/models"
)

var _ ledger.Ledger = (*Storage)(nil)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndLookupGuest(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.AddGuest(ctx, models.GuestRecord{ID: "ID-0001", DisplayName: "Sato", RequiresGiftMoneyConfirmation: true}))

	g, err := s.LookupGuest(ctx, "ID-0001")
	require.NoError(t, err)
	assert.Equal(t, "Sato", g.DisplayName)
	assert.True(t, g.RequiresGiftMoneyConfirmation)
	assert.Equal(t, models.AttendancePending, g.Attendance)

	_, err = s.LookupGuest(ctx, "ID-9999")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	assert.Error(t, s.AddGuest(ctx, models.GuestRecord{ID: "  "}))
}

func TestRecordAttendance(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	require.NoError(t, s.AddGuest(ctx, models.GuestRecord{ID: "ID-0001", DisplayName: "Sato"}))

	require.NoError(t, s.RecordAttendance(ctx, "ID-0001", models.Answers{models.ConfirmationGiftMoney: true}))

	g, err := s.GetGuest(ctx, "ID-0001")
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceCheckedIn, g.Attendance)
	v, ok := g.Answers.Get(models.ConfirmationGiftMoney)
	assert.True(t, ok)
	assert.True(t, v)
	_, ok = g.Answers.Get(models.ConfirmationTransportFee)
	assert.False(t, ok)

	// A second check-in is accepted and keeps earlier answers.
	require.NoError(t, s.RecordAttendance(ctx, "ID-0001", nil))
	g, err = s.GetGuest(ctx, "ID-0001")
	require.NoError(t, err)
	_, ok = g.Answers.Get(models.ConfirmationGiftMoney)
	assert.True(t, ok)

	assert.ErrorIs(t, s.RecordAttendance(ctx, "ID-0404", nil), ledger.ErrNotFound)

	// Re-importing a guest does not reset check-in state.
	require.NoError(t, s.AddGuest(ctx, models.GuestRecord{ID: "ID-0001", DisplayName: "Sato Taro"}))
	checked, err := s.GetGuestsByStatus(ctx, models.AttendanceCheckedIn)
	require.NoError(t, err)
	require.Len(t, checked, 1)
	assert.Equal(t, "Sato Taro", checked[0].DisplayName)
}

func TestFetchArtifact(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	require.NoError(t, s.AddGuest(ctx, models.GuestRecord{ID: "ID-0001", DisplayName: "Sato", LineUserID: "U1", QRImageURL: "https://example.com/qr.png"}))
	require.NoError(t, s.AddGuest(ctx, models.GuestRecord{ID: "ID-0002", DisplayName: "Suzuki", LineUserID: "U2", QRImageURL: "CellImage", GiftSelectionURL: "https://gift.example.com/x"}))

	a, err := s.FetchArtifact(ctx, models.ArtifactQRCode, "U1")
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactSuccess, a.Status)
	assert.Equal(t, "Sato", a.Name)

	a, err = s.FetchArtifact(ctx, models.ArtifactQRCode, "U2")
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactEmbeddedImageError, a.Status)

	a, err = s.FetchArtifact(ctx, models.ArtifactGiftURL, "U1")
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactNoURLYet, a.Status)

	a, err = s.FetchArtifact(ctx, models.ArtifactGiftURL, "U2")
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactSuccess, a.Status)
	assert.Equal(t, "https://gift.example.com/x", a.URL)

	a, err = s.FetchArtifact(ctx, models.ArtifactQRCode, "U-unknown")
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactNotFound, a.Status)

	a, err = s.FetchArtifact(ctx, models.ArtifactQRCode, "")
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactNotFound, a.Status)
}

func TestLogMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	ts := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.LogMessage(ctx, models.MessageLog{UserID: "U1", DisplayName: "Sato", Text: "hello", Timestamp: ts}))

	msgs, err := s.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.True(t, ts.Equal(msgs[0].Timestamp))
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	path := filepath.Join(t.TempDir(), "guests.json")
	data := `[{"id":"ID-0001","name":"Sato","requires_gift_money_confirmation":true},{"id":"ID-0002","name":"Suzuki"}]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	n, err := s.Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.GetAllGuests(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ID-0001", all[0].ID)
	assert.True(t, all[0].RequiresGiftMoneyConfirmation)

	pending, err := s.GetGuestsByStatus(ctx, models.AttendancePending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestLoadReportsGuestsWrittenBeforeFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	path := filepath.Join(t.TempDir(), "guests.json")
	data := `[{"id":"ID-0001","name":"Sato"},{"id":"ID-0002","name":"Suzuki"},{"id":" ","name":"Nobody"},{"id":"ID-0004"}]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	n, err := s.Load(ctx, path)
	require.Error(t, err)
	assert.Equal(t, 2, n)

	all, err := s.GetAllGuests(ctx)
	require.NoError(t, err)
	assert.Len(t, all, n)
}
