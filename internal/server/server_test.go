package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kazasu/internal/handler"
	"kazasu/internal/ledger"
	"kazasu/internal/line"
	"kazasu/internal/models"
	"kazasu/internal/notify"
)

type fakeWebhook struct {
	result    *handler.Result
	err       error
	body      []byte
	signature string
}

func (f *fakeWebhook) HandleDelivery(ctx context.Context, body []byte, signature string) (*handler.Result, error) {
	f.body = body
	f.signature = signature
	return f.result, f.err
}

type memLedger struct {
	guests  map[string]*models.GuestRecord
	answers map[string]models.Answers
	err     error
}

func newMemLedger() *memLedger {
	return &memLedger{
		guests: map[string]*models.GuestRecord{
			"ID-0001": {ID: "ID-0001", DisplayName: "佐藤", RequiresGiftMoneyConfirmation: true, Attendance: models.AttendancePending},
		},
		answers: map[string]models.Answers{},
	}
}

func (m *memLedger) LookupGuest(ctx context.Context, id string) (*models.GuestRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	g, ok := m.guests[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return g, nil
}

func (m *memLedger) RecordAttendance(ctx context.Context, id string, answers models.Answers) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.guests[id]; !ok {
		return ledger.ErrNotFound
	}
	m.answers[id] = answers
	return nil
}

func (m *memLedger) FetchArtifact(ctx context.Context, kind models.ArtifactKind, userID string) (*models.Artifact, error) {
	return &models.Artifact{Kind: kind, Status: models.ArtifactNotFound}, nil
}

func (m *memLedger) LogMessage(ctx context.Context, entry models.MessageLog) error { return nil }

type spyPusher struct {
	to  []string
	err error
}

func (p *spyPusher) Push(ctx context.Context, to string, segments []models.Segment) error {
	p.to = append(p.to, to)
	return p.err
}

func newTestServer(t *testing.T, wh *fakeWebhook, l ledger.Ledger, n *notify.Notifier) http.Handler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxWebhookBytes = 64
	return NewServer(cfg, wh, l, n, zerolog.Nop()).Handler()
}

func do(h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	s, _ := body["message"].(string)
	return s
}

func TestWebhookResponses(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		result     *handler.Result
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"ok", http.MethodPost, `{"events":[{}]}`, &handler.Result{Events: 1, Processed: 1}, nil, http.StatusOK, "OK"},
		{"empty batch", http.MethodPost, `{"events":[]}`, &handler.Result{}, nil, http.StatusOK, "No events"},
		{"missing signature", http.MethodPost, `{}`, nil, handler.ErrMissingSignature, http.StatusBadRequest, "Missing signature"},
		{"bad signature", http.MethodPost, `{}`, nil, handler.ErrSignatureMismatch, http.StatusUnauthorized, "Invalid signature"},
		{"invalid body", http.MethodPost, `{`, nil, &handler.ValidationError{Err: errors.New("unexpected EOF")}, http.StatusBadRequest, "Invalid request body"},
		{"get", http.MethodGet, "", nil, nil, http.StatusMethodNotAllowed, "Method Not Allowed"},
		{"too large", http.MethodPost, strings.Repeat("x", 65), nil, nil, http.StatusRequestEntityTooLarge, "Payload Too Large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh := &fakeWebhook{result: tt.result, err: tt.err}
			h := newTestServer(t, wh, newMemLedger(), nil)

			rec := do(h, tt.method, "/webhook", tt.body, map[string]string{line.SignatureHeader: "sig"})
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMsg, message(t, rec))
		})
	}
}

func TestWebhookPassesRawBodyAndSignature(t *testing.T) {
	wh := &fakeWebhook{result: &handler.Result{Events: 1}}
	h := newTestServer(t, wh, newMemLedger(), nil)

	body := `{"destination":"U0","events":[]}`
	rec := do(h, http.MethodPost, "/webhook", body, map[string]string{line.SignatureHeader: "abc="})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, string(wh.body))
	assert.Equal(t, "abc=", wh.signature)
}

func TestWebhookOverLimitNeverReachesHandler(t *testing.T) {
	wh := &fakeWebhook{result: &handler.Result{}}
	h := newTestServer(t, wh, newMemLedger(), nil)

	rec := do(h, http.MethodPost, "/webhook", strings.Repeat("a", 100), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, wh.body)
}

func TestCheckInLookup(t *testing.T) {
	mem := newMemLedger()
	h := newTestServer(t, &fakeWebhook{}, mem, nil)

	rec := do(h, http.MethodGet, "/api/checkin?id=ID-0001", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got lookupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "success", got.Status)
	assert.Equal(t, "佐藤", got.DisplayName)
	assert.True(t, got.RequiresGiftMoneyConfirmation)
	assert.False(t, got.RequiresTransportFeeConfirmation)
	assert.Equal(t, models.AttendancePending, got.Attendance)

	rec = do(h, http.MethodGet, "/api/checkin?id=ID-9999", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"not_found"`)

	rec = do(h, http.MethodGet, "/api/checkin?id=%20", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	mem.err = &ledger.TransportError{Op: "lookup", StatusCode: 500, Err: errors.New("boom")}
	rec = do(h, http.MethodGet, "/api/checkin?id=ID-0001", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCheckInRecord(t *testing.T) {
	mem := newMemLedger()
	h := newTestServer(t, &fakeWebhook{}, mem, nil)

	rec := do(h, http.MethodPost, "/api/checkin", `{"id":"ID-0001","confirmationAnswers":{"gift_money":true}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"success"`)
	got, ok := mem.answers["ID-0001"].Get(models.ConfirmationGiftMoney)
	assert.True(t, ok)
	assert.True(t, got)

	rec = do(h, http.MethodPost, "/api/checkin", `{"id":"ID-0404"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"not_found"`)

	rec = do(h, http.MethodPost, "/api/checkin", `{"id":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/api/checkin", `{"id":"ID-0001","confirmationAnswers":{"parking":true}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/api/checkin", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	mem.err = &ledger.TransportError{Op: "record", Err: context.DeadlineExceeded}
	rec = do(h, http.MethodPost, "/api/checkin", `{"id":"ID-0001"}`, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPush(t *testing.T) {
	p := &spyPusher{}
	n := notify.NewNotifier(notify.ChannelLine, p, nil, time.Second, zerolog.Nop())
	h := newTestServer(t, &fakeWebhook{}, newMemLedger(), n)

	rec := do(h, http.MethodPost, "/api/push", `{"lineUserId":"U1","guestName":"佐藤","giftUrl":"https://gift.example.com/1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"U1"}, p.to)

	rec = do(h, http.MethodPost, "/api/push", `{"lineUserId":"U1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	p.err = errors.New("push failed")
	rec = do(h, http.MethodPost, "/api/push", `{"lineUserId":"U1","guestName":"佐藤"}`, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	disabled := newTestServer(t, &fakeWebhook{}, newMemLedger(), nil)
	rec = do(disabled, http.MethodPost, "/api/push", `{"lineUserId":"U1","guestName":"佐藤"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGuestQR(t *testing.T) {
	h := newTestServer(t, &fakeWebhook{}, newMemLedger(), nil)

	rec := do(h, http.MethodGet, "/api/guests/ID-0001/qr.png", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
}

func TestOperationalEndpoints(t *testing.T) {
	h := newTestServer(t, &fakeWebhook{}, newMemLedger(), nil)

	rec := do(h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
