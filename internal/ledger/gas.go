package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"kazasu/internal/models"
)

const maxResponseSize = 1 << 20

// GASClient talks to the Apps Script web app that fronts the guest spreadsheet.
type GASClient struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewGASClient creates a client for the web app deployed at baseURL. Every
// call is bounded by timeout.
func NewGASClient(baseURL string, timeout time.Duration, log zerolog.Logger) (*GASClient, error) {
	if baseURL == "" {
		return nil, errors.New("GAS URL is not configured")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid GAS URL: %w", err)
	}
	return &GASClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "gas").Logger(),
	}, nil
}

type gasGuest struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	Name           string `json:"name"`
	IsGoshugu      bool   `json:"isGoshugu"`
	IsTransportFee bool   `json:"isTransportFee"`
	CheckedIn      bool   `json:"checkedIn"`
	LineUserID     string `json:"lineUserId"`
	Phone          string `json:"phone"`
	QRCodeURL      string `json:"qrCodeUrl"`
	GiftURL        string `json:"giftUrl"`
}

type gasAttendance struct {
	ID                   string `json:"id"`
	ReceivedGoshugu      *bool  `json:"receivedGoshugu,omitempty"`
	ReceivedTransportFee *bool  `json:"receivedTransportFee,omitempty"`
}

type gasAction struct {
	Action      string `json:"action"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Message     string `json:"message,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// LookupGuest fetches the guest row for id.
func (c *GASClient) LookupGuest(ctx context.Context, id string) (*models.GuestRecord, error) {
	u, _ := url.Parse(c.baseURL)
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &TransportError{Op: "lookup", Err: err}
	}

	var resp gasGuest
	if err := c.do(req, "lookup", &resp); err != nil {
		return nil, err
	}

	switch normalizeStatus(resp.Status) {
	case "success":
	case "not_found":
		return nil, ErrNotFound
	default:
		return nil, unexpectedStatus("lookup", resp.Status, resp.Message)
	}

	guest := &models.GuestRecord{
		ID:                               id,
		DisplayName:                      resp.Name,
		RequiresGiftMoneyConfirmation:    !resp.IsGoshugu,
		RequiresTransportFeeConfirmation: resp.IsTransportFee,
		QRImageURL:                       resp.QRCodeURL,
		GiftSelectionURL:                 resp.GiftURL,
		LineUserID:                       resp.LineUserID,
		Phone:                            resp.Phone,
		Attendance:                       models.AttendancePending,
	}
	if resp.CheckedIn {
		guest.Attendance = models.AttendanceCheckedIn
	}
	return guest, nil
}

// RecordAttendance marks id as present, sending only the answers that were given.
func (c *GASClient) RecordAttendance(ctx context.Context, id string, answers models.Answers) error {
	body := gasAttendance{ID: id}
	if v, ok := answers.Get(models.ConfirmationGiftMoney); ok {
		body.ReceivedGoshugu = &v
	}
	if v, ok := answers.Get(models.ConfirmationTransportFee); ok {
		body.ReceivedTransportFee = &v
	}

	var resp gasGuest
	if err := c.post(ctx, "record", body, &resp); err != nil {
		return err
	}

	switch normalizeStatus(resp.Status) {
	case "success":
		return nil
	case "not_found":
		return ErrNotFound
	default:
		return unexpectedStatus("record", resp.Status, resp.Message)
	}
}

// FetchArtifact asks for the QR image or gift URL registered for a LINE user.
func (c *GASClient) FetchArtifact(ctx context.Context, kind models.ArtifactKind, userID string) (*models.Artifact, error) {
	action := "getQrCode"
	if kind == models.ArtifactGiftURL {
		action = "getGiftUrl"
	}

	var resp gasGuest
	if err := c.post(ctx, "fetch artifact", gasAction{Action: action, UserID: userID}, &resp); err != nil {
		return nil, err
	}

	artifact := &models.Artifact{
		Kind:   kind,
		Name:   resp.Name,
		Detail: resp.Message,
		URL:    resp.QRCodeURL,
	}
	if kind == models.ArtifactGiftURL {
		artifact.URL = resp.GiftURL
	}

	switch normalizeStatus(resp.Status) {
	case "success":
		artifact.Status = models.ArtifactSuccess
	case "no_url_yet":
		artifact.Status = models.ArtifactNoURLYet
	case "not_found":
		artifact.Status = models.ArtifactNotFound
	case "embedded_image_error":
		artifact.Status = models.ArtifactEmbeddedImageError
	default:
		artifact.Status = models.ArtifactOtherError
	}
	return artifact, nil
}

// LogMessage appends a chat message to the spreadsheet's message log.
func (c *GASClient) LogMessage(ctx context.Context, entry models.MessageLog) error {
	body := gasAction{
		Action:      "lineWebhook",
		UserID:      entry.UserID,
		DisplayName: entry.DisplayName,
		Message:     entry.Text,
		Timestamp:   entry.Timestamp.UTC().Format(time.RFC3339),
	}

	var resp gasGuest
	if err := c.post(ctx, "log message", body, &resp); err != nil {
		return err
	}
	if s := normalizeStatus(resp.Status); s != "" && s != "success" {
		return unexpectedStatus("log message", resp.Status, resp.Message)
	}
	return nil
}

func (c *GASClient) post(ctx context.Context, op string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(data))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out)
}

func (c *GASClient) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	c.log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Ledger call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(data)))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// normalizeStatus folds the spellings the web app has used over time
// ("not found", "not-found", "NOT_FOUND") into one form.
func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}

func unexpectedStatus(op, status, message string) error {
	if message != "" {
		return &TransportError{Op: op, Err: fmt.Errorf("status %q: %s", status, message)}
	}
	return &TransportError{Op: op, Err: fmt.Errorf("status %q", status)}
}
