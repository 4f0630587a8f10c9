package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"kazasu/internal/ledger"
	"kazasu/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS guests (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL DEFAULT '',
	requires_gift_money    INTEGER NOT NULL DEFAULT 0,
	requires_transport_fee INTEGER NOT NULL DEFAULT 0,
	qr_image_url           TEXT NOT NULL DEFAULT '',
	gift_selection_url     TEXT NOT NULL DEFAULT '',
	line_user_id           TEXT NOT NULL DEFAULT '',
	phone                  TEXT NOT NULL DEFAULT '',
	checked_in_at          TIMESTAMP,
	gift_money_answer      INTEGER,
	transport_fee_answer   INTEGER
);
CREATE INDEX IF NOT EXISTS guests_line_user_id ON guests(line_user_id);
CREATE TABLE IF NOT EXISTS messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      TEXT NOT NULL,
	display_name TEXT NOT NULL,
	text         TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL
);`

const guestColumns = `id, name, requires_gift_money, requires_transport_fee, qr_image_url,
	gift_selection_url, line_user_id, phone, checked_in_at, gift_money_answer, transport_fee_answer`

// Storage is a ledger kept in a local SQLite file. It stands in for the
// spreadsheet when the venue has no connectivity.
type Storage struct {
	db *sql.DB
}

// NewStorage opens (creating if needed) the ledger database at filePath
func NewStorage(filePath string) (*Storage, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the database handle
func (s *Storage) Close() error {
	return s.db.Close()
}

// AddGuest adds a new guest or updates an existing one. Check-in state of an
// existing guest is preserved.
func (s *Storage) AddGuest(ctx context.Context, guest models.GuestRecord) error {
	if strings.TrimSpace(guest.ID) == "" {
		return errors.New("guest id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guests (id, name, requires_gift_money, requires_transport_fee, qr_image_url,
			gift_selection_url, line_user_id, phone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			requires_gift_money = excluded.requires_gift_money,
			requires_transport_fee = excluded.requires_transport_fee,
			qr_image_url = excluded.qr_image_url,
			gift_selection_url = excluded.gift_selection_url,
			line_user_id = excluded.line_user_id,
			phone = excluded.phone`,
		guest.ID, guest.DisplayName, guest.RequiresGiftMoneyConfirmation, guest.RequiresTransportFeeConfirmation,
		guest.QRImageURL, guest.GiftSelectionURL, guest.LineUserID, guest.Phone)
	if err != nil {
		return fmt.Errorf("failed to save guest %s: %w", guest.ID, err)
	}
	return nil
}

// GetGuest retrieves a guest by id
func (s *Storage) GetGuest(ctx context.Context, id string) (*models.GuestRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+guestColumns+` FROM guests WHERE id = ?`, id)
	g, err := scanGuest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read guest %s: %w", id, err)
	}
	return g, nil
}

// GetAllGuests returns all guests ordered by id
func (s *Storage) GetAllGuests(ctx context.Context) ([]models.GuestRecord, error) {
	return s.queryGuests(ctx, `SELECT `+guestColumns+` FROM guests ORDER BY id`)
}

// GetGuestsByStatus returns guests filtered by attendance status
func (s *Storage) GetGuestsByStatus(ctx context.Context, status models.AttendanceStatus) ([]models.GuestRecord, error) {
	if status == models.AttendanceCheckedIn {
		return s.queryGuests(ctx, `SELECT `+guestColumns+` FROM guests WHERE checked_in_at IS NOT NULL ORDER BY id`)
	}
	return s.queryGuests(ctx, `SELECT `+guestColumns+` FROM guests WHERE checked_in_at IS NULL ORDER BY id`)
}

// Messages returns the logged chat messages, oldest first
func (s *Storage) Messages(ctx context.Context) ([]models.MessageLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, display_name, text, created_at FROM messages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []models.MessageLog
	for rows.Next() {
		var m models.MessageLog
		if err := rows.Scan(&m.UserID, &m.DisplayName, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LookupGuest implements ledger.Ledger.
func (s *Storage) LookupGuest(ctx context.Context, id string) (*models.GuestRecord, error) {
	return s.GetGuest(ctx, id)
}

// RecordAttendance implements ledger.Ledger. A second check-in overwrites the
// time and any answers given this time.
func (s *Storage) RecordAttendance(ctx context.Context, id string, answers models.Answers) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE guests SET
			checked_in_at = ?,
			gift_money_answer = COALESCE(?, gift_money_answer),
			transport_fee_answer = COALESCE(?, transport_fee_answer)
		WHERE id = ?`,
		time.Now().UTC(),
		answerValue(answers, models.ConfirmationGiftMoney),
		answerValue(answers, models.ConfirmationTransportFee),
		id)
	if err != nil {
		return fmt.Errorf("failed to update attendance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update attendance: %w", err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// FetchArtifact implements ledger.Ledger by finding the guest linked to userID.
func (s *Storage) FetchArtifact(ctx context.Context, kind models.ArtifactKind, userID string) (*models.Artifact, error) {
	artifact := &models.Artifact{Kind: kind}

	row := s.db.QueryRowContext(ctx, `SELECT `+guestColumns+` FROM guests WHERE line_user_id = ? AND line_user_id != '' LIMIT 1`, userID)
	g, err := scanGuest(row)
	if errors.Is(err, sql.ErrNoRows) {
		artifact.Status = models.ArtifactNotFound
		return artifact, nil
	}
	if err != nil {
		artifact.Status = models.ArtifactOtherError
		artifact.Detail = err.Error()
		return artifact, nil
	}

	artifact.Name = g.DisplayName
	switch kind {
	case models.ArtifactGiftURL:
		artifact.URL = g.GiftSelectionURL
		if artifact.URL == "" {
			artifact.Status = models.ArtifactNoURLYet
			return artifact, nil
		}
	default:
		artifact.URL = g.QRImageURL
		if artifact.URL != "" && !looksLikeURL(artifact.URL) {
			// A picture pasted into the cell is exported as a placeholder, not a link.
			artifact.Status = models.ArtifactEmbeddedImageError
			artifact.Detail = artifact.URL
			artifact.URL = ""
			return artifact, nil
		}
	}
	artifact.Status = models.ArtifactSuccess
	return artifact, nil
}

// LogMessage implements ledger.Ledger.
func (s *Storage) LogMessage(ctx context.Context, entry models.MessageLog) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (user_id, display_name, text, created_at) VALUES (?, ?, ?, ?)`,
		entry.UserID, entry.DisplayName, entry.Text, ts.UTC())
	if err != nil {
		return fmt.Errorf("failed to log message: %w", err)
	}
	return nil
}

// Load imports guests from a JSON file containing an array of guest records.
// On failure it reports how many guests were already written.
func (s *Storage) Load(ctx context.Context, jsonPath string) (int, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return 0, nil
	}

	var guests []models.GuestRecord
	if err := json.Unmarshal(data, &guests); err != nil {
		return 0, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	for i, g := range guests {
		if err := s.AddGuest(ctx, g); err != nil {
			return i, fmt.Errorf("guest %d: %w", i+1, err)
		}
	}
	return len(guests), nil
}

func (s *Storage) queryGuests(ctx context.Context, query string, args ...any) ([]models.GuestRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query guests: %w", err)
	}
	defer rows.Close()

	var result []models.GuestRecord
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan guest: %w", err)
		}
		result = append(result, *g)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGuest(row scanner) (*models.GuestRecord, error) {
	var (
		g                  models.GuestRecord
		checkedInAt        sql.NullTime
		giftAnswer, feeAns sql.NullBool
	)
	err := row.Scan(&g.ID, &g.DisplayName, &g.RequiresGiftMoneyConfirmation, &g.RequiresTransportFeeConfirmation,
		&g.QRImageURL, &g.GiftSelectionURL, &g.LineUserID, &g.Phone, &checkedInAt, &giftAnswer, &feeAns)
	if err != nil {
		return nil, err
	}

	g.Attendance = models.AttendancePending
	if checkedInAt.Valid {
		g.Attendance = models.AttendanceCheckedIn
		g.CheckedInAt = checkedInAt.Time
	}
	if giftAnswer.Valid || feeAns.Valid {
		g.Answers = models.Answers{}
		if giftAnswer.Valid {
			g.Answers[models.ConfirmationGiftMoney] = giftAnswer.Bool
		}
		if feeAns.Valid {
			g.Answers[models.ConfirmationTransportFee] = feeAns.Bool
		}
	}
	return &g, nil
}

func answerValue(answers models.Answers, kind models.ConfirmationKind) any {
	if v, ok := answers.Get(kind); ok {
		return v
	}
	return nil
}

func looksLikeURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
