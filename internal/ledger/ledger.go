// Package ledger defines the guest registry contract shared by the check-in
// workflow and the chat dispatcher, and a client for the spreadsheet-backed
// registry.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"kazasu/internal/models"
)

// ErrNotFound is returned when an identifier is unknown to the ledger.
var ErrNotFound = errors.New("guest not found")

// TransportError reports that the ledger could not be reached or answered
// with something other than a success.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ledger %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Ledger is the system of record for guests and their check-in state.
type Ledger interface {
	LookupGuest(ctx context.Context, id string) (*models.GuestRecord, error)
	RecordAttendance(ctx context.Context, id string, answers models.Answers) error
	FetchArtifact(ctx context.Context, kind models.ArtifactKind, userID string) (*models.Artifact, error)
	LogMessage(ctx context.Context, entry models.MessageLog) error
}
