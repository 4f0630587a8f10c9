// Package checkin implements the attendant-side check-in state machine:
// look a scanned guest up, ask for any required confirmations, then record
// attendance in the ledger.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"kazasu/internal/ledger"
	"kazasu/internal/messages"
	"kazasu/internal/metrics"
	"kazasu/internal/models"
)

// State of a check-in session
type State string

const (
	StateIdle                 State = "idle"
	StateScanning             State = "scanning"
	StateProcessing           State = "processing"
	StateSuccess              State = "success"
	StateNotFound             State = "not_found"
	StateError                State = "error"
	StateAwaitingConfirmation State = "awaiting_confirmation"
)

// Busy reports whether the state blocks new submissions.
func (s State) Busy() bool {
	return s == StateProcessing || s == StateAwaitingConfirmation
}

var (
	// ErrBusy is returned when a guest is already being handled.
	ErrBusy = errors.New("check-in already in progress")
	// ErrInvalidTransition is returned for actions the current state does not accept.
	ErrInvalidTransition = errors.New("invalid check-in transition")
)

// ValidationError reports malformed input rejected before any ledger call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Ledger is the part of the guest ledger the workflow needs.
type Ledger interface {
	LookupGuest(ctx context.Context, id string) (*models.GuestRecord, error)
	RecordAttendance(ctx context.Context, id string, answers models.Answers) error
}

// Session is the state of one attendant's check-in screen.
type Session struct {
	State       State
	ID          string
	DisplayName string
	Pending     []models.ConfirmationKind
	Answers     models.Answers
	Message     string
	LastScanned string
}

// NewSession returns an idle session.
func NewSession() *Session {
	return &Session{State: StateIdle}
}

// Current returns the confirmation being asked, if any.
func (s *Session) Current() (models.ConfirmationKind, bool) {
	if s.State != StateAwaitingConfirmation || len(s.Pending) == 0 {
		return "", false
	}
	return s.Pending[0], true
}

func (s *Session) clear() {
	s.ID = ""
	s.DisplayName = ""
	s.Pending = nil
	s.Answers = nil
	s.Message = ""
}

// Workflow drives sessions through the check-in states. It holds no
// per-guest state, so one Workflow can serve any number of sessions.
type Workflow struct {
	ledger  Ledger
	catalog *messages.Catalog
	timeout time.Duration
	log     zerolog.Logger
}

// NewWorkflow creates a workflow backed by l. Ledger calls are bounded by
// timeout when it is positive.
func NewWorkflow(l Ledger, catalog *messages.Catalog, timeout time.Duration, log zerolog.Logger) *Workflow {
	if catalog == nil {
		catalog = messages.Default()
	}
	return &Workflow{
		ledger:  l,
		catalog: catalog,
		timeout: timeout,
		log:     log.With().Str("component", "checkin").Logger(),
	}
}

// BeginScan opens the scanner. No ledger call is made.
func (w *Workflow) BeginScan(s *Session) error {
	if s.State.Busy() {
		return ErrBusy
	}
	s.clear()
	s.State = StateScanning
	return nil
}

// Cancel returns the session to idle and drops the guest being handled
// without touching the ledger.
func (w *Workflow) Cancel(s *Session) error {
	if s.State == StateProcessing {
		return ErrBusy
	}
	s.clear()
	s.State = StateIdle
	return nil
}

// Submit handles an identifier from the scanner or from manual entry.
// Ledger outcomes are reported through the session; the returned error is
// only for input the session cannot accept.
func (w *Workflow) Submit(ctx context.Context, s *Session, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if s.State.Busy() {
		return ErrBusy
	}

	s.clear()
	s.ID = id
	s.LastScanned = id
	s.State = StateProcessing
	s.Message = w.catalog.Render(messages.CheckinProcessing, messages.Data{ID: id})

	w.lookupAndRoute(ctx, s)
	return nil
}

// Resolve answers the confirmation currently asked. Attendance is recorded
// once every required confirmation has an answer.
func (w *Workflow) Resolve(ctx context.Context, s *Session, answer bool) error {
	kind, ok := s.Current()
	if !ok {
		return ErrInvalidTransition
	}

	if s.Answers == nil {
		s.Answers = models.Answers{}
	}
	s.Answers[kind] = answer
	s.Pending = s.Pending[1:]

	if len(s.Pending) > 0 {
		s.Message = w.prompt(s)
		return nil
	}

	s.State = StateProcessing
	w.recordAttendance(ctx, s)
	return nil
}

func (w *Workflow) lookupAndRoute(ctx context.Context, s *Session) {
	callCtx, cancel := w.callContext(ctx)
	defer cancel()

	guest, err := w.ledger.LookupGuest(callCtx, s.ID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		w.finish(s, StateNotFound, messages.CheckinNotFound, messages.Data{ID: s.ID})
		return
	case err != nil:
		w.log.Error().Err(err).Str("id", s.ID).Msg("Lookup failed")
		w.finish(s, StateError, messages.CheckinError, messages.Data{ID: s.ID, Detail: err.Error()})
		return
	}

	s.DisplayName = guest.DisplayName
	kinds := guest.RequiredConfirmations()
	if len(kinds) == 0 {
		w.recordAttendance(ctx, s)
		return
	}

	s.Pending = kinds
	s.State = StateAwaitingConfirmation
	s.Message = w.prompt(s)
	w.log.Debug().Str("id", s.ID).Int("pending", len(kinds)).Msg("Awaiting confirmation")
}

func (w *Workflow) recordAttendance(ctx context.Context, s *Session) {
	callCtx, cancel := w.callContext(ctx)
	defer cancel()

	err := w.ledger.RecordAttendance(callCtx, s.ID, s.Answers)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		// The guest vanished between lookup and write; treated as plain not-found.
		w.finish(s, StateNotFound, messages.CheckinNotFound, messages.Data{ID: s.ID})
	case err != nil:
		w.log.Error().Err(err).Str("id", s.ID).Msg("Recording attendance failed")
		w.finish(s, StateError, messages.CheckinError, messages.Data{ID: s.ID, Detail: err.Error()})
	default:
		w.log.Info().Str("id", s.ID).Str("name", s.DisplayName).Msg("Guest checked in")
		w.finish(s, StateSuccess, messages.CheckinSuccess, messages.Data{
			ID:      s.ID,
			Name:    s.DisplayName,
			Answers: w.catalog.DescribeAnswers(s.Answers),
		})
	}
}

func (w *Workflow) finish(s *Session, state State, key string, data messages.Data) {
	s.State = state
	s.Pending = nil
	s.Message = w.catalog.Render(key, data)
	metrics.Checkins.WithLabelValues(string(state)).Inc()
}

func (w *Workflow) prompt(s *Session) string {
	kind, _ := s.Current()
	name := s.DisplayName
	if name == "" {
		name = s.ID
	}
	return w.catalog.Render(messages.ConfirmKey(kind), messages.Data{ID: s.ID, Name: name})
}

func (w *Workflow) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.timeout > 0 {
		return context.WithTimeout(ctx, w.timeout)
	}
	return context.WithCancel(ctx)
}
