package handler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kazasu/internal/line"
	"kazasu/internal/messages"
	"kazasu/internal/metrics"
	"kazasu/internal/models"
	"kazasu/internal/policy"
)

// UnknownName is used when the sender's profile cannot be resolved.
const UnknownName = "Unknown"

var (
	// ErrAuthentication is the parent of every signature failure.
	ErrAuthentication = errors.New("webhook authentication failed")
	// ErrMissingSignature is returned when the signature header is absent.
	ErrMissingSignature = fmt.Errorf("%w: missing signature", ErrAuthentication)
	// ErrSignatureMismatch is returned when the signature does not match the body.
	ErrSignatureMismatch = fmt.Errorf("%w: signature mismatch", ErrAuthentication)
)

// ValidationError reports an authenticated body that cannot be processed.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid webhook body: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// Ledger is the part of the guest ledger the bot needs.
type Ledger interface {
	FetchArtifact(ctx context.Context, kind models.ArtifactKind, userID string) (*models.Artifact, error)
	LogMessage(ctx context.Context, entry models.MessageLog) error
}

// Messenger sends replies and resolves sender names.
type Messenger interface {
	Reply(ctx context.Context, replyToken string, segments []models.Segment) error
	ProfileName(ctx context.Context, userID string) (string, error)
}

// Command is the classification of an inbound text
type Command string

const (
	CommandNoOp    Command = "noop"
	CommandGift    Command = "gift"
	CommandQR      Command = "qr"
	CommandDefault Command = "default"
)

// ReplyPolicy selects whether unrecognized messages are acknowledged
type ReplyPolicy string

const (
	ReplySilent ReplyPolicy = "silent"
	ReplyAck    ReplyPolicy = "ack"
)

// Config holds the dispatcher settings
type Config struct {
	ChannelSecret []byte
	Keywords      messages.Keywords
	Cutoff        *policy.Cutoff
	DefaultReply  ReplyPolicy
	// Timeout bounds each ledger and messaging call.
	Timeout time.Duration
}

// Result summarizes one delivery
type Result struct {
	DeliveryID string
	Events     int
	Processed  int
	Skipped    int
	Failed     int
}

// Dispatcher authenticates webhook deliveries and answers chat commands.
type Dispatcher struct {
	messenger Messenger
	ledger    Ledger
	catalog   *messages.Catalog
	config    *Config
	log       zerolog.Logger
	now       func() time.Time
}

// NewDispatcher creates a new command dispatcher
func NewDispatcher(messenger Messenger, ledger Ledger, catalog *messages.Catalog, cfg *Config, log zerolog.Logger) *Dispatcher {
	if catalog == nil {
		catalog = messages.Default()
	}
	return &Dispatcher{
		messenger: messenger,
		ledger:    ledger,
		catalog:   catalog,
		config:    cfg,
		log:       log.With().Str("component", "dispatcher").Logger(),
		now:       time.Now,
	}
}

// SetClock replaces the wall clock used for the cutoff policy.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// HandleDelivery verifies body against signature and processes its events
// in order. Once authenticated, per-event failures are contained and only
// counted in the result.
func (d *Dispatcher) HandleDelivery(ctx context.Context, body []byte, signature string) (*Result, error) {
	if signature == "" {
		return nil, ErrMissingSignature
	}
	if !line.VerifySignature(d.config.ChannelSecret, body, signature) {
		return nil, ErrSignatureMismatch
	}

	payload, err := line.ParsePayload(body)
	if err != nil {
		return nil, &ValidationError{Err: err}
	}

	res := &Result{DeliveryID: uuid.NewString(), Events: len(payload.Events)}
	log := d.log.With().Str("delivery", res.DeliveryID).Logger()
	log.Debug().Int("events", res.Events).Msg("Webhook delivery")

	for i, ev := range payload.Events {
		if !ev.IsText() {
			res.Skipped++
			continue
		}
		if err := d.handleEvent(ctx, log, ev); err != nil {
			res.Failed++
			log.Error().Err(err).Int("index", i).Str("user", ev.Source.UserID).Msg("Error handling event")
			continue
		}
		res.Processed++
	}
	return res, nil
}

// Classify maps a message text to a command. Keywords match exactly after
// trimming surrounding whitespace; no-op keywords win over gift, gift over QR.
func (d *Dispatcher) Classify(text string) Command {
	text = strings.TrimSpace(text)
	switch {
	case matchesAny(text, d.config.Keywords.NoOp...):
		return CommandNoOp
	case matchesAny(text, d.config.Keywords.Gift...):
		return CommandGift
	case matchesAny(text, d.config.Keywords.QR...):
		return CommandQR
	default:
		return CommandDefault
	}
}

func (d *Dispatcher) handleEvent(ctx context.Context, log zerolog.Logger, ev line.Event) (err error) {
	cmd := d.Classify(ev.Message.Text)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling %s command: %v", cmd, r)
			metrics.ChatEvents.WithLabelValues(string(cmd), "panic").Inc()
			d.replyAfterPanic(ctx, log, ev.ReplyToken)
		}
	}()

	userID := ev.Source.UserID
	if userID == "" {
		userID = "unknown"
	}

	var (
		reply   []models.Segment
		outcome string
	)
	switch cmd {
	case CommandNoOp:
		outcome = "ignored"
	case CommandGift:
		reply, outcome = d.handleGift(ctx, log, ev, userID)
	case CommandQR:
		reply, outcome = d.handleQR(ctx, log, ev, userID)
	default:
		reply, outcome = d.handleDefault(ctx, log, ev, userID)
	}

	metrics.ChatEvents.WithLabelValues(string(cmd), outcome).Inc()
	log.Info().Str("user", userID).Str("command", string(cmd)).Str("outcome", outcome).Msg("Handled message")

	d.reply(ctx, log, ev.ReplyToken, reply)
	if outcome == "error" {
		return fmt.Errorf("%s command failed", cmd)
	}
	return nil
}

func (d *Dispatcher) handleGift(ctx context.Context, log zerolog.Logger, ev line.Event, userID string) ([]models.Segment, string) {
	callCtx, cancel := d.callContext(ctx)
	art, err := d.ledger.FetchArtifact(callCtx, models.ArtifactGiftURL, userID)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("Failed to fetch gift URL")
		return d.text(messages.GiftError, messages.Data{}), "error"
	}

	switch {
	case art.Status == models.ArtifactSuccess && art.URL != "":
		name := art.Name
		if name == "" {
			name = d.displayName(ctx, log, ev.Source.UserID)
		}
		return d.text(messages.GiftSuccess, messages.Data{Name: name, URL: art.URL}), "success"
	case art.Status == models.ArtifactSuccess, art.Status == models.ArtifactNoURLYet:
		return d.text(messages.GiftNoURLYet, messages.Data{}), "no_url_yet"
	case art.Status == models.ArtifactNotFound:
		return d.text(messages.GiftNotFound, messages.Data{}), "not_found"
	default:
		log.Warn().Str("user", userID).Str("status", string(art.Status)).Str("detail", art.Detail).Msg("Gift URL lookup failed")
		return d.text(messages.GiftError, messages.Data{}), "error"
	}
}

func (d *Dispatcher) handleQR(ctx context.Context, log zerolog.Logger, ev line.Event, userID string) ([]models.Segment, string) {
	callCtx, cancel := d.callContext(ctx)
	art, err := d.ledger.FetchArtifact(callCtx, models.ArtifactQRCode, userID)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("Failed to fetch QR code")
		return d.text(messages.QRError, messages.Data{Detail: err.Error()}), "error"
	}

	switch art.Status {
	case models.ArtifactSuccess:
		if !validImageURL(art.URL) {
			log.Warn().Str("user", userID).Str("url", art.URL).Msg("QR code URL is missing or malformed")
			return d.text(messages.QREmbeddedImage, messages.Data{}), "bad_url"
		}
		name := art.Name
		if name == "" {
			name = d.displayName(ctx, log, ev.Source.UserID)
		}
		return []models.Segment{
			models.TextSegment(d.catalog.Render(messages.QRCaption, messages.Data{Name: name})),
			models.ImageSegment(art.URL, art.URL),
		}, "success"
	case models.ArtifactEmbeddedImageError:
		return d.text(messages.QREmbeddedImage, messages.Data{}), "embedded_image"
	case models.ArtifactNotFound:
		return d.handleUnknownQRSender(ctx, log, ev, userID)
	default:
		return d.text(messages.QRError, messages.Data{Detail: art.Detail}), "error"
	}
}

// handleUnknownQRSender applies the cutoff: before it the request is logged
// so the couple can follow up by hand, after it the guest is sent to the desk.
func (d *Dispatcher) handleUnknownQRSender(ctx context.Context, log zerolog.Logger, ev line.Event, userID string) ([]models.Segment, string) {
	now := d.now()
	if d.config.Cutoff.Reached(now) {
		return d.text(messages.QRNotFoundAfterCutoff, messages.Data{}), "after_cutoff"
	}

	entry := models.MessageLog{
		UserID:      userID,
		DisplayName: d.displayName(ctx, log, ev.Source.UserID),
		Text:        ev.Message.Text,
		Timestamp:   ev.Time(now),
	}
	callCtx, cancel := d.callContext(ctx)
	err := d.ledger.LogMessage(callCtx, entry)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("Failed to log QR request")
		return d.text(messages.QRError, messages.Data{Detail: err.Error()}), "error"
	}
	return d.text(messages.QRNotFoundBeforeCutoff, messages.Data{}), "before_cutoff"
}

func (d *Dispatcher) handleDefault(ctx context.Context, log zerolog.Logger, ev line.Event, userID string) ([]models.Segment, string) {
	entry := models.MessageLog{
		UserID:      userID,
		DisplayName: d.displayName(ctx, log, ev.Source.UserID),
		Text:        ev.Message.Text,
		Timestamp:   ev.Time(d.now()),
	}

	callCtx, cancel := d.callContext(ctx)
	err := d.ledger.LogMessage(callCtx, entry)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("Failed to save message")
		if d.config.DefaultReply == ReplyAck {
			return d.text(messages.DefaultError, messages.Data{}), "error"
		}
		return nil, "error"
	}

	if d.config.DefaultReply == ReplyAck {
		return d.text(messages.DefaultAck, messages.Data{}), "logged"
	}
	return nil, "logged"
}

// displayName resolves the sender's profile name. Failure is never fatal.
func (d *Dispatcher) displayName(ctx context.Context, log zerolog.Logger, userID string) string {
	if userID == "" {
		return UnknownName
	}
	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	name, err := d.messenger.ProfileName(callCtx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Failed to get user profile")
		return UnknownName
	}
	if name == "" {
		return UnknownName
	}
	return name
}

func (d *Dispatcher) reply(ctx context.Context, log zerolog.Logger, token string, segments []models.Segment) {
	if len(segments) == 0 || token == "" {
		return
	}
	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	if err := d.messenger.Reply(callCtx, token, segments); err != nil {
		log.Error().Err(err).Msg("Failed to send reply")
	}
}

// replyAfterPanic sends the generic error text. The panic may have come from
// the messenger itself, so a second one is swallowed here.
func (d *Dispatcher) replyAfterPanic(ctx context.Context, log zerolog.Logger, token string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Failed to send error reply")
		}
	}()
	d.reply(ctx, log, token, d.text(messages.DefaultError, messages.Data{}))
}

func (d *Dispatcher) text(key string, data messages.Data) []models.Segment {
	return []models.Segment{models.TextSegment(d.catalog.Render(key, data))}
}

func (d *Dispatcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.config.Timeout > 0 {
		return context.WithTimeout(ctx, d.config.Timeout)
	}
	return context.WithCancel(ctx)
}

// matchesAny checks if the text equals any of the given keywords
func matchesAny(text string, keywords ...string) bool {
	for _, keyword := range keywords {
		if keyword != "" && text == strings.TrimSpace(keyword) {
			return true
		}
	}
	return false
}

// validImageURL reports whether u can be sent as an image message.
func validImageURL(u string) bool {
	if u == "" {
		return false
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return parsed.Scheme == "https" && parsed.Host != ""
}
