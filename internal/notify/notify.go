// Package notify sends the thank-you message guests receive once they have
// been checked in.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"kazasu/internal/ledger"
	"kazasu/internal/messages"
	"kazasu/internal/metrics"
	"kazasu/internal/models"
)

// Channel selects the transport used for pushes
type Channel string

const (
	ChannelNone     Channel = "none"
	ChannelLine     Channel = "line"
	ChannelWhatsApp Channel = "whatsapp"
)

// ParseChannel validates a channel name.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelNone, ChannelLine, ChannelWhatsApp:
		return c, nil
	case "":
		return ChannelNone, nil
	default:
		return "", fmt.Errorf("unknown notify channel %q", s)
	}
}

// Pusher delivers segments to a recipient without a reply token.
type Pusher interface {
	Push(ctx context.Context, to string, segments []models.Segment) error
}

// Notifier renders and pushes thank-you messages.
type Notifier struct {
	channel Channel
	pusher  Pusher
	catalog *messages.Catalog
	timeout time.Duration
	log     zerolog.Logger
}

// NewNotifier creates a notifier pushing through pusher.
func NewNotifier(channel Channel, pusher Pusher, catalog *messages.Catalog, timeout time.Duration, log zerolog.Logger) *Notifier {
	if catalog == nil {
		catalog = messages.Default()
	}
	return &Notifier{
		channel: channel,
		pusher:  pusher,
		catalog: catalog,
		timeout: timeout,
		log:     log.With().Str("component", "notify").Str("channel", string(channel)).Logger(),
	}
}

// Enabled reports whether pushes go anywhere.
func (n *Notifier) Enabled() bool {
	return n != nil && n.channel != ChannelNone && n.pusher != nil
}

// Send pushes the thank-you message to a recipient on the notifier's channel.
func (n *Notifier) Send(ctx context.Context, to, guestName, giftURL string) error {
	if !n.Enabled() {
		return errors.New("notifications are disabled")
	}
	if to == "" {
		return errors.New("recipient is required")
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	text := n.catalog.Render(messages.ThanksPush, messages.Data{Name: guestName, URL: giftURL})
	if err := n.pusher.Push(ctx, to, []models.Segment{models.TextSegment(text)}); err != nil {
		metrics.Pushes.WithLabelValues(string(n.channel), "error").Inc()
		return err
	}
	metrics.Pushes.WithLabelValues(string(n.channel), "sent").Inc()
	return nil
}

// Recipient picks the guest's address on the notifier's channel.
func (n *Notifier) Recipient(g *models.GuestRecord) string {
	switch n.channel {
	case ChannelLine:
		return g.LineUserID
	case ChannelWhatsApp:
		return g.Phone
	default:
		return ""
	}
}

// Ledger wraps a ledger so that every successful check-in triggers a push.
// Push failures are logged and never change the check-in outcome.
type Ledger struct {
	ledger.Ledger
	notifier *Notifier
}

// Wrap returns l decorated with notifications, or l itself when the
// notifier is disabled.
func Wrap(l ledger.Ledger, n *Notifier) ledger.Ledger {
	if !n.Enabled() {
		return l
	}
	return &Ledger{Ledger: l, notifier: n}
}

// RecordAttendance records through the wrapped ledger, then notifies the guest.
func (l *Ledger) RecordAttendance(ctx context.Context, id string, answers models.Answers) error {
	if err := l.Ledger.RecordAttendance(ctx, id, answers); err != nil {
		return err
	}

	guest, err := l.Ledger.LookupGuest(ctx, id)
	if err != nil {
		l.notifier.log.Warn().Err(err).Str("id", id).Msg("Could not load guest for thank-you message")
		return nil
	}
	to := l.notifier.Recipient(guest)
	if to == "" {
		l.notifier.log.Debug().Str("id", id).Msg("Guest has no address on this channel")
		return nil
	}
	if err := l.notifier.Send(ctx, to, guest.DisplayName, guest.GiftSelectionURL); err != nil {
		l.notifier.log.Error().Err(err).Str("id", id).Msg("Failed to send thank-you message")
	}
	return nil
}
