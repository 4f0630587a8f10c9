package line

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/rs/zerolog"

	"kazasu/internal/models"
)

// maxMessagesPerRequest is the Messaging API limit for one reply or push.
const maxMessagesPerRequest = 5

// Client sends replies and pushes through the Messaging API. It is safe
// for concurrent use: every call gets its own API instance, since the SDK
// keeps the request context on the instance.
type Client struct {
	token string
	opts  []Option
	log   zerolog.Logger
}

// Option customizes the underlying API client.
type Option = messaging_api.MessagingApiAPIOption

// WithEndpoint points the client at another API host.
func WithEndpoint(endpoint string) Option {
	return messaging_api.WithEndpoint(endpoint)
}

// NewClient creates a client authenticated with the channel access token.
func NewClient(accessToken string, timeout time.Duration, log zerolog.Logger, opts ...Option) (*Client, error) {
	if accessToken == "" {
		return nil, errors.New("LINE channel access token is not configured")
	}
	opts = append([]Option{messaging_api.WithHTTPClient(&http.Client{Timeout: timeout})}, opts...)
	c := &Client{
		token: accessToken,
		opts:  opts,
		log:   log.With().Str("component", "line").Logger(),
	}
	if _, err := c.api(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// api returns a fresh API instance bound to ctx.
func (c *Client) api(ctx context.Context) (*messaging_api.MessagingApiAPI, error) {
	api, err := messaging_api.NewMessagingApiAPI(c.token, c.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LINE client: %w", err)
	}
	return api.WithContext(ctx), nil
}

// Reply answers an inbound event. The reply token is single-use.
func (c *Client) Reply(ctx context.Context, replyToken string, segments []models.Segment) error {
	if len(segments) == 0 {
		return nil
	}
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	_, err = api.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   c.toMessages(segments),
	})
	if err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// Push sends segments to a user without a reply token.
func (c *Client) Push(ctx context.Context, to string, segments []models.Segment) error {
	if len(segments) == 0 {
		return nil
	}
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	_, err = api.PushMessage(&messaging_api.PushMessageRequest{
		To:       to,
		Messages: c.toMessages(segments),
	}, "")
	if err != nil {
		return fmt.Errorf("failed to push message to %s: %w", to, err)
	}
	return nil
}

// ProfileName returns the display name of a user who has added the bot.
func (c *Client) ProfileName(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is empty")
	}
	api, err := c.api(ctx)
	if err != nil {
		return "", err
	}
	profile, err := api.GetProfile(userID)
	if err != nil {
		return "", fmt.Errorf("failed to get profile of %s: %w", userID, err)
	}
	return profile.DisplayName, nil
}

func (c *Client) toMessages(segments []models.Segment) []messaging_api.MessageInterface {
	if len(segments) > maxMessagesPerRequest {
		c.log.Warn().Int("segments", len(segments)).Msg("Dropping segments over the per-request limit")
		segments = segments[:maxMessagesPerRequest]
	}
	out := make([]messaging_api.MessageInterface, 0, len(segments))
	for _, s := range segments {
		switch s.Type {
		case models.SegmentImage:
			out = append(out, messaging_api.ImageMessage{
				OriginalContentUrl: s.ContentURL,
				PreviewImageUrl:    s.PreviewURL,
			})
		default:
			out = append(out, messaging_api.TextMessage{Text: s.Text})
		}
	}
	return out
}
