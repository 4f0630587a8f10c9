// Package line contains the LINE Messaging API pieces of the bot: webhook
// payload types, signature verification and the outbound client.
package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Line-Signature"

// Sign returns the signature LINE would send for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the exact bytes received. The
// body must not be re-encoded before this call.
func VerifySignature(secret, body []byte, signature string) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}
	expected := Sign(secret, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Payload is the body of a webhook delivery
type Payload struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is one inbound webhook event
type Event struct {
	Type           string   `json:"type"`
	WebhookEventID string   `json:"webhookEventId"`
	ReplyToken     string   `json:"replyToken"`
	Timestamp      int64    `json:"timestamp"`
	Source         Source   `json:"source"`
	Message        *Message `json:"message,omitempty"`
}

// Source identifies the sender of an event
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// Message is the message part of a message event
type Message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// IsText reports whether the event is a text message the bot acts on.
func (e Event) IsText() bool {
	return e.Type == "message" && e.Message != nil && e.Message.Type == "text"
}

// Time returns the event timestamp, or fallback when none was sent.
func (e Event) Time(fallback time.Time) time.Time {
	if e.Timestamp == 0 {
		return fallback
	}
	return time.UnixMilli(e.Timestamp)
}

// ParsePayload decodes an already verified webhook body.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	return &p, nil
}
