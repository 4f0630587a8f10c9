package line

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "channel-secret"

var testBody = []byte(`{"destination":"Ubot","events":[{"type":"message","replyToken":"r1","timestamp":1715300000000,"source":{"type":"user","userId":"U1"},"message":{"id":"1","type":"text","text":"QRコード"}}]}`)

func TestVerifySignatureExactBytes(t *testing.T) {
	sig := Sign([]byte(testSecret), testBody)
	assert.True(t, VerifySignature([]byte(testSecret), testBody, sig))

	for i := range testBody {
		mutated := append([]byte(nil), testBody...)
		mutated[i] ^= 0x01
		assert.False(t, VerifySignature([]byte(testSecret), mutated, sig), "byte %d", i)
	}
}

func TestVerifySignatureRejectsEmptyInputs(t *testing.T) {
	sig := Sign([]byte(testSecret), testBody)
	assert.False(t, VerifySignature([]byte(testSecret), testBody, ""))
	assert.False(t, VerifySignature(nil, testBody, sig))
	assert.False(t, VerifySignature([]byte("other-secret"), testBody, sig))
}

func TestVerifySignatureRejectsReencodedBody(t *testing.T) {
	// Same JSON with different whitespace is a different payload.
	sig := Sign([]byte(testSecret), testBody)
	reencoded := []byte(`{"destination": "Ubot", "events": []}`)
	assert.False(t, VerifySignature([]byte(testSecret), reencoded, sig))
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload(testBody)
	require.NoError(t, err)
	require.Len(t, p.Events, 1)

	e := p.Events[0]
	assert.True(t, e.IsText())
	assert.Equal(t, "U1", e.Source.UserID)
	assert.Equal(t, "QRコード", e.Message.Text)
	assert.Equal(t, time.UnixMilli(1715300000000), e.Time(time.Time{}))

	follow := Event{Type: "follow"}
	assert.False(t, follow.IsText())
	sticker := Event{Type: "message", Message: &Message{Type: "sticker"}}
	assert.False(t, sticker.IsText())

	now := time.Now()
	assert.Equal(t, now, follow.Time(now))

	_, err = ParsePayload([]byte("{"))
	assert.Error(t, err)
}
