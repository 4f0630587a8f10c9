package messages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kazasu/internal/models"
)

func TestDefaultCatalogHasEveryKey(t *testing.T) {
	c := Default()
	keys := []string{
		GiftSuccess, GiftNoURLYet, GiftNotFound, GiftError,
		QRCaption, QREmbeddedImage, QRNotFoundBeforeCutoff, QRNotFoundAfterCutoff, QRError,
		DefaultAck, DefaultError,
		CheckinProcessing, CheckinSuccess, CheckinNotFound, CheckinError,
		ThanksPush,
	}
	for _, kind := range models.ConfirmationKinds() {
		keys = append(keys, ConfirmKey(kind), AnswerKey(kind, true), AnswerKey(kind, false))
	}
	for _, k := range keys {
		assert.True(t, c.Has(k), k)
	}
	assert.NotEmpty(t, c.Keywords.Gift)
	assert.NotEmpty(t, c.Keywords.QR)
	assert.NotEmpty(t, c.Keywords.NoOp)
}

func TestRender(t *testing.T) {
	c := Default()

	out := c.Render(GiftSuccess, Data{Name: "佐藤", URL: "https://gift.example.com/a"})
	assert.Contains(t, out, "佐藤様")
	assert.Contains(t, out, "https://gift.example.com/a")

	assert.NotContains(t, c.Render(QRError, Data{}), "（")
	assert.Contains(t, c.Render(QRError, Data{Detail: "timeout"}), "（timeout）")

	assert.Contains(t, c.Render(ThanksPush, Data{Name: "佐藤", URL: "https://gift.example.com/a"}), "https://gift.example.com/a")
	assert.Contains(t, c.Render(ThanksPush, Data{Name: "佐藤"}), "後日")

	assert.Equal(t, "no.such.key", c.Render("no.such.key", Data{}))
}

func TestDescribeAnswers(t *testing.T) {
	c := Default()
	assert.Equal(t, "", c.DescribeAnswers(nil))
	assert.Equal(t, "ご祝儀あり・お車代なし", c.DescribeAnswers(models.Answers{
		models.ConfirmationTransportFee: false,
		models.ConfirmationGiftMoney:    true,
	}))
	assert.Equal(t, "成功: ID-0001 の出席が記録されました", c.Render(CheckinSuccess, Data{ID: "ID-0001"}))
	assert.Equal(t, "成功: ID-0001 の出席が記録されました（ご祝儀なし）", c.Render(CheckinSuccess, Data{
		ID:      "ID-0001",
		Answers: c.DescribeAnswers(models.Answers{models.ConfirmationGiftMoney: false}),
	}))
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	data := `
keywords:
  qr:
    - qr
templates:
  default.ack: "Saved."
  gift.success: "Hi {{.Name}}: {{.URL}}"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"qr"}, c.Keywords.QR)
	assert.Equal(t, Default().Keywords.Gift, c.Keywords.Gift)
	assert.Equal(t, "Saved.", c.Render(DefaultAck, Data{}))
	assert.Equal(t, "Hi Ann: https://x", c.Render(GiftSuccess, Data{Name: "Ann", URL: "https://x"}))
	assert.True(t, c.Has(QRCaption))
}

func TestLoadRejectsBadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates:\n  default.ack: \"{{.Name\"\n"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}
