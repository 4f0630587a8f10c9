package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequiredConfirmations(t *testing.T) {
	g := &GuestRecord{ID: "ID-0001"}
	assert.Empty(t, g.RequiredConfirmations())

	g.RequiresTransportFeeConfirmation = true
	assert.Equal(t, []ConfirmationKind{ConfirmationTransportFee}, g.RequiredConfirmations())

	g.RequiresGiftMoneyConfirmation = true
	assert.Equal(t, []ConfirmationKind{ConfirmationGiftMoney, ConfirmationTransportFee}, g.RequiredConfirmations())
}

func TestAnswersGet(t *testing.T) {
	var a Answers
	_, ok := a.Get(ConfirmationGiftMoney)
	assert.False(t, ok)

	a = Answers{ConfirmationGiftMoney: false}
	v, ok := a.Get(ConfirmationGiftMoney)
	assert.True(t, ok)
	assert.False(t, v)
}

func TestImageSegmentPreviewDefault(t *testing.T) {
	s := ImageSegment("https://example.com/a.png", "")
	assert.Equal(t, SegmentImage, s.Type)
	assert.Equal(t, "https://example.com/a.png", s.PreviewURL)
}
