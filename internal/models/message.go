package models

import "time"

// SegmentType distinguishes the parts of an outbound reply
type SegmentType string

const (
	SegmentText  SegmentType = "text"
	SegmentImage SegmentType = "image"
)

// Segment is one part of an outbound chat message batch
type Segment struct {
	Type       SegmentType `json:"type"`
	Text       string      `json:"text,omitempty"`
	ContentURL string      `json:"content_url,omitempty"`
	PreviewURL string      `json:"preview_url,omitempty"`
}

// TextSegment builds a text segment.
func TextSegment(text string) Segment {
	return Segment{Type: SegmentText, Text: text}
}

// ImageSegment builds an image segment. The preview defaults to the content URL.
func ImageSegment(contentURL, previewURL string) Segment {
	if previewURL == "" {
		previewURL = contentURL
	}
	return Segment{Type: SegmentImage, ContentURL: contentURL, PreviewURL: previewURL}
}

// ArtifactKind selects a personal artifact kept in the ledger
type ArtifactKind string

const (
	ArtifactQRCode  ArtifactKind = "qr"
	ArtifactGiftURL ArtifactKind = "gift_url"
)

// ArtifactStatus is the ledger-reported outcome of an artifact lookup
type ArtifactStatus string

const (
	ArtifactSuccess            ArtifactStatus = "success"
	ArtifactNoURLYet           ArtifactStatus = "no_url_yet"
	ArtifactNotFound           ArtifactStatus = "not_found"
	ArtifactEmbeddedImageError ArtifactStatus = "embedded_image_error"
	ArtifactOtherError         ArtifactStatus = "other_error"
)

// Artifact is the result of an artifact lookup for a chat sender
type Artifact struct {
	Kind   ArtifactKind   `json:"kind"`
	Status ArtifactStatus `json:"status"`
	Name   string         `json:"name,omitempty"`
	URL    string         `json:"url,omitempty"`
	Detail string         `json:"detail,omitempty"`
}

// MessageLog is a chat message written to the ledger as a note
type MessageLog struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}
