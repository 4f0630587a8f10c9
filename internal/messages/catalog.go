// Package messages holds the human-facing text of the bot and the check-in
// console, keyed by outcome so it can be localized without touching logic.
package messages

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"kazasu/internal/models"
)

//go:embed default.yaml
var defaultCatalog []byte

// Template keys.
const (
	GiftSuccess  = "gift.success"
	GiftNoURLYet = "gift.no_url_yet"
	GiftNotFound = "gift.not_found"
	GiftError    = "gift.error"

	QRCaption              = "qr.caption"
	QREmbeddedImage        = "qr.embedded_image"
	QRNotFoundBeforeCutoff = "qr.not_found.before_cutoff"
	QRNotFoundAfterCutoff  = "qr.not_found.after_cutoff"
	QRError                = "qr.error"

	DefaultAck   = "default.ack"
	DefaultError = "default.error"

	CheckinProcessing = "checkin.processing"
	CheckinSuccess    = "checkin.success"
	CheckinNotFound   = "checkin.not_found"
	CheckinError      = "checkin.error"

	ThanksPush = "thanks.push"
)

// ConfirmKey returns the prompt key for a confirmation kind.
func ConfirmKey(kind models.ConfirmationKind) string {
	return "checkin.confirm." + string(kind)
}

// AnswerKey returns the label key for an answer to kind.
func AnswerKey(kind models.ConfirmationKind, answer bool) string {
	if answer {
		return "answer." + string(kind) + ".yes"
	}
	return "answer." + string(kind) + ".no"
}

// Keywords are the exact texts that trigger bot commands
type Keywords struct {
	NoOp []string `yaml:"noop"`
	Gift []string `yaml:"gift"`
	QR   []string `yaml:"qr"`
}

// Data is the value templates are executed against
type Data struct {
	ID      string
	Name    string
	URL     string
	Detail  string
	Answers string
}

type file struct {
	Keywords  Keywords          `yaml:"keywords"`
	Templates map[string]string `yaml:"templates"`
}

// Catalog is a parsed template table
type Catalog struct {
	Keywords  Keywords
	templates map[string]*template.Template
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := parse(defaultCatalog, nil)
	if err != nil {
		panic(fmt.Sprintf("messages: built-in catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file and lays it over the built-in one. Keys and
// keyword lists missing from the file keep their defaults.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages file: %w", err)
	}
	return parse(data, Default())
}

func parse(data []byte, base *Catalog) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}

	c := &Catalog{templates: make(map[string]*template.Template)}
	if base != nil {
		c.Keywords = base.Keywords
		for k, t := range base.templates {
			c.templates[k] = t
		}
	}
	if f.Keywords.NoOp != nil {
		c.Keywords.NoOp = f.Keywords.NoOp
	}
	if f.Keywords.Gift != nil {
		c.Keywords.Gift = f.Keywords.Gift
	}
	if f.Keywords.QR != nil {
		c.Keywords.QR = f.Keywords.QR
	}

	for key, text := range f.Templates {
		t, err := template.New(key).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %q: %w", key, err)
		}
		c.templates[key] = t
	}
	return c, nil
}

// Has reports whether key is defined.
func (c *Catalog) Has(key string) bool {
	_, ok := c.templates[key]
	return ok
}

// Render executes the template for key. An unknown key renders as the key
// itself so a gap in a translation shows up instead of an empty message.
func (c *Catalog) Render(key string, data Data) string {
	t, ok := c.templates[key]
	if !ok {
		return key
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return key
	}
	return strings.TrimSpace(buf.String())
}

// DescribeAnswers joins the labels of the given answers in asking order.
func (c *Catalog) DescribeAnswers(answers models.Answers) string {
	var parts []string
	for _, kind := range models.ConfirmationKinds() {
		if v, ok := answers.Get(kind); ok {
			parts = append(parts, c.Render(AnswerKey(kind, v), Data{}))
		}
	}
	return strings.Join(parts, "・")
}
