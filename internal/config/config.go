package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	HTTPAddr string

	LedgerBackend string
	GASURL        string
	SQLitePath    string
	LedgerTimeout time.Duration

	LineChannelSecret      string
	LineChannelAccessToken string
	LineTimeout            time.Duration

	NotifyChannel   string
	WhatsAppDataDir string
	WhatsAppCountry string

	EventTimezone   string
	QRCutoff        string
	DefaultReply    string
	MessagesFile    string
	NoOpKeywords    []string
	GiftKeywords    []string
	QRKeywords      []string
	MaxWebhookBytes int64

	LogLevel  string
	LogFormat string
}

// LoadEnvFiles loads .env.local and .env from the working directory when
// present. Variables already set in the environment win.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env.local", ".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from environment variables or defaults
func LoadConfig() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		LedgerBackend: getEnv("LEDGER_BACKEND", "gas"),
		GASURL:        getEnv("GAS_URL", os.Getenv("NEXT_PUBLIC_GAS_URL")),
		SQLitePath:    getEnv("SQLITE_PATH", "data/ledger.db"),
		LedgerTimeout: getEnvDuration("LEDGER_TIMEOUT", 10*time.Second),

		LineChannelSecret:      getEnv("LINE_CHANNEL_SECRET", ""),
		LineChannelAccessToken: getEnv("LINE_CHANNEL_ACCESS_TOKEN", ""),
		LineTimeout:            getEnvDuration("LINE_TIMEOUT", 10*time.Second),

		NotifyChannel:   getEnv("NOTIFY_CHANNEL", "none"),
		WhatsAppDataDir: getEnv("WHATSAPP_DATA_DIR", "data"),
		WhatsAppCountry: getEnv("WHATSAPP_COUNTRY_CODE", "81"),

		EventTimezone:   getEnv("EVENT_TIMEZONE", "Asia/Tokyo"),
		QRCutoff:        getEnv("QR_CUTOFF", ""),
		DefaultReply:    getEnv("DEFAULT_REPLY", "silent"),
		MessagesFile:    getEnv("MESSAGES_FILE", ""),
		NoOpKeywords:    SplitList(os.Getenv("NOOP_KEYWORDS")),
		GiftKeywords:    SplitList(os.Getenv("GIFT_KEYWORDS")),
		QRKeywords:      SplitList(os.Getenv("QR_KEYWORDS")),
		MaxWebhookBytes: int64(getEnvInt("MAX_WEBHOOK_BYTES", 1<<20)),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Validate reports every setting the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	switch c.LedgerBackend {
	case "gas":
		if c.GASURL == "" {
			errs = append(errs, errors.New("GAS_URL is required when LEDGER_BACKEND=gas"))
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Errorf("LEDGER_BACKEND must be gas or sqlite, got %q", c.LedgerBackend))
	}
	if c.LineChannelSecret == "" {
		errs = append(errs, errors.New("LINE_CHANNEL_SECRET is required"))
	}
	if c.LineChannelAccessToken == "" {
		errs = append(errs, errors.New("LINE_CHANNEL_ACCESS_TOKEN is required"))
	}
	switch c.DefaultReply {
	case "silent", "ack":
	default:
		errs = append(errs, fmt.Errorf("DEFAULT_REPLY must be silent or ack, got %q", c.DefaultReply))
	}
	if c.MaxWebhookBytes <= 0 {
		errs = append(errs, errors.New("MAX_WEBHOOK_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// SplitList splits a comma separated setting, dropping empty items.
func SplitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
