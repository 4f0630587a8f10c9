package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kazasu/internal/config"
	"kazasu/internal/ledger"
	"kazasu/internal/line"
	"kazasu/internal/messages"
	"kazasu/internal/notify"
	"kazasu/internal/storage"
	"kazasu/internal/whatsapp"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:           "kazasu",
		Short:         "Wedding reception check-in and LINE bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnvFiles(envFiles...)
		},
	}
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load (default .env.local, .env)")

	cmd.AddCommand(
		serveCmd(),
		checkinCmd(),
		guestsCmd(),
		qrCmd(),
		importCmd(),
	)
	return cmd
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.LogFormat == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

// openLedger returns the configured ledger and a func releasing it.
func openLedger(cfg *config.Config, log zerolog.Logger) (ledger.Ledger, func(), error) {
	switch cfg.LedgerBackend {
	case "sqlite":
		store, err := storage.NewStorage(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite ledger: %w", err)
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("Using SQLite ledger")
		return store, func() { store.Close() }, nil
	case "gas", "":
		client, err := ledger.NewGASClient(cfg.GASURL, cfg.LedgerTimeout, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("Using spreadsheet ledger")
		return client, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

// loadCatalog reads MESSAGES_FILE when set and applies keyword overrides.
func loadCatalog(cfg *config.Config) (*messages.Catalog, error) {
	catalog := messages.Default()
	if cfg.MessagesFile != "" {
		var err error
		if catalog, err = messages.Load(cfg.MessagesFile); err != nil {
			return nil, err
		}
	}
	if cfg.NoOpKeywords != nil {
		catalog.Keywords.NoOp = cfg.NoOpKeywords
	}
	if cfg.GiftKeywords != nil {
		catalog.Keywords.Gift = cfg.GiftKeywords
	}
	if cfg.QRKeywords != nil {
		catalog.Keywords.QR = cfg.QRKeywords
	}
	return catalog, nil
}

// openNotifier builds the thank-you notifier for NOTIFY_CHANNEL. lineClient
// may be nil when the channel is not line. The returned func disconnects
// any session the notifier opened.
func openNotifier(ctx context.Context, cfg *config.Config, lineClient *line.Client, catalog *messages.Catalog, log zerolog.Logger) (*notify.Notifier, func(), error) {
	channel, err := notify.ParseChannel(cfg.NotifyChannel)
	if err != nil {
		return nil, nil, err
	}

	switch channel {
	case notify.ChannelLine:
		if lineClient == nil {
			if lineClient, err = line.NewClient(cfg.LineChannelAccessToken, cfg.LineTimeout, log); err != nil {
				return nil, nil, err
			}
		}
		return notify.NewNotifier(channel, lineClient, catalog, cfg.LineTimeout, log), func() {}, nil
	case notify.ChannelWhatsApp:
		service, err := whatsapp.NewService(ctx, &whatsapp.Config{
			DataDir:     cfg.WhatsAppDataDir,
			CountryCode: cfg.WhatsAppCountry,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize WhatsApp service: %w", err)
		}
		fmt.Println("Connecting to WhatsApp...")
		if err := service.Connect(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to WhatsApp: %w", err)
		}
		if jid, ok := service.JID(); ok {
			log.Info().Str("jid", jid.String()).Msg("WhatsApp account linked")
		}
		return notify.NewNotifier(channel, service, catalog, cfg.LineTimeout, log), service.Disconnect, nil
	default:
		return notify.NewNotifier(notify.ChannelNone, nil, catalog, 0, log), func() {}, nil
	}
}
