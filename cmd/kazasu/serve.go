package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kazasu/internal/config"
	"kazasu/internal/handler"
	"kazasu/internal/line"
	"kazasu/internal/notify"
	"kazasu/internal/policy"
	"kazasu/internal/server"
)

func serveCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and check-in HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), debug)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "Run gin in debug mode")
	return cmd
}

func runServe(ctx context.Context, debug bool) error {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, closeLedger, err := openLedger(cfg, log)
	if err != nil {
		return err
	}
	defer closeLedger()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	cutoff, err := policy.NewCutoff(cfg.QRCutoff, cfg.EventTimezone)
	if err != nil {
		return err
	}

	lineClient, err := line.NewClient(cfg.LineChannelAccessToken, cfg.LineTimeout, log)
	if err != nil {
		return err
	}

	notifier, disconnect, err := openNotifier(ctx, cfg, lineClient, catalog, log)
	if err != nil {
		return err
	}
	defer disconnect()
	l = notify.Wrap(l, notifier)

	dispatcher := handler.NewDispatcher(lineClient, l, catalog, &handler.Config{
		ChannelSecret: []byte(cfg.LineChannelSecret),
		Keywords:      catalog.Keywords,
		Cutoff:        cutoff,
		DefaultReply:  handler.ReplyPolicy(cfg.DefaultReply),
		Timeout:       cfg.LedgerTimeout,
	}, log)

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = cfg.HTTPAddr
	srvCfg.MaxWebhookBytes = cfg.MaxWebhookBytes
	srvCfg.Debug = debug
	srv := server.NewServer(srvCfg, dispatcher, l, notifier, log)

	log.Info().
		Str("backend", cfg.LedgerBackend).
		Str("notify", cfg.NotifyChannel).
		Str("cutoff", cutoff.String()).
		Str("timezone", cutoff.Location().String()).
		Msg("Starting kazasu")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
