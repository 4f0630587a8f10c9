package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"kazasu/internal/config"
	"kazasu/internal/storage"
)

func qrCmd() *cobra.Command {
	var (
		outDir string
		size   int
	)

	cmd := &cobra.Command{
		Use:   "qr [id...]",
		Short: "Write a check-in QR code PNG per guest",
		Long: `Write a check-in QR code PNG per guest id. Without ids, every guest in
the local SQLite ledger gets one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := args
			if len(ids) == 0 {
				cfg := config.LoadConfig()
				store, err := storage.NewStorage(cfg.SQLitePath)
				if err != nil {
					return fmt.Errorf("failed to open sqlite ledger: %w", err)
				}
				defer store.Close()
				guests, err := store.GetAllGuests(cmd.Context())
				if err != nil {
					return err
				}
				for _, g := range guests {
					ids = append(ids, g.ID)
				}
			}

			n, err := writeQRCodes(outDir, ids, size)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d QR code(s) to %s\n", n, outDir)
			return err
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "qr", "Output directory")
	cmd.Flags().IntVar(&size, "size", 256, "Image size in pixels")
	return cmd
}

func writeQRCodes(dir string, ids []string, size int) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}
	for i, id := range ids {
		path := filepath.Join(dir, filepath.Base(id)+".png")
		if err := qrcode.WriteFile(id, qrcode.Medium, size, path); err != nil {
			return i, fmt.Errorf("failed to write QR code for %s: %w", id, err)
		}
	}
	return len(ids), nil
}
