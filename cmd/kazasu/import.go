package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kazasu/internal/config"
	"kazasu/internal/storage"
)

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import guests.json",
		Short: "Import guests into the local SQLite ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			store, err := storage.NewStorage(cfg.SQLitePath)
			if err != nil {
				return fmt.Errorf("failed to open sqlite ledger: %w", err)
			}
			defer store.Close()

			n, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to import guests (%d imported before the error): %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Imported %d guest(s) into %s\n", n, cfg.SQLitePath)
			return nil
		},
	}
}
