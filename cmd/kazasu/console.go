package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kazasu/internal/checkin"
	"kazasu/internal/config"
	"kazasu/internal/models"
	"kazasu/internal/notify"
	"kazasu/internal/storage"
)

func checkinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkin",
		Short: "Run the reception desk console",
		Long: `Run the reception desk console.

Scan a guest's QR code with a keyboard-wedge scanner or type the id, then
answer any confirmation with y or n. Type s to arm the scanner, c to cancel
the guest being handled, and q to quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			log := newLogger(cfg)

			l, closeLedger, err := openLedger(cfg, log)
			if err != nil {
				return err
			}
			defer closeLedger()

			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			notifier, disconnect, err := openNotifier(cmd.Context(), cfg, nil, catalog, log)
			if err != nil {
				return err
			}
			defer disconnect()

			workflow := checkin.NewWorkflow(notify.Wrap(l, notifier), catalog, cfg.LedgerTimeout, log)
			return runConsole(cmd.Context(), workflow, os.Stdin, os.Stdout)
		},
	}
}

// runConsole reads commands and ids line by line until q or end of input.
func runConsole(ctx context.Context, workflow *checkin.Workflow, in io.Reader, out io.Writer) error {
	session := checkin.NewSession()
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "💒 Reception check-in")
	fmt.Fprintln(out, "=====================")
	printPrompt(out, session)

	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			printPrompt(out, session)
			continue
		}

		var err error
		switch strings.ToLower(input) {
		case "q":
			fmt.Fprintln(out, "Exiting...")
			return nil
		case "s":
			if err = workflow.BeginScan(session); err == nil {
				fmt.Fprintln(out, "📷 Scanner ready")
			}
		case "c":
			if err = workflow.Cancel(session); err == nil {
				fmt.Fprintln(out, "Cancelled.")
			}
		case "y", "n":
			err = workflow.Resolve(ctx, session, strings.EqualFold(input, "y"))
		default:
			err = workflow.Submit(ctx, session, input)
		}

		if err != nil {
			fmt.Fprintf(out, "❌ %s\n", consoleError(err))
		} else if session.Message != "" {
			fmt.Fprintln(out, stateIcon(session.State)+" "+session.Message)
		}
		printPrompt(out, session)
	}
	return scanner.Err()
}

func consoleError(err error) string {
	var validation *checkin.ValidationError
	switch {
	case errors.Is(err, checkin.ErrBusy):
		return "A guest is still being handled. Answer y/n or type c to cancel."
	case errors.Is(err, checkin.ErrInvalidTransition):
		return "Nothing to confirm."
	case errors.As(err, &validation):
		return validation.Error()
	default:
		return err.Error()
	}
}

func stateIcon(state checkin.State) string {
	switch state {
	case checkin.StateSuccess:
		return "✅"
	case checkin.StateNotFound, checkin.StateError:
		return "❌"
	case checkin.StateAwaitingConfirmation:
		return "❓"
	default:
		return "…"
	}
}

func printPrompt(out io.Writer, session *checkin.Session) {
	if session.LastScanned != "" {
		fmt.Fprintf(out, "(last scanned: %s)\n", session.LastScanned)
	}
	if session.State == checkin.StateAwaitingConfirmation {
		fmt.Fprint(out, "y/n> ")
		return
	}
	fmt.Fprint(out, "id> ")
}

func guestsCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "guests",
		Short: "List guests in the local SQLite ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			store, err := storage.NewStorage(cfg.SQLitePath)
			if err != nil {
				return fmt.Errorf("failed to open sqlite ledger: %w", err)
			}
			defer store.Close()

			var guests []models.GuestRecord
			switch models.AttendanceStatus(status) {
			case "":
				guests, err = store.GetAllGuests(cmd.Context())
			case models.AttendancePending, models.AttendanceCheckedIn:
				guests, err = store.GetGuestsByStatus(cmd.Context(), models.AttendanceStatus(status))
			default:
				return fmt.Errorf("unknown status %q (want %s or %s)", status, models.AttendancePending, models.AttendanceCheckedIn)
			}
			if err != nil {
				return err
			}
			printGuests(cmd.OutOrStdout(), guests, status)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by attendance (not_checked_in, checked_in)")
	return cmd
}

func printGuests(out io.Writer, guests []models.GuestRecord, status string) {
	if len(guests) == 0 {
		if status == "" {
			fmt.Fprintln(out, "No guests found.")
		} else {
			fmt.Fprintf(out, "No guests with status '%s'.\n", status)
		}
		return
	}

	if status == "" {
		fmt.Fprintf(out, "📋 All Guests (%d total):\n", len(guests))
	} else {
		fmt.Fprintf(out, "📋 Guests with status '%s' (%d total):\n", status, len(guests))
	}
	fmt.Fprintln(out, strings.Repeat("-", 60))
	for _, guest := range guests {
		fmt.Fprintf(out, "ID: %s\n", guest.ID)
		fmt.Fprintf(out, "Name: %s\n", guest.DisplayName)
		fmt.Fprintf(out, "Status: %s\n", guest.Attendance)
		if !guest.CheckedInAt.IsZero() {
			fmt.Fprintf(out, "Checked in: %s\n", guest.CheckedInAt.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintln(out, strings.Repeat("-", 60))
	}
}
