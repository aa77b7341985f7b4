package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fitledger/internal/app"
	"fitledger/internal/config"
	"fitledger/internal/domain"
)

var (
	inspectUser string
	showDate    string
	liftName    string
	liftUnit    string
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect stored ledgers",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a user's ledger for one day without creating it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSync(func(cfg *config.Config, syncSvc *app.SyncService, _ *app.LastLiftIndex) error {
			date := showDate
			if date == "" {
				date = time.Now().In(cfg.Location).Format(domain.DayLayout)
			}
			if !domain.ValidDate(date) {
				return fmt.Errorf("invalid --date %q (expected YYYY-MM-DD)", date)
			}
			l, ok := syncSvc.Peek(cmd.Context(), inspectUser, date)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "No ledger for %s on %s\n", inspectUser, date)
				return nil
			}
			b, err := json.MarshalIndent(l, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		})
	},
}

var lastLiftCmd = &cobra.Command{
	Use:   "lastlift",
	Short: "Print the last recorded weight and reps for an exercise",
	RunE: func(cmd *cobra.Command, args []string) error {
		if liftUnit != "kg" && liftUnit != "lb" {
			return fmt.Errorf("invalid --unit %q (expected kg or lb)", liftUnit)
		}
		return withSync(func(_ *config.Config, _ *app.SyncService, lifts *app.LastLiftIndex) error {
			lift, err := lifts.Get(cmd.Context(), inspectUser, liftName)
			if err != nil {
				return err
			}
			if lift == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No sets recorded for %s\n", liftName)
				return nil
			}
			weight := "bodyweight"
			if lift.Weight != nil {
				weight = fmt.Sprintf("%.1f %s", domain.RoundTo(domain.ConvertWeight(*lift.Weight, "kg", liftUnit), 1), liftUnit)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s x %s (%s)\n", liftName, weight, lift.Reps, lift.UpdatedAt.Format(time.RFC3339))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd, lastLiftCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)

	ledgerShowCmd.Flags().StringVar(&inspectUser, "user", "", "User id")
	ledgerShowCmd.Flags().StringVar(&showDate, "date", "", "Date YYYY-MM-DD (default today)")
	_ = ledgerShowCmd.MarkFlagRequired("user")

	lastLiftCmd.Flags().StringVar(&inspectUser, "user", "", "User id")
	lastLiftCmd.Flags().StringVar(&liftName, "name", "", "Exercise name")
	lastLiftCmd.Flags().StringVar(&liftUnit, "unit", "kg", "Weight unit: kg or lb")
	_ = lastLiftCmd.MarkFlagRequired("user")
	_ = lastLiftCmd.MarkFlagRequired("name")
}

// withSync opens the configured stores and hands fn read-only services.
func withSync(fn func(*config.Config, *app.SyncService, *app.LastLiftIndex) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	out, closeLog := setupLogging(cfg.Log)
	defer closeLog()
	syncSvc := app.NewSyncService(st.cache, st.mirror, app.SyncOptions{
		Location:      cfg.Location,
		RemoteTimeout: cfg.RemoteTimeout,
		Logger:        newLogger(out, "sync"),
	})
	lifts := app.NewLastLiftIndex(st.cache, st.mirror, cfg.RemoteTimeout, newLogger(out, "lastlift"))
	return fn(cfg, syncSvc, lifts)
}
