package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mmynk/chamaledger/internal/notify"
	"github.com/mmynk/chamaledger/internal/service"
	"github.com/mmynk/chamaledger/internal/storage/sqlite"
)

func newSweepCmd(load loadFunc) *cobra.Command {
	var reminders bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale pending contributions and optionally send reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			store, err := sqlite.New(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer store.Close()

			sweeper := service.NewEngine(store, service.Options{
				Notifier:   notify.LogNotifier{},
				StaleAfter: cfg.Sweep.StaleAfter,
			}).Sweeper

			expired, err := sweeper.ExpireStaleContributions(cmd.Context())
			if err != nil {
				return err
			}
			sent := 0
			if reminders {
				if sent, err = sweeper.SendReminders(cmd.Context()); err != nil {
					return err
				}
			}

			slog.Info("Sweep finished", "expired", expired, "reminders", sent)
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d contributions, sent %d reminders\n", expired, sent)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reminders, "reminders", false, "notify members without a confirmed contribution this round")
	return cmd
}
