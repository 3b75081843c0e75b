package main

import (
	"fmt"

	"github.com/BTreeMap/CarePipe/internal/appointments"
	"github.com/BTreeMap/CarePipe/internal/config"
	"github.com/spf13/cobra"
)

func newImportCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "import <appointments.json>",
		Short: "Load patients from a JSON appointments file into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateOffline(); err != nil {
				return err
			}
			if err := ensureStateDir(*cfg); err != nil {
				return err
			}
			patients, err := appointments.ReadPatients(args[0])
			if err != nil {
				return err
			}
			store, err := openStore(*cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			seeder, ok := store.(appointments.Seeder)
			if !ok {
				return fmt.Errorf("store %T does not support import", store)
			}
			if err := seeder.Seed(cmd.Context(), patients); err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			cmd.Printf("Imported %d patients into %s\n", len(patients), cfg.ResolvePath(cfg.AppointmentsDSN))
			return nil
		},
	}
}
