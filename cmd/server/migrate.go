package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kycgate/internal/kyc/ledger"
	"kycgate/internal/platform/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded ledger migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pg, err := config.LoadPostgres(loadOptions()...)
		if err != nil {
			return err
		}
		applied, err := ledger.Migrate(cmd.Context(), pg.DSN)
		if err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "ledger schema is up to date")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
		}
		return nil
	},
}
