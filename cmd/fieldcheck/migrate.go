package main

import (
	"fmt"

	"github.com/creditfield/loan_backend/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Pair with SKIP_MIGRATIONS=true on the server so AutoMigrate runs as a job.
func newMigrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the investigation tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := connect(v); err != nil {
				return err
			}
			if err := models.MigrateTable(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
