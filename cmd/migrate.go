package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"paybridge/internal/bootstrap"
	"paybridge/internal/config"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbCfg, err := config.LoadDatabaseOnly()
			if err != nil {
				return err
			}
			db, err := config.NewDatabase(dbCfg)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			if err := bootstrap.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema migration completed")
			return nil
		},
	}
}
