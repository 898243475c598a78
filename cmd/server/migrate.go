package main

import (
	"github.com/spf13/cobra"

	"github.com/notifyhub/birthday-scheduler/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newBase()
		if err != nil {
			return err
		}
		defer a.close()
		return db.Migrate(a.cfg.DatabaseURL, a.cfg.MigrationsPath, a.logger)
	},
}
