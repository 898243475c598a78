package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notifyhub/birthday-scheduler/internal/db"
	"github.com/notifyhub/birthday-scheduler/internal/domain"
	"github.com/notifyhub/birthday-scheduler/internal/repository"
)

type demoUser struct {
	first, last, email, location, timezone string
	dob                                    time.Time
}

var demoUsers = []demoUser{
	{"Ada", "Lovelace", "ada@example.com", "London", "Europe/London", time.Date(1990, 12, 10, 0, 0, 0, 0, time.UTC)},
	{"Grace", "Hopper", "grace@example.com", "New York", "America/New_York", time.Date(1986, 12, 9, 0, 0, 0, 0, time.UTC)},
	{"Alan", "Turing", "alan@example.com", "Sydney", "Australia/Sydney", time.Date(1992, 6, 23, 0, 0, 0, 0, time.UTC)},
	{"Leap", "Day", "leap@example.com", "Jakarta", "Asia/Jakarta", time.Date(1996, 2, 29, 0, 0, 0, 0, time.UTC)},
}

// seedCmd inserts a few demo users. Running it twice is harmless.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert demo users, skipping emails that already exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newBase()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		pool, err := db.Connect(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		a.pool = pool
		if err := db.Migrate(a.cfg.DatabaseURL, a.cfg.MigrationsPath, a.logger); err != nil {
			return err
		}

		users := repository.NewPgUserRepository(pool)
		inserted := 0
		for _, d := range demoUsers {
			tz, err := domain.ValidateTimezone(d.timezone)
			if err != nil {
				return fmt.Errorf("demo user %s: %w", d.email, err)
			}
			ok, err := users.SeedUser(ctx, &domain.User{
				ID:          uuid.New(),
				Email:       d.email,
				FirstName:   d.first,
				LastName:    d.last,
				Timezone:    tz,
				DateOfBirth: d.dob,
				Active:      true,
			}, d.location)
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		a.logger.Info("seed finished", zap.Int("inserted", inserted), zap.Int("skipped", len(demoUsers)-inserted))
		return nil
	},
}
