package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
	"github.com/notifyhub/birthday-scheduler/internal/service"
)

var (
	triggerType string
	triggerHour int
)

// triggerCmd runs one scheduling pass and prints its summary. Without
// REDIS_URL the jobs land in this process's memory and are lost on exit;
// the recovery sweep of a running server re-enqueues them later.
var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run the scheduler once for a notification type",
	Example: `  birthday-scheduler trigger --type birthday
  birthday-scheduler trigger --type birthday --hour 9`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newBase()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if err := a.connect(ctx); err != nil {
			return err
		}

		var hour *int
		if cmd.Flags().Changed("hour") {
			hour = &triggerHour
		}
		summary, err := a.schedulerService(service.Hooks{}).Trigger(ctx, domain.NotificationType(triggerType), hour)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerType, "type", string(domain.NotificationBirthday), "notification type to schedule")
	triggerCmd.Flags().IntVar(&triggerHour, "hour", 0, "local hour to target instead of the configured time (0-23)")
}
