package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func notifyTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test message through the configured notification backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := newNotifier(&cfg.Notifications, logger).SendTest(ctx); err != nil {
				return fmt.Errorf("sending test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent.")
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(notifyTestCommand())
}
