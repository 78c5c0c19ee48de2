package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fieldsense/alertd/internal/logger"
)

func cleanupCommand(flags *globalFlags) *cobra.Command {
	var retentionDays int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete triggered alerts older than the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("retention-days") {
				retentionDays = a.settings.Alerting.RetentionDays
			}

			engine, closeEngine, err := newEngine(cmd.Context(), a, nil)
			if err != nil {
				return err
			}
			defer closeEngine()

			deleted, err := engine.CleanupHistory(cmd.Context(), retentionDays)
			if err != nil {
				return err
			}
			a.log.Info("alert history cleanup completed",
				logger.Int("retention_days", retentionDays),
				logger.Int64("deleted", deleted))
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"retention_days": retentionDays,
				"deleted":        deleted,
			})
		},
	}
	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "override alerting.retention_days, 0 disables deletion")
	return cmd
}

func resetSuppressionCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-suppression",
		Short: "Clear every debounce and cooldown state of the configured backend",
		Long: `Clears the suppression store. Only meaningful with the redis backend; the
memory backend lives inside a running serve process. The persisted cooldown
derived from alert history is not affected.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			engine, closeEngine, err := newEngine(cmd.Context(), a, nil)
			if err != nil {
				return err
			}
			defer closeEngine()

			if err := engine.ResetSuppression(cmd.Context()); err != nil {
				return err
			}
			a.log.Warn("suppression state reset",
				logger.String("backend", a.settings.Alerting.SuppressionBackend))
			return nil
		},
	}
}
