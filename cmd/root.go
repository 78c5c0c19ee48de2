// Package cmd defines the alertd command line.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldsense/alertd/internal/conf"
	"github.com/fieldsense/alertd/internal/datastore"
	"github.com/fieldsense/alertd/internal/datastore/repository"
	"github.com/fieldsense/alertd/internal/logger"
)

type globalFlags struct {
	configFile string
	logLevel   string
}

// RootCommand builds the alertd command tree.
func RootCommand(version string) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "alertd",
		Short:         "Evaluate field sensor telemetry against user alert rules",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "config file (default ./config.yaml or /etc/alertd/config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override main.log_level")

	root.AddCommand(
		serveCommand(flags, version),
		triggerCommand(flags),
		cleanupCommand(flags),
		resetSuppressionCommand(flags),
	)
	return root
}

// app holds the settings, logger and datastore every command needs. Logs go
// to stderr so command output on stdout stays machine readable.
type app struct {
	settings *conf.Settings
	log      logger.Logger
	store    *datastore.Manager
	rules    repository.AlertRuleRepository
	devices  repository.DeviceRepository
	history  repository.TriggeredAlertRepository
}

func loadApp(flags *globalFlags) (*app, error) {
	settings, err := conf.Load(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		settings.Main.LogLevel = flags.logLevel
	}

	log := logger.NewZerologLogger(os.Stderr, logger.LogLevel(settings.Main.LogLevel), &logger.Options{
		Console: settings.Main.Development,
		Caller:  true,
	}).With(logger.String("service", settings.Main.Name))

	store, err := datastore.Open(settings.Datastore, log)
	if err != nil {
		return nil, err
	}

	db := store.DB()
	return &app{
		settings: settings,
		log:      log,
		store:    store,
		rules:    repository.NewAlertRuleRepository(db),
		devices:  repository.NewDeviceRepository(db),
		history:  repository.NewTriggeredAlertRepository(db),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("failed to close datastore", logger.Error(err))
	}
}
