package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldsense/alertd/internal/alerting"
	"github.com/fieldsense/alertd/internal/errors"
	"github.com/fieldsense/alertd/internal/notification"
	"github.com/fieldsense/alertd/internal/observability"
	"github.com/fieldsense/alertd/internal/telemetry"
)

func triggerCommand(flags *globalFlags) *cobra.Command {
	var (
		deviceID string
		file     string
	)
	cmd := &cobra.Command{
		Use:   "trigger --device ID [--file payload.json]",
		Short: "Evaluate one telemetry payload synchronously and print the report",
		Long: `Reads a raw telemetry JSON payload from --file (or stdin when omitted or "-"),
evaluates it for every user authorized on the device and prints the evaluation
report as JSON. Notifications are sent exactly as for live telemetry.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := readPayload(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			sample, err := telemetry.ParseSample(deviceID, payload, time.Now())
			if err != nil {
				return errors.Wrap(errors.CategoryValidation, "parse payload", err)
			}

			notification.Initialize(&notification.ServiceConfig{
				Providers: notification.ProvidersFromSettings(a.settings.Notification),
				Log:       a.log.Module("notification"),
			})
			engine, closeEngine, err := newEngine(cmd.Context(), a, observability.NewMetrics())
			if err != nil {
				return err
			}
			defer closeEngine()

			report := engine.HandleSample(cmd.Context(), sample)
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVarP(&deviceID, "device", "d", "", "device id the payload came from (default: payload deviceId)")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "payload file, - for stdin")
	return cmd
}

func readPayload(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(stdin)
	}
	payload, err := os.ReadFile(file) //nolint:gosec // path is an operator supplied flag
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return payload, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newEngine builds an engine on the configured suppression backend without
// starting the bus or the periodic cleanup.
func newEngine(ctx context.Context, a *app, metrics *observability.Metrics) (*alerting.Engine, func(), error) {
	cfg := alerting.ConfigFromSettings(&a.settings.Alerting)
	store, closeStore, err := alerting.NewSuppressionStore(ctx, a.settings, cfg.Windows, a.log)
	if err != nil {
		return nil, nil, err
	}
	engine := alerting.NewEngine(alerting.Dependencies{
		Rules:       a.rules,
		Devices:     a.devices,
		History:     a.history,
		Suppression: store,
		Senders:     alerting.NotificationSenders(),
	}, cfg, a.log, alerting.WithMetrics(metrics))
	return engine, func() {
		engine.Stop()
		_ = closeStore()
	}, nil
}
