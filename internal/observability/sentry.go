package observability

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/fieldsense/alertd/internal/conf"
)

// flushTimeout bounds how long shutdown waits for queued Sentry events.
const flushTimeout = 2 * time.Second

// InitSentry configures the global Sentry client. It is a no-op when Sentry
// is disabled.
func InitSentry(settings conf.SentrySettings, release string) error {
	if !settings.Enabled {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Environment:      settings.Environment,
		Release:          release,
		SampleRate:       settings.SampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise sentry: %w", err)
	}
	return nil
}

// FlushSentry waits for buffered events to be sent.
func FlushSentry() {
	sentry.Flush(flushTimeout)
}

// ReportPanic sends a recovered panic value with tags to Sentry. It returns
// the event id, which is empty when Sentry is not initialised.
func ReportPanic(recovered any, tags map[string]string) string {
	hub := sentry.CurrentHub().Clone()
	var id *sentry.EventID
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		scope.SetTags(tags)
		id = hub.Recover(recovered)
	})
	if id == nil {
		return ""
	}
	return string(*id)
}

// ReportError sends an error with tags to Sentry.
func ReportError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}
