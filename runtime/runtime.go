package runtime

import (
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// Runtime bundles the ambient services every other package is handed
// explicitly rather than reaching for through a global. It deliberately
// does not hold the region manager, job logger, or core engine — those
// are wired together in cmd/logopsctl so each package's dependencies stay
// visible in its constructor.
type Runtime struct {
	Config *Config
	Logger *slog.Logger
}

// ReportError forwards err to Sentry when a DSN was configured, and is a
// no-op otherwise. It never panics or blocks the caller.
func (rt *Runtime) ReportError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := sentry.CurrentHub()
	if hub == nil || hub.Client() == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
}
