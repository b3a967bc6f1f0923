package runtime

import (
	"log/slog"
	"os"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
)

// NewLogger builds the process-wide structured logger. When sentryDSN is
// set, error-and-above records are fanned out to Sentry alongside stdout;
// otherwise it logs to stdout only.
func NewLogger(levelName, sentryDSN, deploymentID string) (*slog.Logger, error) {
	level := parseLevel(levelName)
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})

	if sentryDSN == "" {
		return slog.New(textHandler), nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              sentryDSN,
		AttachStacktrace: true,
		ServerName:       deploymentID,
	}); err != nil {
		return nil, err
	}

	sentryHandler := slogsentry.Option{Level: slog.LevelError}.NewSentryHandler()

	handler := slogmulti.Fanout(textHandler, sentryHandler)
	return slog.New(handler), nil
}

func parseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
