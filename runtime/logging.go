package runtime

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry"
)

// ConfigureLogging sets the default logger according to our config, fanning errors out to Sentry if
// a DSN is configured. The returned function flushes any pending Sentry events.
func ConfigureLogging(cfg *Config, out io.Writer) (func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.LogLevel, err)
	}

	logHandler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(logHandler))

	if cfg.SentryDSN == "" {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, EnableTracing: false})
	if err != nil {
		return nil, fmt.Errorf("error initiating sentry client: %w", err)
	}

	logger := slog.New(
		slogmulti.Fanout(
			logHandler,
			slogsentry.Option{Level: slog.LevelError}.NewSentryHandler(),
		),
	)
	slog.SetDefault(logger.With("release", cfg.Version))

	return func() { sentry.Flush(2 * time.Second) }, nil
}
