package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/verdantgrow/irrigation-core/internal/infrastructure/config"
)

// Logger wraps slog.Logger with the controller's default fields.
//
// Every line carries service and version so logs from several
// irrigation controllers can be aggregated and told apart. Safe for
// concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of config.yaml.
//
// Format defaults to JSON for log shippers; "text" is for watching a
// controller interactively. Output defaults to stdout. Unrecognised
// levels fall back to info rather than erroring, since a typo in the
// logging config must never stop irrigation from starting.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "irrigation-core"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel maps the config string to a slog.Level. Accepts debug,
// info, warn/warning and error; anything else means info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger carrying additional default attributes.
//
// Components tag themselves once instead of repeating the field on
// every line:
//
//	seqLog := logger.With("component", "sequencer")
//	seqLog.Info("run admitted", "room_id", roomID)
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default returns a stdout JSON logger at info level for the window
// between process start and config load. Config parse failures are
// reported through this logger.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
