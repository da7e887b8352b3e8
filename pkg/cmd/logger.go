package cmd

import (
	"fmt"
	"log/slog"
	"os"
)

// initLogger configures the default slog logger from cmdFlags, following
// the teacher's --log-level/--log-text flag pair. Not present in the
// retrieval pack (omnidex's init.go/server.go call it but never defines
// it), so this is authored directly from those call sites' flag shape.
func initLogger(flags *cmdFlags) error {
	level, err := parseLevel(flags.LogLevel)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if flags.TextFormat {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))

	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
