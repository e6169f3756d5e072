package logger

import (
	"io"
	"os"
	"strings"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type Config struct {
	Service string
	Version string
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string
	// Output defaults to stderr
	Output io.Writer
}

// New creates a new structured logger using go-kit/log
func New(config Config) kitlog.Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	// logfmt is human readable and easy to parse by log aggregators
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(out))
	logger = level.NewFilter(logger, levelOption(config.Level))
	// Add timestamp with UTC timezone
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
	// Add caller information, which is the file and line number of the code that called the logger
	logger = kitlog.With(logger, "caller", kitlog.DefaultCaller)
	logger = kitlog.With(logger, "service", config.Service, "version", config.Version)
	return logger
}

func levelOption(name string) level.Option {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return level.AllowDebug()
	case "warn", "warning":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}
