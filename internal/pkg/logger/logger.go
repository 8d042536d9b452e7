package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the operational logger.
type Options struct {
	Level      string
	File       string // optional rotating log file, in addition to stdout
	MaxSizeMB  int
	MaxBackups int
}

// New builds the process logger. Output is human-readable text on an
// interactive terminal and JSON otherwise, or whenever a log file is set.
// The returned closer releases the log file and must be called on shutdown.
func New(opts Options) (*slog.Logger, io.Closer) {
	return newLogger(opts, os.Stdout, isTerminal(os.Stdout))
}

func newLogger(opts Options, stdout io.Writer, terminal bool) (*slog.Logger, io.Closer) {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var out io.Writer = stdout
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		fw := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB, // MB
			MaxBackups: opts.MaxBackups,
		}
		out = io.MultiWriter(stdout, fw)
		closer = fw
	}

	var handler slog.Handler
	if terminal && opts.File == "" {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	return slog.New(handler), closer
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
