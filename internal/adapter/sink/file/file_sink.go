package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/audit-trail/internal/domain"
	"github.com/V4T54L/audit-trail/internal/pkg/minify"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	blockRule = "===================="
	blockEnd  = "======================================================="
)

// Options configures the file sink.
type Options struct {
	Dir       string
	Name      string
	MaxSizeMB int64
	Rotation  Rotation
}

// Option customises a Sink.
type Option func(*Sink)

// WithClock overrides the wall clock used for timestamps and rotation.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// Sink appends human-readable audit blocks to rotating files. No handle is
// kept open between writes; every event is a single O_APPEND write, which
// keeps blocks from concurrent requests from interleaving.
type Sink struct {
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

// New creates the log directory if needed and returns a ready sink.
func New(opts Options, logger *slog.Logger, options ...Option) (*Sink, error) {
	if opts.Name == "" {
		opts.Name = "log"
	}
	if opts.Dir == "" {
		opts.Dir = "Logs"
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 5
	}
	if opts.Rotation == "" {
		opts.Rotation = RotationDaily
	}

	if err := os.MkdirAll(opts.Dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", opts.Dir, err)
	}

	s := &Sink{
		opts:   opts,
		now:    time.Now,
		logger: logger.With("component", "file_sink"),
	}
	for _, o := range options {
		o(s)
	}

	s.logger.Info("File sink ready", "dir", opts.Dir, "name", opts.Name, "rotation", opts.Rotation)
	return s, nil
}

func (s *Sink) Name() string {
	return "file"
}

// Write appends one formatted block for event to the file chosen by the
// rotation policy at the time of the write.
func (s *Sink) Write(ctx context.Context, event domain.AuditEvent) error {
	now := s.now()

	path, err := s.pathFor(now)
	if err != nil {
		return err
	}

	block := formatBlock(event, now)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	if _, err := f.Write(block); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to log file %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close log file %s: %w", path, err)
	}
	return nil
}

func formatBlock(event domain.AuditEvent, now time.Time) []byte {
	var elapsed string
	if event.ElapsedMs != nil {
		elapsed = strconv.FormatInt(*event.ElapsedMs, 10)
	}

	var b strings.Builder
	b.Grow(512 + len(event.RequestBody) + len(event.ResponseBody) + len(event.Detail))

	fmt.Fprintf(&b, "%s [%s %s] %s\n", blockRule, event.Kind.Glyph(), event.Kind, blockRule)
	fmt.Fprintf(&b, "CorrelationId: %s\n", event.CorrelationID)
	fmt.Fprintf(&b, "Date: %s\n", now.Format("02-01-2006 15:04:05"))
	fmt.Fprintf(&b, "LogType: %s\n", event.Kind)
	fmt.Fprintf(&b, "Error: %s\n", event.Error)
	fmt.Fprintf(&b, "Detail: %s\n", event.Detail)
	fmt.Fprintf(&b, "HttpMethod: %s\n", event.HTTPMethod)
	fmt.Fprintf(&b, "Path: %s\n", event.Path)
	fmt.Fprintf(&b, "User: %s\n", event.User)
	fmt.Fprintf(&b, "RequestBody: %s\n", minify.JSON(event.RequestBody))
	fmt.Fprintf(&b, "ResponseBody: %s\n", minify.JSON(event.ResponseBody))
	fmt.Fprintf(&b, "QueryString: %s\n", event.QueryString)
	fmt.Fprintf(&b, "ElapsedMs: %s\n", elapsed)
	b.WriteString(blockEnd + "\n")
	b.WriteString("\n")

	return []byte(b.String())
}
