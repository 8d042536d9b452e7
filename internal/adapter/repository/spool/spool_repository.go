package spool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/V4T54L/audit-trail/internal/domain"
)

const (
	segmentPrefix = "spool-"
	segmentSuffix = ".jsonl"
	filePerm      = 0644
)

// ErrSpoolFull is returned when a write would push the spool past its disk budget.
var ErrSpoolFull = errors.New("spool max disk size exceeded")

// Repository is a local, segmented JSON-lines spool for audit records that
// could not reach the stream. Records are replayed in write order.
type Repository struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu          sync.Mutex
	current     *os.File
	currentSeq  int
	currentSize int64
	totalSize   int64
}

// New opens the spool in dir, resuming the latest segment if one exists.
func New(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*Repository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory %s: %w", dir, err)
	}

	s := &Repository{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "spool_repository"),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLatestSegment(); err != nil {
		return nil, err
	}
	return s, nil
}

// Write appends one record as a JSON line to the current segment.
func (s *Repository) Write(ctx context.Context, record domain.AuditRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record for spool: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalSize+int64(len(data)) > s.maxTotalSize {
		return fmt.Errorf("%w (%d + %d > %d)", ErrSpoolFull, s.totalSize, len(data), s.maxTotalSize)
	}

	if s.current == nil {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.current.Write(data)
	s.currentSize += int64(n)
	s.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write to spool segment: %w", err)
	}

	if s.currentSize >= s.maxSegmentSize {
		if err := s.rotate(); err != nil {
			s.logger.Error("Failed to rotate spool segment", "error", err)
		}
	}
	return nil
}

// Replay reads every segment in order and hands each record to handler. It
// stops at the first handler error and leaves the segments in place.
func (s *Repository) Replay(ctx context.Context, handler func(record domain.AuditRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replayLocked(ctx, handler)
}

// Drain replays every segment and removes them once all records were handed
// off. Write blocks for the duration, so no record can land between the
// replay and the removal. A handler error leaves the spool untouched. An
// empty spool is a no-op.
func (s *Repository) Drain(ctx context.Context, handler func(record domain.AuditRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalSize == 0 {
		return nil
	}
	if err := s.replayLocked(ctx, handler); err != nil {
		return err
	}
	return s.truncateLocked()
}

func (s *Repository) replayLocked(ctx context.Context, handler func(record domain.AuditRecord) error) error {
	if s.current != nil {
		if err := s.current.Sync(); err != nil {
			s.logger.Warn("Failed to sync spool segment before replay", "error", err)
		}
	}

	segments, err := s.sortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	s.logger.Info("Starting spool replay", "segment_count", len(segments))

	replayed := 0
	for _, seg := range segments {
		n, err := s.replaySegment(ctx, seg.path, handler)
		replayed += n
		if err != nil {
			return err
		}
	}

	s.logger.Info("Spool replay completed", "records", replayed)
	return nil
}

func (s *Repository) replaySegment(ctx context.Context, path string, handler func(record domain.AuditRecord) error) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	// A single record may be as large as a segment.
	scanner.Buffer(make([]byte, 0, 64*1024), int(s.maxSegmentSize)+1)

	count := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		var record domain.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			s.logger.Warn("Failed to unmarshal spooled record, skipping", "error", err, "segment", path)
			continue
		}
		if err := handler(record); err != nil {
			s.logger.Error("Spool replay handler failed, stopping replay", "error", err, "record_id", record.ID)
			return count, fmt.Errorf("replay handler failed: %w", err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return count, nil
}

// Truncate removes every segment and starts a fresh one.
func (s *Repository) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truncateLocked()
}

func (s *Repository) truncateLocked() error {
	s.closeCurrent()

	segments, err := s.sortedSegments()
	if err != nil {
		return err
	}
	for _, seg := range segments {
		if err := os.Remove(seg.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("Failed to remove spool segment", "path", seg.path, "error", err)
		}
	}

	s.totalSize = 0
	s.logger.Info("Spool truncated")
	return s.rotate()
}

// Close closes the current segment.
func (s *Repository) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}

func (s *Repository) closeCurrent() {
	if s.current == nil {
		return
	}
	if err := s.current.Sync(); err != nil {
		s.logger.Error("Failed to sync spool segment", "error", err)
	}
	if err := s.current.Close(); err != nil {
		s.logger.Error("Failed to close spool segment", "error", err)
	}
	s.current = nil
}

func (s *Repository) rotate() error {
	s.closeCurrent()

	s.currentSeq++
	path := filepath.Join(s.dir, segmentName(s.currentSeq))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create spool segment %s: %w", path, err)
	}

	s.current = f
	s.currentSize = 0
	s.logger.Debug("Rotated to new spool segment", "path", path)
	return nil
}

func (s *Repository) openLatestSegment() error {
	segments, err := s.sortedSegments()
	if err != nil {
		return err
	}

	s.totalSize = 0
	for _, seg := range segments {
		s.totalSize += seg.size
	}

	if len(segments) == 0 {
		return s.rotate()
	}

	latest := segments[len(segments)-1]
	s.currentSeq = latest.seq
	if latest.size >= s.maxSegmentSize {
		return s.rotate()
	}

	f, err := os.OpenFile(latest.path, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open latest segment %s: %w", latest.path, err)
	}
	s.current = f
	s.currentSize = latest.size
	s.logger.Info("Resumed spool segment", "path", latest.path, "size", latest.size, "total_size", s.totalSize)
	return nil
}

type segment struct {
	path string
	seq  int
	size int64
}

func segmentName(seq int) string {
	return fmt.Sprintf("%s%010d%s", segmentPrefix, seq, segmentSuffix)
}

// sortedSegments lists segments in write order.
func (s *Repository) sortedSegments() ([]segment, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}

	var segments []segment
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix))
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat spool segment %s: %w", name, err)
		}
		segments = append(segments, segment{path: filepath.Join(s.dir, name), seq: seq, size: info.Size()})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].seq < segments[j].seq })
	return segments, nil
}
