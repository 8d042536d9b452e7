package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Rotation selects which physical file receives a write.
type Rotation string

const (
	RotationDaily     Rotation = "Daily"
	RotationWeekly    Rotation = "Weekly"
	RotationSizeBased Rotation = "SizeBased"
	RotationNone      Rotation = "None"
)

const bytesPerMB = 1024 * 1024

// ParseRotation resolves a policy name case-insensitively. An empty name
// selects Daily.
func ParseRotation(s string) (Rotation, error) {
	if s == "" {
		return RotationDaily, nil
	}
	for _, r := range []Rotation{RotationDaily, RotationWeekly, RotationSizeBased, RotationNone} {
		if strings.EqualFold(string(r), s) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown rotation policy %q", s)
}

// pathFor returns the file an event written at now belongs to. It is evaluated
// on every write so rotation boundaries are observed exactly.
func (s *Sink) pathFor(now time.Time) (string, error) {
	switch s.opts.Rotation {
	case RotationDaily:
		return filepath.Join(s.opts.Dir, fmt.Sprintf("%s_%s.log", s.opts.Name, now.Format("02012006"))), nil
	case RotationWeekly:
		return filepath.Join(s.opts.Dir, fmt.Sprintf("%s_Week%d_%d.log", s.opts.Name, weekOfYear(now), now.Year())), nil
	case RotationSizeBased:
		return s.sizeBasedPath()
	default:
		return filepath.Join(s.opts.Dir, s.opts.Name+".log"), nil
	}
}

// weekOfYear numbers weeks starting on Monday, with week 1 being the week
// that contains January 1st.
func weekOfYear(t time.Time) int {
	jan1 := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	offset := (int(jan1.Weekday()) + 6) % 7 // days between the Monday of week 1 and Jan 1
	return (t.YearDay()-1+offset)/7 + 1
}

// sizeBasedPath probes {name}_1.log, {name}_2.log, ... and returns the first
// file that is missing or still below the size cap. Concurrent writers may
// both pick a file just under the cap; the overshoot is accepted.
func (s *Sink) sizeBasedPath() (string, error) {
	maxBytes := s.opts.MaxSizeMB * bytesPerMB
	for counter := 1; ; counter++ {
		path := filepath.Join(s.opts.Dir, fmt.Sprintf("%s_%d.log", s.opts.Name, counter))
		info, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat log file %s: %w", path, err)
		}
		if info.Size() < maxBytes {
			return path, nil
		}
	}
}
