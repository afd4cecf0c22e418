// Package timeline synchronizes narration clips with an external timeline
// clock: per-clip duration and remaining-time tracking, plus the sub-caption
// partition algorithm.
package timeline

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/wavio"
)

// FallbackDuration is used when a record's final artifact file is missing, so
// the caller's timeline can proceed instead of crashing.
const FallbackDuration = 1.0

// Tracker tracks one clip's progress against the host clock.
type Tracker struct {
	Duration  float64
	StartTime float64
	EndTime   float64

	clock core.Clock
}

// NewTracker computes the clip duration from the record's final artifact and
// anchors the clip at the clock's current reading. A missing artifact falls
// back to FallbackDuration; any other container read failure is surfaced.
func NewTracker(record core.CacheRecord, cacheDir string, clock core.Clock) (*Tracker, error) {
	duration := FallbackDuration

	audioPath := filepath.Join(cacheDir, record.FinalAudio)

	measured, err := wavio.Duration(audioPath)

	switch {
	case err == nil:
		duration = measured
	case errors.Is(err, fs.ErrNotExist):
		// Lenient fallback: keep the default duration.
	default:
		return nil, err
	}

	now := clock.Now()

	return &Tracker{
		Duration:  duration,
		StartTime: now,
		EndTime:   now + duration,
		clock:     clock,
	}, nil
}

// Remaining returns how much of the clip is left relative to the clock, plus
// an optional buffer. It never returns a negative value, however far past the
// clip end the clock has advanced.
func (t *Tracker) Remaining(buff float64) float64 {
	remaining := t.EndTime - t.clock.Now() + buff
	if remaining < 0 {
		return 0
	}

	return remaining
}
