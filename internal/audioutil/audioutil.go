// Package audioutil provides file and naming helpers shared by the narration
// service components.
package audioutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Directory permissions for created cache directories.
const defaultDirPermissions = 0o750

// Time formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
)

// File extension constants.
const (
	ExtWAV = ".wav"
	ExtMP3 = ".mp3"

	invalidCharReplacement = "_"
	basenameUUIDLength     = 8
)

// EnsureDir ensures a directory exists at the given path, creating it if it
// doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, mkdirErr)
		}
	}

	return nil
}

// AudioBasename generates a unique file name for a new take, derived from the
// capture time plus a short random suffix so re-records within one second do
// not collide.
func AudioBasename() string {
	now := time.Now()
	suffix := uuid.NewString()[:basenameUUIDLength]

	return fmt.Sprintf("Voice_%s_%s%s", now.Format("02012006_150405"), suffix, ExtWAV)
}

// FormatClock formats a duration in seconds as an HH:MM:SS recording clock.
func FormatClock(seconds float64) string {
	total := int(seconds)
	hours := total / secondsInHour
	minutes := (total % secondsInHour) / secondsInMinute
	secs := total % secondsInMinute

	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

// IsValidAudioFile checks if a filename has a supported audio file extension.
func IsValidAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ExtWAV, ExtMP3:
		return true
	default:
		return false
	}
}

// SanitizeFilename removes or replaces characters that are invalid in most
// filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
