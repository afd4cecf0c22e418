// Package speed time-stretches captured artifacts to a target tempo without
// altering pitch, by calling the sox binary.
package speed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

// DefaultBinary is the time-stretch tool invoked by the adjuster.
const DefaultBinary = "sox"

const unityTempo = 1.0

// ErrAudioProcessing indicates a failed stretch. The original artifact is
// left untouched on failure.
var ErrAudioProcessing = errors.New("audio processing failed")

// Adjuster runs the external tempo transform. It holds no mutable state and
// is safe to share.
type Adjuster struct {
	binary string
	log    *logger.Logger
}

// New creates an adjuster using the default sox binary.
func New(log *logger.Logger) *Adjuster {
	return &Adjuster{binary: DefaultBinary, log: log}
}

// NewWithBinary creates an adjuster invoking a specific binary path.
func NewWithBinary(binary string, log *logger.Logger) *Adjuster {
	return &Adjuster{binary: binary, log: log}
}

// Adjust time-stretches inputPath to outputPath at the given tempo ratio
// (1.0 = no change). Writing over the input goes through a temporary path and
// an atomic rename, so the source is never read while being written.
func (a *Adjuster) Adjust(ctx context.Context, inputPath, outputPath string, tempo float64) error {
	if tempo <= 0 {
		return fmt.Errorf("%w: tempo must be positive, got %g", ErrAudioProcessing, tempo)
	}

	if tempo == unityTempo {
		return a.passthrough(inputPath, outputPath)
	}

	sameDestination := inputPath == outputPath

	actualOutput := outputPath
	if sameDestination {
		ext := filepath.Ext(inputPath)
		actualOutput = strings.TrimSuffix(inputPath, ext) + uuid.NewString() + ext
	}

	err := a.runStretch(ctx, inputPath, actualOutput, tempo)
	if err != nil {
		return err
	}

	if sameDestination {
		renameErr := os.Rename(actualOutput, inputPath)
		if renameErr != nil {
			_ = os.Remove(actualOutput)

			return fmt.Errorf("%w: failed to replace %s: %v", ErrAudioProcessing, inputPath, renameErr)
		}
	}

	return nil
}

// passthrough handles the unity-tempo case: identical paths are a no-op,
// distinct paths get a byte copy.
func (a *Adjuster) passthrough(inputPath, outputPath string) error {
	if inputPath == outputPath {
		return nil
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %v", ErrAudioProcessing, inputPath, err)
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", ErrAudioProcessing, outputPath, err)
	}

	_, copyErr := io.Copy(out, in)

	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(outputPath)

		return fmt.Errorf("%w: failed to copy %s: %v", ErrAudioProcessing, inputPath, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("%w: failed to close %s: %v", ErrAudioProcessing, outputPath, closeErr)
	}

	return nil
}

func (a *Adjuster) runStretch(ctx context.Context, inputPath, outputPath string, tempo float64) error {
	args := []string{inputPath, outputPath, "tempo", fmt.Sprintf("%g", tempo)}

	// #nosec G204 -- the binary is operator-configured, paths come from the cache layer
	cmd := exec.CommandContext(ctx, a.binary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(outputPath)

		return fmt.Errorf("%w: %s %v: %v - output: %s",
			ErrAudioProcessing, a.binary, args, err, string(output))
	}

	a.log.Info("Adjusted tempo of %s by %gx into %s", inputPath, tempo, outputPath)

	return nil
}
