// Package wavio reads and writes the audio containers the narration cache
// works with: uncompressed 16-bit PCM WAV for capture output, plus duration
// metadata for WAV and MP3 artifacts.
package wavio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
)

const (
	bitDepth      = 16
	bytesPerInt16 = 2
	// wavFormatPCM is the WAV audio format tag for uncompressed PCM.
	wavFormatPCM = 1
	// mp3BytesPerSample is the go-mp3 output frame size: 2 channels of
	// 16-bit samples.
	mp3BytesPerSample = 4
)

var (
	// ErrUnsupportedContainer is returned for duration lookups on audio
	// containers the service cannot read.
	ErrUnsupportedContainer = errors.New("unsupported audio container")
	// ErrInvalidWAV is returned when a .wav file cannot be decoded.
	ErrInvalidWAV = errors.New("invalid wav file")
	// ErrNoSamples is returned when asked to write an empty buffer.
	ErrNoSamples = errors.New("no samples to write")
)

// Write serializes interleaved little-endian 16-bit PCM to a playable WAV
// container at path.
func Write(path string, sampleRate, channels int, pcm []byte) error {
	if len(pcm) == 0 {
		return ErrNoSamples
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file %s: %w", path, err)
	}

	encoder := wav.NewEncoder(out, sampleRate, bitDepth, channels, wavFormatPCM)

	samples := make([]int, len(pcm)/bytesPerInt16)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*bytesPerInt16:])))
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}

	writeErr := encoder.Write(buf)
	encodeCloseErr := encoder.Close()
	fileCloseErr := out.Close()

	if writeErr != nil {
		return fmt.Errorf("failed to write wav data to %s: %w", path, writeErr)
	}

	if encodeCloseErr != nil {
		return fmt.Errorf("failed to finalize wav file %s: %w", path, encodeCloseErr)
	}

	if fileCloseErr != nil {
		return fmt.Errorf("failed to close wav file %s: %w", path, fileCloseErr)
	}

	return nil
}

// Duration returns the clip length of an audio artifact in seconds, read from
// the container metadata. Missing files surface the underlying fs error so
// callers can decide whether a fallback applies.
func Duration(path string) (float64, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return wavDuration(path)
	case ".mp3":
		return mp3Duration(path)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedContainer, filepath.Ext(path))
	}
}

func wavDuration(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open wav file %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := wav.NewDecoder(file)

	duration, err := decoder.Duration()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidWAV, path, err)
	}

	return duration.Seconds(), nil
}

func mp3Duration(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open mp3 file %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return 0, fmt.Errorf("failed to decode mp3 file %s: %w", path, err)
	}

	samples := decoder.Length() / mp3BytesPerSample

	return float64(samples) / float64(decoder.SampleRate()), nil
}
