// Package record implements the audio capture and playback engine: a frame
// buffer shared between a capture goroutine, a playback goroutine, and a UI
// poller, plus the device I/O backend behind them.
package record

import (
	"errors"
	"fmt"

	"github.com/book-expert/narration-service/internal/core"
)

// Default capture parameters, matching standard voice recording settings.
const (
	DefaultSampleRate  = 44100
	DefaultChannels    = 2
	DefaultChunkFrames = 1024
	// FormatInt16 identifies interleaved little-endian signed 16-bit PCM,
	// the only sample format the engine captures.
	FormatInt16 = 16
)

// Validation limits for device configuration.
const (
	maxSampleRate  = 192000
	maxChannels    = 8
	maxChunkFrames = 65536
)

// Common errors for the record package.
var (
	// ErrInvalidConfig indicates device configuration outside supported bounds.
	ErrInvalidConfig = errors.New("invalid device configuration")
	// ErrInvalidDevice indicates a device index with no matching input device.
	ErrInvalidDevice = errors.New("invalid device index")
	// ErrAlreadyRecording indicates a start while a capture is in progress.
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrAlreadyPlaying indicates a playback start while one is in progress.
	ErrAlreadyPlaying = errors.New("playback already in progress")
	// ErrNothingRecorded signals playback or save of an empty buffer.
	ErrNothingRecorded = errors.New("nothing recorded")
	// ErrBusy indicates a save attempt while capture or playback is active.
	ErrBusy = errors.New("recorder is busy")
)

// DeviceConfig holds the capture parameters for one recording session. It is
// immutable once a session starts; frame size and format are fixed for the
// session's lifetime.
type DeviceConfig struct {
	Format      int
	Channels    int
	Rate        int
	ChunkFrames int
	// DeviceIndex selects the input device. A negative index means the
	// backend's default input device.
	DeviceIndex int
}

// DefaultDeviceConfig returns the standard voice capture configuration using
// the default input device.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Format:      FormatInt16,
		Channels:    DefaultChannels,
		Rate:        DefaultSampleRate,
		ChunkFrames: DefaultChunkFrames,
		DeviceIndex: -1,
	}
}

// Validate checks that the configuration is within supported bounds.
func (c DeviceConfig) Validate() error {
	if c.Format != FormatInt16 {
		return fmt.Errorf("%w: format must be 16-bit PCM", ErrInvalidConfig)
	}

	if c.Rate <= 0 || c.Rate > maxSampleRate {
		return fmt.Errorf("%w: sample rate must be between 1 and %d Hz", ErrInvalidConfig, maxSampleRate)
	}

	if c.Channels <= 0 || c.Channels > maxChannels {
		return fmt.Errorf("%w: channels must be between 1 and %d", ErrInvalidConfig, maxChannels)
	}

	if c.ChunkFrames <= 0 || c.ChunkFrames > maxChunkFrames {
		return fmt.Errorf("%w: chunk size must be between 1 and %d frames", ErrInvalidConfig, maxChunkFrames)
	}

	return nil
}

// BytesPerChunk returns the size of one capture buffer period in bytes.
func (c DeviceConfig) BytesPerChunk() int {
	return c.ChunkFrames * c.Channels * (c.Format / 8)
}

// GenerationConfig expresses the device parameters as a cache identity
// component.
func (c DeviceConfig) GenerationConfig(source string) core.GenerationConfig {
	return core.GenerationConfig{
		Source:   source,
		Format:   c.Format,
		Channels: c.Channels,
		Rate:     c.Rate,
		Chunk:    c.ChunkFrames,
	}
}

// InputStream reads one capture buffer period per call, blocking on device
// I/O. Chunks are interleaved little-endian 16-bit PCM.
type InputStream interface {
	ReadChunk() ([]byte, error)
	Close() error
}

// OutputStream writes one buffer period per call, blocking on device I/O.
type OutputStream interface {
	WriteChunk(chunk []byte) error
	Close() error
}

// Backend abstracts the audio device layer so the engine can run against
// PortAudio in production and in-memory fakes in tests.
type Backend interface {
	OpenInput(cfg DeviceConfig) (InputStream, error)
	OpenOutput(cfg DeviceConfig) (OutputStream, error)
	InputDevices() ([]core.Device, error)
}
