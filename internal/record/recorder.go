package record

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/audioutil"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/wavio"
)

// pausePollInterval is how long the capture and playback loops idle while
// paused before re-checking their flags.
const pausePollInterval = 50 * time.Millisecond

const int16Max = 32768.0

// Recorder owns the frame buffer for one recording session and the goroutines
// that fill and drain it. A single mutex guards the buffer and all derived
// flags; the capture goroutine is the only writer, the playback goroutine and
// UI pollers are readers.
type Recorder struct {
	mu  sync.Mutex
	cfg DeviceConfig

	backend Backend
	log     *logger.Logger

	frames    [][]byte
	recording bool
	paused    bool
	recDone   chan struct{}

	playing        bool
	playbackPaused bool
	cancelPlayback bool
	playbackIndex  int
	playDone       chan struct{}
}

// New creates a recorder for the given device configuration.
func New(backend Backend, cfg DeviceConfig, log *logger.Logger) (*Recorder, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &Recorder{
		cfg:     cfg,
		backend: backend,
		log:     log,
	}, nil
}

// Config returns the device configuration for this session.
func (r *Recorder) Config() DeviceConfig {
	return r.cfg
}

// SetDevice selects the input device for subsequent captures. An index with
// no matching input device fails with ErrInvalidDevice and leaves the prior
// configuration unchanged.
func (r *Recorder) SetDevice(index int) error {
	devices, err := r.backend.InputDevices()
	if err != nil {
		return err
	}

	for _, device := range devices {
		if device.Index == index {
			r.mu.Lock()
			r.cfg.DeviceIndex = index
			r.mu.Unlock()

			return nil
		}
	}

	return ErrInvalidDevice
}

// UseDeviceChannels derives the channel count from the selected device's
// maximum input channel capability.
func (r *Recorder) UseDeviceChannels(index int) error {
	devices, err := r.backend.InputDevices()
	if err != nil {
		return err
	}

	for _, device := range devices {
		if device.Index == index {
			r.mu.Lock()
			r.cfg.Channels = device.MaxInputChannels
			r.mu.Unlock()

			return nil
		}
	}

	return ErrInvalidDevice
}

// InputDevices enumerates capturable devices: only inputs with at least one
// input channel.
func (r *Recorder) InputDevices() ([]core.Device, error) {
	devices, err := r.backend.InputDevices()
	if err != nil {
		return nil, err
	}

	return devices, nil
}

// DeviceCount returns the number of capturable input devices.
func (r *Recorder) DeviceCount() (int, error) {
	devices, err := r.backend.InputDevices()
	if err != nil {
		return 0, err
	}

	return len(devices), nil
}

// DeviceNames returns the names of capturable input devices.
func (r *Recorder) DeviceNames() ([]string, error) {
	devices, err := r.backend.InputDevices()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(devices))
	for _, device := range devices {
		names = append(names, device.Name)
	}

	return names, nil
}

// StartRecording clears the buffer, opens the input stream, and spawns the
// capture goroutine. It fails with ErrAlreadyRecording if a capture is in
// progress.
func (r *Recorder) StartRecording() error {
	r.mu.Lock()

	if r.recording {
		r.mu.Unlock()

		return ErrAlreadyRecording
	}

	if r.playing {
		r.mu.Unlock()

		return ErrAlreadyPlaying
	}

	// Reserve the session before releasing the lock, so a concurrent start
	// cannot pass the guard while the stream is still opening.
	r.recording = true
	r.paused = false
	cfg := r.cfg
	r.mu.Unlock()

	// Open synchronously so device errors surface to the caller instead of
	// dying inside the capture goroutine.
	stream, err := r.backend.OpenInput(cfg)
	if err != nil {
		r.mu.Lock()
		r.recording = false
		r.mu.Unlock()

		return err
	}

	r.mu.Lock()
	r.frames = nil
	r.recDone = make(chan struct{})
	done := r.recDone
	r.mu.Unlock()

	go r.captureLoop(stream, done)

	return nil
}

// captureLoop reads one chunk per iteration and appends it under the lock.
// While paused it idles without reading; the buffer is never mutated while
// paused. Stream errors terminate only this goroutine, leaving the flags in a
// stopped state so StopRecording still returns promptly.
func (r *Recorder) captureLoop(stream InputStream, done chan struct{}) {
	defer close(done)

	defer func() {
		closeErr := stream.Close()
		if closeErr != nil {
			r.log.Warn("Failed to close input stream: %v", closeErr)
		}

		r.mu.Lock()
		r.recording = false
		r.mu.Unlock()
	}()

	for {
		r.mu.Lock()
		recording := r.recording
		paused := r.paused
		r.mu.Unlock()

		if !recording {
			return
		}

		if paused {
			time.Sleep(pausePollInterval)

			continue
		}

		chunk, err := stream.ReadChunk()
		if err != nil {
			r.log.Error("Capture stream read failed: %v", err)

			return
		}

		r.mu.Lock()
		if r.recording && !r.paused {
			r.frames = append(r.frames, chunk)
		}
		r.mu.Unlock()
	}
}

// PauseRecording suspends frame appends. No frames are appended while paused.
func (r *Recorder) PauseRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		r.paused = true
	}
}

// ResumeRecording resumes frame appends after a pause.
func (r *Recorder) ResumeRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		r.paused = false
	}
}

// StopRecording signals the capture goroutine to stop and joins it. Calling
// it when no capture is active is a no-op.
func (r *Recorder) StopRecording() {
	r.mu.Lock()

	done := r.recDone
	wasRecording := r.recording
	r.recording = false
	r.paused = false

	r.mu.Unlock()

	if wasRecording && done != nil {
		<-done
	}
}

// IsRecording reports whether a capture goroutine is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.recording
}

// StartPlayback streams the buffered frames to an output device in original
// order on a dedicated goroutine. An empty buffer fails with
// ErrNothingRecorded.
func (r *Recorder) StartPlayback() error {
	r.mu.Lock()

	if len(r.frames) == 0 {
		r.mu.Unlock()

		return ErrNothingRecorded
	}

	if r.playing {
		r.mu.Unlock()

		return ErrAlreadyPlaying
	}

	if r.recording {
		r.mu.Unlock()

		return ErrAlreadyRecording
	}

	// Reserve the session before releasing the lock, so a concurrent start
	// cannot pass the guard while the stream is still opening.
	r.playing = true
	r.playbackPaused = false
	r.cancelPlayback = false
	cfg := r.cfg
	r.mu.Unlock()

	stream, err := r.backend.OpenOutput(cfg)
	if err != nil {
		r.mu.Lock()
		r.playing = false
		r.mu.Unlock()

		return err
	}

	r.mu.Lock()
	r.playbackIndex = 0
	r.playDone = make(chan struct{})
	done := r.playDone
	r.mu.Unlock()

	go r.playbackLoop(stream, done)

	return nil
}

// playbackLoop writes buffered frames in order, advancing the playback index
// monotonically until the buffer is exhausted or cancellation is signaled.
func (r *Recorder) playbackLoop(stream OutputStream, done chan struct{}) {
	defer close(done)

	defer func() {
		closeErr := stream.Close()
		if closeErr != nil {
			r.log.Warn("Failed to close output stream: %v", closeErr)
		}

		r.mu.Lock()
		r.playing = false
		r.mu.Unlock()
	}()

	for {
		r.mu.Lock()

		if r.cancelPlayback || r.playbackIndex >= len(r.frames) {
			r.mu.Unlock()

			return
		}

		if r.playbackPaused {
			r.mu.Unlock()
			time.Sleep(pausePollInterval)

			continue
		}

		chunk := r.frames[r.playbackIndex]
		r.playbackIndex++
		r.mu.Unlock()

		err := stream.WriteChunk(chunk)
		if err != nil {
			r.log.Error("Playback stream write failed: %v", err)

			return
		}
	}
}

// PausePlayback suspends playback without losing position.
func (r *Recorder) PausePlayback() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.playing {
		r.playbackPaused = true
	}
}

// ResumePlayback resumes a paused playback.
func (r *Recorder) ResumePlayback() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.playing {
		r.playbackPaused = false
	}
}

// StopPlayback sets the cancellation flag and joins the playback goroutine.
// Calling it when no playback is active is a no-op.
func (r *Recorder) StopPlayback() {
	r.mu.Lock()

	done := r.playDone
	wasPlaying := r.playing
	r.cancelPlayback = true
	r.playbackPaused = false

	r.mu.Unlock()

	if wasPlaying && done != nil {
		<-done
	}
}

// IsPlaying reports whether a playback goroutine is active.
func (r *Recorder) IsPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.playing
}

// FrameCount returns the number of buffered frames.
func (r *Recorder) FrameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.frames)
}

// Duration returns the total buffered recording length in seconds.
func (r *Recorder) Duration() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.frames) == 0 {
		return 0
	}

	return float64(len(r.frames)) * float64(r.cfg.ChunkFrames) / float64(r.cfg.Rate)
}

// PlaybackPosition returns the current playback frame index and its position
// in seconds. The index only increases until a new playback resets it.
func (r *Recorder) PlaybackPosition() (int, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seconds := float64(r.playbackIndex) * float64(r.cfg.ChunkFrames) / float64(r.cfg.Rate)

	return r.playbackIndex, seconds
}

// Peak returns the normalized peak amplitude of the most recently appended
// frame, in [0, 1]. UI pollers use it for live waveform display. The frame
// slice is only read under the lock, so a torn read is impossible.
func (r *Recorder) Peak() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.frames) == 0 {
		return 0
	}

	tail := r.frames[len(r.frames)-1]

	var peak float64

	for i := 0; i+1 < len(tail); i += 2 {
		sample := math.Abs(float64(int16(binary.LittleEndian.Uint16(tail[i:]))))
		if sample > peak {
			peak = sample
		}
	}

	return peak / int16Max
}

// Save serializes the buffer to a playable WAV container at path. It must be
// called only when not actively recording or playing; this is the handoff
// point to the artifact store.
func (r *Recorder) Save(path string) error {
	r.mu.Lock()

	if r.recording || r.playing {
		r.mu.Unlock()

		return ErrBusy
	}

	if len(r.frames) == 0 {
		r.mu.Unlock()

		return ErrNothingRecorded
	}

	pcm := bytes.Join(r.frames, nil)
	cfg := r.cfg
	r.mu.Unlock()

	err := wavio.Write(path, cfg.Rate, cfg.Channels, pcm)
	if err != nil {
		return err
	}

	r.log.Info("Saved recording to %s (%s)", path, audioutil.FormatClock(r.Duration()))

	return nil
}

// Reset discards the buffer for a new take. It is a no-op while capture or
// playback is active.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording || r.playing {
		return
	}

	r.frames = nil
	r.playbackIndex = 0
}
