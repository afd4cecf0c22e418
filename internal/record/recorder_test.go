// Package record_test tests the capture and playback engine against an
// in-memory device backend.
package record_test

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/record"
	"github.com/book-expert/narration-service/internal/wavio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitTimeout  = 5 * time.Second
	waitInterval = 5 * time.Millisecond
)

var errStreamBroken = errors.New("stream broken")

// fakeInputStream produces fixed-size chunks with a strictly increasing marker
// in the first byte, so ordering can be asserted after playback.
type fakeInputStream struct {
	mu     sync.Mutex
	chunk  []byte
	reads  int
	failAt int
}

func (s *fakeInputStream) ReadChunk() ([]byte, error) {
	time.Sleep(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if s.failAt > 0 && s.reads > s.failAt {
		return nil, errStreamBroken
	}

	out := make([]byte, len(s.chunk))
	copy(out, s.chunk)
	out[0] = byte(s.reads)

	return out, nil
}

func (s *fakeInputStream) Close() error {
	return nil
}

// fakeOutputStream collects every written chunk.
type fakeOutputStream struct {
	mu      sync.Mutex
	written [][]byte
	delay   time.Duration
}

func (s *fakeOutputStream) WriteChunk(chunk []byte) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, len(chunk))
	copy(out, chunk)
	s.written = append(s.written, out)

	return nil
}

func (s *fakeOutputStream) Close() error {
	return nil
}

func (s *fakeOutputStream) chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(s.written))
	copy(out, s.written)

	return out
}

type fakeBackend struct {
	devices []core.Device
	input   *fakeInputStream
	output  *fakeOutputStream

	// Optional gate making stream opens block until released, to exercise
	// starts that overlap an in-progress open.
	openStarted chan struct{}
	openRelease chan struct{}
}

func (b *fakeBackend) gateOpen() {
	if b.openStarted != nil {
		b.openStarted <- struct{}{}
		<-b.openRelease
	}
}

func (b *fakeBackend) OpenInput(_ record.DeviceConfig) (record.InputStream, error) {
	b.gateOpen()

	return b.input, nil
}

func (b *fakeBackend) OpenOutput(_ record.DeviceConfig) (record.OutputStream, error) {
	b.gateOpen()

	return b.output, nil
}

func (b *fakeBackend) InputDevices() ([]core.Device, error) {
	return b.devices, nil
}

func testConfig() record.DeviceConfig {
	return record.DeviceConfig{
		Format:      record.FormatInt16,
		Channels:    1,
		Rate:        8000,
		ChunkFrames: 800,
		DeviceIndex: -1,
	}
}

func newTestRecorder(t *testing.T, backend *fakeBackend) *record.Recorder {
	t.Helper()

	log, err := logger.New(t.TempDir(), "record-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	recorder, err := record.New(backend, testConfig(), log)
	require.NoError(t, err)

	return recorder
}

func newBackend() *fakeBackend {
	cfg := testConfig()

	return &fakeBackend{
		devices: []core.Device{
			{Index: 0, Name: "Fake Microphone", MaxInputChannels: 2},
			{Index: 3, Name: "Fake Line In", MaxInputChannels: 1},
		},
		input:  &fakeInputStream{chunk: make([]byte, cfg.BytesPerChunk())},
		output: &fakeOutputStream{},
	}
}

func waitForFrames(t *testing.T, recorder *record.Recorder, want int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return recorder.FrameCount() >= want
	}, waitTimeout, waitInterval)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "record-test.log")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Rate = 0

	_, err = record.New(newBackend(), cfg, log)
	require.ErrorIs(t, err, record.ErrInvalidConfig)

	cfg = testConfig()
	cfg.Format = 8

	_, err = record.New(newBackend(), cfg, log)
	require.ErrorIs(t, err, record.ErrInvalidConfig)
}

func TestStartRecording_AppendsFramesUntilStopped(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder(t, newBackend())

	require.NoError(t, recorder.StartRecording())
	assert.True(t, recorder.IsRecording())

	waitForFrames(t, recorder, 3)
	recorder.StopRecording()

	assert.False(t, recorder.IsRecording())

	// The buffer survives the stop, ready for playback or save.
	count := recorder.FrameCount()
	assert.GreaterOrEqual(t, count, 3)
	assert.InDelta(t, float64(count)*0.1, recorder.Duration(), 1e-9)
}

func TestStartRecording_WhileRecordingFails(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder(t, newBackend())

	require.NoError(t, recorder.StartRecording())

	err := recorder.StartRecording()
	require.ErrorIs(t, err, record.ErrAlreadyRecording)

	recorder.StopRecording()
}

func TestStartRecording_OverlappingStartIsRejected(t *testing.T) {
	t.Parallel()

	backend := newBackend()
	backend.openStarted = make(chan struct{})
	backend.openRelease = make(chan struct{})

	recorder := newTestRecorder(t, backend)

	errCh := make(chan error, 1)

	go func() {
		errCh <- recorder.StartRecording()
	}()

	// The first start is blocked inside the stream open; a second start must
	// fail the guard instead of spawning a second capture loop.
	<-backend.openStarted
	require.ErrorIs(t, recorder.StartRecording(), record.ErrAlreadyRecording)

	close(backend.openRelease)
	require.NoError(t, <-errCh)

	waitForFrames(t, recorder, 1)
	recorder.StopRecording()
}

func TestStartPlayback_OverlappingStartIsRejected(t *testing.T) {
	t.Parallel()

	backend := newBackend()
	recorder := newTestRecorder(t, backend)

	require.NoError(t, recorder.StartRecording())
	waitForFrames(t, recorder, 2)
	recorder.StopRecording()

	backend.openStarted = make(chan struct{})
	backend.openRelease = make(chan struct{})

	errCh := make(chan error, 1)

	go func() {
		errCh <- recorder.StartPlayback()
	}()

	<-backend.openStarted
	require.ErrorIs(t, recorder.StartPlayback(), record.ErrAlreadyPlaying)

	close(backend.openRelease)
	require.NoError(t, <-errCh)

	require.Eventually(t, func() bool {
		return !recorder.IsPlaying()
	}, waitTimeout, waitInterval)
}

func TestPauseRecording_AppendsNoFrames(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder(t, newBackend())

	require.NoError(t, recorder.StartRecording())
	waitForFrames(t, recorder, 2)

	recorder.PauseRecording()

	count := recorder.FrameCount()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, count, recorder.FrameCount())

	recorder.ResumeRecording()
	waitForFrames(t, recorder, count+1)

	recorder.StopRecording()
}

func TestStopRecording_IsIdempotent(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder(t, newBackend())

	require.NoError(t, recorder.StartRecording())
	waitForFrames(t, recorder, 1)

	recorder.StopRecording()
	recorder.StopRecording()

	assert.False(t, recorder.IsRecording())
}

func TestCaptureStreamError_LeavesRecorderStopped(t *testing.T) {
	t.Parallel()

	backend := newBackend()
	backend.input.failAt = 2

	recorder := newTestRecorder(t, backend)

	require.NoError(t, recorder.StartRecording())

	require.Eventually(t, func() bool {
		return !recorder.IsRecording()
	}, waitTimeout, waitInterval)

	// Stop after the goroutine already died must still return promptly.
	recorder.StopRecording()

	assert.Equal(t, 2, recorder.FrameCount())
}

func TestStartPlayback_EmptyBufferFails(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder(t, newBackend())

	err := recorder.StartPlayback()
	require.ErrorIs(t, err, record.ErrNothingRecorded)
}

func TestStartPlayback_WritesFramesInOriginalOrder(t *testing.T) {
	t.Parallel()

	backend := newBackend()
	recorder := newTestRecorder(t, backend)

	require.NoError(t, recorder.StartRecording())
	waitForFrames(t, recorder, 5)
	recorder.StopRecording()

	count := recorder.FrameCount()

	require.NoError(t, recorder.StartPlayback())

	require.Eventually(t, func() bool {
		return !recorder.IsPlaying()
	}, waitTimeout, waitInterval)

	written := backend.output.chunks()
	require.Len(t, written, count)

	for i, chunk := range written {
		assert.Equal(t, byte(i+1), chunk[0])
	}

	index, seconds := recorder.PlaybackPosition()
	assert.Equal(t, count, index)
	assert.InDelta(t, float64(count)*0.1, seconds, 1e-9)
}

func TestStopPlayback_CancelsMidway(t *testing.T) {
	t.Parallel()

	backend := newBackend()
	backend.output.delay = 20 * time.Millisecond

	recorder := newTestRecorder(t, backend)

	require.NoError(t, recorder.StartRecording())
	waitForFrames(t, recorder, 10)
	recorder.StopRecording()

	count := recorder.FrameCount()

	require.NoError(t, recorder.StartPlayback())
	time.Sleep(30 * time.Millisecond)
	recorder.StopPlayback()

	assert.False(t, recorder.IsPlaying())

	index, _ := recorder.PlaybackPosition()
	assert.Less(t, index, count)

	// A second stop with no active playback is a no-op.
	recorder.StopPlayback()
}

func TestSave_WritesPlayableWAV(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder(t, newBackend())

	require.NoError(t, recorder.StartRecording())
	waitForFrames(t, recorder, 3)
	recorder.StopRecording()

	count := recorder.FrameCount()
	path := filepath.Join(t.TempDir(), "take.wav")

	require.NoError(t, recorder.Save(path))

	duration, err := wavio.Duration(path)
	require.NoError(t, err)
	assert.InDelta(t, float64(count)*0.1, duration, 1e-6)
}

func TestSave_WhileRecordingIsBusy(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder(t, newBackend())

	require.NoError(t, recorder.StartRecording())

	err := recorder.Save(filepath.Join(t.TempDir(), "take.wav"))
	require.ErrorIs(t, err, record.ErrBusy)

	recorder.StopRecording()
}

func TestSave_EmptyBufferFails(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder(t, newBackend())

	err := recorder.Save(filepath.Join(t.TempDir(), "take.wav"))
	require.ErrorIs(t, err, record.ErrNothingRecorded)
}

func TestReset_DiscardsBuffer(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder(t, newBackend())

	require.NoError(t, recorder.StartRecording())
	waitForFrames(t, recorder, 2)
	recorder.StopRecording()

	recorder.Reset()

	assert.Zero(t, recorder.FrameCount())
	assert.Zero(t, recorder.Duration())
}

func TestSetDevice_ValidatesAgainstBackend(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder(t, newBackend())

	require.NoError(t, recorder.SetDevice(3))
	assert.Equal(t, 3, recorder.Config().DeviceIndex)

	err := recorder.SetDevice(42)
	require.ErrorIs(t, err, record.ErrInvalidDevice)
	assert.Equal(t, 3, recorder.Config().DeviceIndex)
}

func TestUseDeviceChannels_AdoptsDeviceCapability(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder(t, newBackend())

	require.NoError(t, recorder.UseDeviceChannels(0))
	assert.Equal(t, 2, recorder.Config().Channels)

	err := recorder.UseDeviceChannels(42)
	require.ErrorIs(t, err, record.ErrInvalidDevice)
}

func TestDeviceEnumeration(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder(t, newBackend())

	count, err := recorder.DeviceCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	names, err := recorder.DeviceNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"Fake Microphone", "Fake Line In"}, names)
}

func TestPeak_ReadsTailFrameAmplitude(t *testing.T) {
	t.Parallel()

	backend := newBackend()

	// Plant a half-scale sample in the second frame position of every chunk.
	backend.input.chunk[2] = 0x00
	backend.input.chunk[3] = 0x40

	recorder := newTestRecorder(t, backend)

	assert.Zero(t, recorder.Peak())

	require.NoError(t, recorder.StartRecording())
	waitForFrames(t, recorder, 1)
	recorder.StopRecording()

	assert.InDelta(t, 0.5, recorder.Peak(), 1e-9)
}
