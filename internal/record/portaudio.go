package record

import (
	"encoding/binary"
	"fmt"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/gordonklaus/portaudio"
)

// PortAudioBackend implements Backend against the PortAudio library. Callers
// own the library lifecycle: NewPortAudioBackend initializes PortAudio and
// Close terminates it.
type PortAudioBackend struct{}

// NewPortAudioBackend initializes the PortAudio library.
func NewPortAudioBackend() (*PortAudioBackend, error) {
	err := portaudio.Initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	return &PortAudioBackend{}, nil
}

// Close terminates the PortAudio library.
func (b *PortAudioBackend) Close() error {
	err := portaudio.Terminate()
	if err != nil {
		return fmt.Errorf("failed to terminate portaudio: %w", err)
	}

	return nil
}

// InputDevices enumerates devices with at least one input channel.
func (b *PortAudioBackend) InputDevices() ([]core.Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}

	inputs := make([]core.Device, 0, len(devices))

	for index, device := range devices {
		if device.MaxInputChannels > 0 {
			inputs = append(inputs, core.Device{
				Index:            index,
				Name:             device.Name,
				MaxInputChannels: device.MaxInputChannels,
			})
		}
	}

	return inputs, nil
}

// OpenInput opens and starts an input stream with the given configuration.
func (b *PortAudioBackend) OpenInput(cfg DeviceConfig) (InputStream, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	device, err := b.inputDeviceInfo(cfg.DeviceIndex)
	if err != nil {
		return nil, err
	}

	params := portaudio.HighLatencyParameters(device, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.Rate)
	params.FramesPerBuffer = cfg.ChunkFrames

	buf := make([]int16, cfg.ChunkFrames*cfg.Channels)

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}

	err = stream.Start()
	if err != nil {
		_ = stream.Close()

		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	return &portAudioInput{stream: stream, buf: buf}, nil
}

// OpenOutput opens and starts an output stream on the default output device.
func (b *PortAudioBackend) OpenOutput(cfg DeviceConfig) (OutputStream, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	device, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to get default output device: %w", err)
	}

	params := portaudio.HighLatencyParameters(nil, device)
	params.Output.Channels = cfg.Channels
	params.SampleRate = float64(cfg.Rate)
	params.FramesPerBuffer = cfg.ChunkFrames

	buf := make([]int16, cfg.ChunkFrames*cfg.Channels)

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}

	err = stream.Start()
	if err != nil {
		_ = stream.Close()

		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}

	return &portAudioOutput{stream: stream, buf: buf}, nil
}

func (b *PortAudioBackend) inputDeviceInfo(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}

		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}

	if index >= len(devices) || devices[index].MaxInputChannels == 0 {
		return nil, ErrInvalidDevice
	}

	return devices[index], nil
}

type portAudioInput struct {
	stream *portaudio.Stream
	buf    []int16
}

func (s *portAudioInput) ReadChunk() ([]byte, error) {
	err := s.stream.Read()
	if err != nil {
		return nil, fmt.Errorf("input stream read failed: %w", err)
	}

	chunk := make([]byte, len(s.buf)*2)
	for i, sample := range s.buf {
		binary.LittleEndian.PutUint16(chunk[i*2:], uint16(sample))
	}

	return chunk, nil
}

func (s *portAudioInput) Close() error {
	stopErr := s.stream.Stop()

	closeErr := s.stream.Close()
	if closeErr != nil {
		return fmt.Errorf("failed to close input stream: %w", closeErr)
	}

	if stopErr != nil {
		return fmt.Errorf("failed to stop input stream: %w", stopErr)
	}

	return nil
}

type portAudioOutput struct {
	stream *portaudio.Stream
	buf    []int16
}

func (s *portAudioOutput) WriteChunk(chunk []byte) error {
	for i := range s.buf {
		if i*2+1 < len(chunk) {
			s.buf[i] = int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		} else {
			s.buf[i] = 0
		}
	}

	err := s.stream.Write()
	if err != nil {
		return fmt.Errorf("output stream write failed: %w", err)
	}

	return nil
}

func (s *portAudioOutput) Close() error {
	stopErr := s.stream.Stop()

	closeErr := s.stream.Close()
	if closeErr != nil {
		return fmt.Errorf("failed to close output stream: %w", closeErr)
	}

	if stopErr != nil {
		return fmt.Errorf("failed to stop output stream: %w", stopErr)
	}

	return nil
}
