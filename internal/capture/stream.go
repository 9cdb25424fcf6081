package capture

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// Stream is the hardware input stream behind a capture session. Frames are
// delivered through the callback passed at open time; Stop and Close are
// only ever called from the session's drain path.
type Stream interface {
	Start() error
	Stop() error
	Close() error

	// Descriptor identifies the device and format for diagnostics.
	Descriptor() string
}

// OpenFunc opens a stream that delivers int16 frames to onFrames. The
// callback runs on the audio subsystem's own goroutine and must not block.
type OpenFunc func(cfg Config, onFrames func([]int16)) (Stream, error)

// portAudioStream implements Stream on top of PortAudio.
type portAudioStream struct {
	stream     *portaudio.Stream
	descriptor string
}

// OpenPortAudio opens the configured input device (empty selector = system
// default) as a callback-driven PortAudio stream.
func OpenPortAudio(cfg Config, onFrames func([]int16)) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}

	dev, err := selectInputDevice(cfg.Device)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = 1024

	stream, err := portaudio.OpenStream(params, func(in []int16) {
		onFrames(in)
	})
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}

	s := &portAudioStream{
		stream:     stream,
		descriptor: fmt.Sprintf("%s@%dHz/%dch", dev.Name, cfg.SampleRate, cfg.Channels),
	}
	return s, nil
}

func (s *portAudioStream) Start() error {
	return s.stream.Start()
}

func (s *portAudioStream) Stop() error {
	return s.stream.Stop()
}

func (s *portAudioStream) Close() error {
	err := s.stream.Close()
	portaudio.Terminate()
	return err
}

func (s *portAudioStream) Descriptor() string {
	return s.descriptor
}

// selectInputDevice resolves a device selector to a PortAudio input device.
// Matching is a case-insensitive substring match on the device name.
func selectInputDevice(selector string) (*portaudio.DeviceInfo, error) {
	if selector == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list audio devices: %w", err)
	}
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && strings.Contains(strings.ToLower(dev.Name), strings.ToLower(selector)) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", selector)
}

// ListInputDevices returns the names of available input devices, the default
// device first.
func ListInputDevices() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}
	defer portaudio.Terminate()

	def, _ := portaudio.DefaultInputDevice()
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list audio devices: %w", err)
	}

	var names []string
	for _, dev := range devices {
		if dev.MaxInputChannels == 0 {
			continue
		}
		name := dev.Name
		if def != nil && dev.Name == def.Name {
			name += " (default)"
			names = append([]string{name}, names...)
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
