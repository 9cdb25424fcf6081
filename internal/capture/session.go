// Package capture owns the open audio input stream and the sample buffer
// accumulated while a recording is in progress. The one delicate piece is
// shutdown: stopping a hardware stream can hang, so the drain path is
// bounded by a deadline and returns whatever was buffered when it expires.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrDeviceUnavailable is returned when the input stream cannot be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrTooShort is returned at save time for recordings under the configured floor.
	ErrTooShort = errors.New("recording too short")
)

// Config declares the capture format and the session-internal bounds.
type Config struct {
	SampleRate   int
	Channels     int
	Device       string
	MinDuration  time.Duration
	DrainTimeout time.Duration
}

// Session owns the stream handle and the frame buffer. The audio callback
// is the single writer to the buffer; the drain path is the only reader
// after stopping.
type Session struct {
	cfg    Config
	stream Stream

	accepting atomic.Bool

	mu     sync.Mutex
	frames []int16

	drainOnce sync.Once
	drained   []int16
	degraded  bool
}

// Open acquires the input stream via open and begins accumulating frames.
// On failure no resources are held and ErrDeviceUnavailable is returned.
func Open(cfg Config, open OpenFunc) (*Session, error) {
	s := &Session{cfg: cfg}
	s.accepting.Store(true)

	stream, err := open(cfg, s.appendFrames)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		// Close on the spot; the stream never delivered a frame.
		stream.Close()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.stream = stream
	return s, nil
}

// appendFrames runs on the audio subsystem's goroutine. It only copies
// samples into the buffer; once the session is draining, late callbacks
// are dropped so the buffer is stable before the hardware teardown call.
func (s *Session) appendFrames(in []int16) {
	if !s.accepting.Load() {
		return
	}
	s.mu.Lock()
	s.frames = append(s.frames, in...)
	s.mu.Unlock()
}

// StopAndDrain stops frame delivery, releases the stream, and returns the
// accumulated buffer. The hardware stop/close call is given DrainTimeout to
// return; past that the session is marked degraded and the call returns
// with whatever was buffered instead of blocking its caller forever.
// Subsequent calls return the first call's result.
func (s *Session) StopAndDrain() ([]int16, bool) {
	s.drainOnce.Do(func() {
		s.accepting.Store(false)

		done := make(chan error, 1)
		go func() {
			if err := s.stream.Stop(); err != nil {
				done <- err
				return
			}
			done <- s.stream.Close()
		}()

		select {
		case err := <-done:
			if err != nil {
				slog.Warn("stream teardown reported error", "error", err)
			}
		case <-time.After(s.cfg.DrainTimeout):
			slog.Warn("stream teardown exceeded deadline, saving buffered frames",
				"deadline", s.cfg.DrainTimeout)
			s.degraded = true
		}

		s.mu.Lock()
		s.drained = s.frames
		s.frames = nil
		s.mu.Unlock()
	})

	return s.drained, s.degraded
}

// Elapsed derives the recorded duration from the frame count.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	n := len(s.frames)
	if n == 0 {
		n = len(s.drained)
	}
	s.mu.Unlock()
	return FrameDuration(n, s.cfg.SampleRate, s.cfg.Channels)
}

// Descriptor reports the device/format in use, for the lock record.
func (s *Session) Descriptor() string {
	return s.stream.Descriptor()
}

// FrameDuration converts an interleaved sample count to wall time.
func FrameDuration(samples, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return time.Duration(samples/channels) * time.Second / time.Duration(sampleRate)
}
