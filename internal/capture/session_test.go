package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream simulates the hardware stream. pump pushes samples through the
// session callback the way the audio subsystem would; stopDelay simulates a
// hanging teardown call.
type fakeStream struct {
	onFrames  func([]int16)
	stopDelay time.Duration
	stops     atomic.Int32
	closes    atomic.Int32
}

func (f *fakeStream) Start() error { return nil }

func (f *fakeStream) Stop() error {
	f.stops.Add(1)
	if f.stopDelay > 0 {
		time.Sleep(f.stopDelay)
	}
	return nil
}

func (f *fakeStream) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeStream) Descriptor() string { return "fake@16000Hz/1ch" }

func (f *fakeStream) pump(n int) {
	frames := make([]int16, n)
	for i := range frames {
		frames[i] = int16(i % 1000)
	}
	f.onFrames(frames)
}

func fakeOpen(stream *fakeStream) OpenFunc {
	return func(cfg Config, onFrames func([]int16)) (Stream, error) {
		stream.onFrames = onFrames
		return stream, nil
	}
}

func testConfig() Config {
	return Config{
		SampleRate:   16000,
		Channels:     1,
		MinDuration:  100 * time.Millisecond,
		DrainTimeout: time.Second,
	}
}

func TestSessionAccumulatesFrames(t *testing.T) {
	stream := &fakeStream{}
	s, err := Open(testConfig(), fakeOpen(stream))
	require.NoError(t, err)

	stream.pump(16000)
	assert.Equal(t, time.Second, s.Elapsed())

	frames, degraded := s.StopAndDrain()
	assert.False(t, degraded)
	assert.Len(t, frames, 16000)
	assert.Equal(t, int32(1), stream.stops.Load())
	assert.Equal(t, int32(1), stream.closes.Load())
}

func TestSessionOpenFailure(t *testing.T) {
	open := func(cfg Config, onFrames func([]int16)) (Stream, error) {
		return nil, errors.New("no such device")
	}
	_, err := Open(testConfig(), open)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestStopAndDrainIdempotent(t *testing.T) {
	stream := &fakeStream{}
	s, err := Open(testConfig(), fakeOpen(stream))
	require.NoError(t, err)

	stream.pump(1024)
	first, _ := s.StopAndDrain()
	second, _ := s.StopAndDrain()

	assert.Equal(t, first, second)
	// The stream handle is torn down exactly once.
	assert.Equal(t, int32(1), stream.stops.Load())
	assert.Equal(t, int32(1), stream.closes.Load())
}

func TestStopAndDrainDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.DrainTimeout = 50 * time.Millisecond

	stream := &fakeStream{stopDelay: 500 * time.Millisecond}
	s, err := Open(cfg, fakeOpen(stream))
	require.NoError(t, err)

	stream.pump(8000)

	start := time.Now()
	frames, degraded := s.StopAndDrain()
	elapsed := time.Since(start)

	assert.True(t, degraded, "hung teardown must mark the session degraded")
	assert.Len(t, frames, 8000, "buffered frames are still returned")
	assert.Less(t, elapsed, 300*time.Millisecond, "drain must not wait for the hung teardown")
}

func TestElapsedDuringDrain(t *testing.T) {
	cfg := testConfig()
	cfg.DrainTimeout = 100 * time.Millisecond

	stream := &fakeStream{stopDelay: 50 * time.Millisecond}
	s, err := Open(cfg, fakeOpen(stream))
	require.NoError(t, err)

	stream.pump(16000)

	// Elapsed must be safe to call while the drain hands the buffer over.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s.Elapsed()
			time.Sleep(time.Millisecond)
		}
	}()

	frames, _ := s.StopAndDrain()
	<-done

	assert.Len(t, frames, 16000)
	assert.Equal(t, time.Second, s.Elapsed(), "elapsed still derived from the drained buffer")
}

func TestCallbackDroppedAfterStop(t *testing.T) {
	stream := &fakeStream{}
	s, err := Open(testConfig(), fakeOpen(stream))
	require.NoError(t, err)

	stream.pump(1000)
	frames, _ := s.StopAndDrain()
	require.Len(t, frames, 1000)

	// A straggling callback after drain must not grow anything.
	stream.pump(1000)
	again, _ := s.StopAndDrain()
	assert.Len(t, again, 1000)
}

func TestPersistRoundTrip(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")

	frames := make([]int16, 48000) // 3s at 16kHz
	for i := range frames {
		frames[i] = int16(i)
	}

	require.NoError(t, Persist(frames, cfg, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint32(16000), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)

	dur, err := dec.Duration()
	require.NoError(t, err)
	assert.InDelta(t, 3.0, dur.Seconds(), 0.2)

	// No staging temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPersistTooShort(t *testing.T) {
	cfg := testConfig()
	cfg.MinDuration = 500 * time.Millisecond
	dir := t.TempDir()
	path := filepath.Join(dir, "short.wav")

	frames := make([]int16, 1600) // 100ms at 16kHz
	err := Persist(frames, cfg, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooShort)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "rejected recording must leave no artifact")

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestFrameDuration(t *testing.T) {
	tests := []struct {
		samples    int
		sampleRate int
		channels   int
		want       time.Duration
	}{
		{16000, 16000, 1, time.Second},
		{8000, 16000, 1, 500 * time.Millisecond},
		{32000, 16000, 2, time.Second},
		{0, 16000, 1, 0},
		{100, 0, 1, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d@%d/%d", tt.samples, tt.sampleRate, tt.channels), func(t *testing.T) {
			assert.Equal(t, tt.want, FrameDuration(tt.samples, tt.sampleRate, tt.channels))
		})
	}
}
