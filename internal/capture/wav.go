package capture

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/renameio/v2"
)

// Persist writes the drained frames as a 16-bit PCM WAV file at path. The
// write is staged to a temporary file in the destination directory and
// renamed into place on success, so a reader never observes a partial file.
// Recordings shorter than the configured floor are rejected with ErrTooShort
// and nothing is left on disk.
func Persist(frames []int16, cfg Config, path string) error {
	elapsed := FrameDuration(len(frames), cfg.SampleRate, cfg.Channels)
	if elapsed < cfg.MinDuration {
		return fmt.Errorf("%w: %s < %s", ErrTooShort, elapsed, cfg.MinDuration)
	}

	t, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return fmt.Errorf("failed to stage audio file: %w", err)
	}
	defer t.Cleanup()

	enc := wav.NewEncoder(t, cfg.SampleRate, 16, cfg.Channels, 1)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: cfg.Channels, SampleRate: cfg.SampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(frames)),
	}
	for i, v := range frames {
		buf.Data[i] = int(v)
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write audio samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize audio file: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to commit audio file: %w", err)
	}

	slog.Debug("audio artifact written", "path", path, "duration", elapsed, "samples", len(frames))
	return nil
}
