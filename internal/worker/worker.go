// Package worker runs the long-lived recording process. The worker owns the
// capture session and the lock record for its whole lifetime and is the only
// process that tears either down on a clean exit.
//
// Stop requests arrive asynchronously (a signal, or RequestStop from a test)
// but are only ever consumed inside Run's own loop. Nothing resource-owning
// happens on the delivery side: the request closes a channel and the loop
// picks it up at its next poll. Hardware teardown inside a signal path is
// what used to hang this class of tool, so the split is load-bearing.
package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quickvox/quickvox/internal/capture"
	"github.com/quickvox/quickvox/internal/config"
	"github.com/quickvox/quickvox/internal/lockfile"
)

// State is the worker's position in the recording lifecycle.
type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
	StateStopping  State = "STOPPING"
	StateSaved     State = "SAVED"
	StateFailed    State = "FAILED"
)

// Result is what a finished worker reports to its command wrapper.
type Result struct {
	State     State
	AudioPath string
	Elapsed   time.Duration
	// Degraded marks a recording that was saved after the stream teardown
	// missed its deadline. It must stay visible all the way up.
	Degraded bool
	Err      error
}

// Worker drives one recording from device open to saved artifact.
type Worker struct {
	cfg  *config.Config
	open capture.OpenFunc

	pollInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}

	mu    sync.Mutex
	state State
}

func New(cfg *config.Config, open capture.OpenFunc) *Worker {
	return &Worker{
		cfg:          cfg,
		open:         open,
		pollInterval: 100 * time.Millisecond,
		stopCh:       make(chan struct{}),
		state:        StateIdle,
	}
}

// RequestStop asks the worker to leave the recording loop. It is safe to
// call from any goroutine, any number of times; deliveries after the first
// are no-ops, and none of them perform any teardown themselves.
func (w *Worker) RequestStop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run executes the full lifecycle and always returns a terminal Result.
// The ordering is fixed: capture opens before the lock is created, the
// buffer is drained before persistence, persistence completes before the
// lock is released, and the lock is released before Run returns.
func (w *Worker) Run() Result {
	captureCfg := capture.Config{
		SampleRate:   w.cfg.Audio.SampleRate,
		Channels:     w.cfg.Audio.Channels,
		Device:       w.cfg.Audio.Device,
		MinDuration:  w.cfg.Limits.MinDuration,
		DrainTimeout: w.cfg.Limits.DrainTimeout,
	}

	session, err := capture.Open(captureCfg, w.open)
	if err != nil {
		// No lock was created, nothing to clean up.
		w.setState(StateFailed)
		return Result{State: StateFailed, Err: err}
	}

	audioPath := w.artifactPath()
	if err := os.MkdirAll(filepath.Dir(audioPath), 0o755); err != nil {
		session.StopAndDrain()
		w.setState(StateFailed)
		return Result{State: StateFailed, Err: fmt.Errorf("failed to create output directory: %w", err)}
	}

	lockPath := w.cfg.LockPath()
	entry := lockfile.Entry{
		OwnerPID:         os.Getpid(),
		CreatedAt:        time.Now(),
		AudioFilePath:    audioPath,
		StreamDescriptor: session.Descriptor(),
	}
	if err := lockfile.Acquire(lockPath, entry); err != nil {
		// Lost the race to another worker; release the device and bail.
		session.StopAndDrain()
		w.setState(StateFailed)
		return Result{State: StateFailed, Err: err}
	}

	w.setState(StateRecording)
	slog.Info("recording started", "pid", entry.OwnerPID, "output", audioPath,
		"stream", entry.StreamDescriptor)

	w.recordLoop(session)

	w.setState(StateStopping)
	frames, degraded := session.StopAndDrain()
	elapsed := capture.FrameDuration(len(frames), captureCfg.SampleRate, captureCfg.Channels)

	res := Result{AudioPath: audioPath, Elapsed: elapsed, Degraded: degraded}
	if err := capture.Persist(frames, captureCfg, audioPath); err != nil {
		res.State = StateFailed
		res.Err = err
		res.AudioPath = ""
	} else {
		res.State = StateSaved
	}

	if err := lockfile.Release(lockPath, entry.OwnerPID); err != nil {
		slog.Error("failed to release lock", "error", err)
		if res.Err == nil {
			res.Err = err
			res.State = StateFailed
		}
	}

	w.setState(res.State)
	switch {
	case res.State == StateSaved && res.Degraded:
		slog.Warn("recording saved degraded, stream teardown timed out",
			"output", res.AudioPath, "duration", res.Elapsed)
	case res.State == StateSaved:
		slog.Info("recording saved", "output", res.AudioPath, "duration", res.Elapsed)
	default:
		slog.Error("recording failed", "error", res.Err)
	}
	return res
}

// recordLoop blocks until a stop is requested or the recording hits the
// configured ceiling. Frame delivery happens on the capture callback; the
// loop only watches for reasons to leave Recording.
func (w *Worker) recordLoop(session *capture.Session) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			slog.Debug("stop requested")
			return
		case <-ticker.C:
			if session.Elapsed() >= w.cfg.Limits.MaxDuration {
				slog.Info("max duration reached, stopping", "limit", w.cfg.Limits.MaxDuration)
				return
			}
		}
	}
}

func (w *Worker) artifactPath() string {
	name := fmt.Sprintf("rec-%s-%s.wav",
		time.Now().Format("20060102-150405"),
		uuid.NewString()[:8])
	return filepath.Join(w.cfg.Output.Directory, name)
}

// ExitCode maps a terminal result to the worker process exit code.
// 0 = saved, 3 = saved but degraded, 2 = rejected as too short, 1 = failed.
func (r Result) ExitCode() int {
	switch {
	case r.State == StateSaved && r.Degraded:
		return 3
	case r.State == StateSaved:
		return 0
	case errors.Is(r.Err, capture.ErrTooShort):
		return 2
	default:
		return 1
	}
}
