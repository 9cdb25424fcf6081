package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quickvox/quickvox/internal/config"
	"github.com/quickvox/quickvox/internal/lockfile"
)

var (
	// ErrAlreadyRecording is returned when a live worker holds the lock.
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	// ErrStartFailed is returned when the spawned worker never confirmed
	// that it entered the recording state.
	ErrStartFailed = errors.New("worker failed to start recording")
)

// StartResult identifies the worker that was confirmed recording.
type StartResult struct {
	PID           int
	AudioFilePath string
}

// Start reclaims any stale lock, spawns a detached worker process, and
// waits for the worker's lock record to appear. Success means the worker
// itself confirmed recording by creating the lock, not merely that a
// process was spawned; a silent capture-open failure surfaces here as
// ErrStartFailed.
func Start(cfg *config.Config, configFile string) (*StartResult, error) {
	lockPath := cfg.LockPath()

	reclaimed, err := lockfile.ReclaimIfStale(lockPath)
	if err != nil {
		return nil, err
	}
	if reclaimed {
		slog.Info("reclaimed stale lock from dead worker")
	}

	if entry, err := lockfile.Inspect(lockPath); err == nil {
		if lockfile.IsOwnerAlive(entry) {
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRecording, entry.OwnerPID)
		}
	}

	pid, err := spawnWorker(cfg, configFile)
	if err != nil {
		return nil, err
	}

	entry, err := awaitLock(lockPath, pid, cfg.Stop.StartTimeout)
	if err != nil {
		// Don't leave a half-started worker behind.
		killAndReclaim(pid, lockPath, cfg.Stop.ConfirmWait)
		return nil, err
	}

	slog.Info("worker recording", "pid", pid, "output", entry.AudioFilePath)
	return &StartResult{PID: pid, AudioFilePath: entry.AudioFilePath}, nil
}

// spawnWorker re-execs this binary as a detached `worker` process with its
// output appended to a log file in the state directory.
func spawnWorker(cfg *config.Config, configFile string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to resolve executable: %w", err)
	}

	args := []string{"worker"}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}

	if err := os.MkdirAll(cfg.Output.StateDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create state directory: %w", err)
	}
	logPath := filepath.Join(cfg.Output.StateDir, "worker.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open worker log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to spawn worker: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		slog.Debug("failed to release worker process handle", "error", err)
	}
	slog.Debug("worker spawned", "pid", pid, "log", logPath)
	return pid, nil
}

// awaitLock waits for the lock record created by pid to appear. It watches
// the state directory with fsnotify and polls as a fallback; if the worker
// dies first or the timeout passes, the start has failed.
func awaitLock(lockPath string, pid int, timeout time.Duration) (*lockfile.Entry, error) {
	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(lockPath)); err == nil {
			events = watcher.Events
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		if entry, err := lockfile.Inspect(lockPath); err == nil {
			if entry.OwnerPID == pid {
				return entry, nil
			}
			// A different live owner appeared: we lost a concurrent-start
			// race and our worker will exit on its own.
			if lockfile.IsOwnerAlive(entry) {
				return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRecording, entry.OwnerPID)
			}
		}

		if !pidAlive(pid) {
			return nil, fmt.Errorf("%w: worker exited before creating lock", ErrStartFailed)
		}

		select {
		case <-events:
		case <-ticker.C:
		case <-deadline:
			return nil, fmt.Errorf("%w: no lock after %s", ErrStartFailed, timeout)
		}
	}
}

func pidAlive(pid int) bool {
	return lockfile.IsOwnerAlive(&lockfile.Entry{OwnerPID: pid})
}

// killAndReclaim forcefully terminates a worker that never confirmed
// recording, then removes the lock it may have created in the race window
// between the await deadline and the kill. Without the reclaim that lock
// would sit stale until the next start.
func killAndReclaim(pid int, lockPath string, confirm time.Duration) {
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		slog.Warn("failed to kill unconfirmed worker", "pid", pid, "error", err)
	}
	awaitExit(pid, confirm)

	entry, err := lockfile.Inspect(lockPath)
	if err != nil || entry.OwnerPID != pid {
		return
	}
	if _, err := lockfile.ReclaimIfStale(lockPath); err != nil {
		slog.Warn("failed to reclaim lock of killed worker", "pid", pid, "error", err)
	}
}
