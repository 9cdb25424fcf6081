// Package controller implements the short-lived start/stop processes that
// manage a recording worker from the outside. Controllers only read or
// reclaim the lock record; the worker alone creates and releases it on a
// clean exit.
package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/quickvox/quickvox/internal/config"
	"github.com/quickvox/quickvox/internal/lockfile"
)

// StopOutcome distinguishes every way a stop can end. Forced termination is
// never collapsed into success or a generic failure: it means the artifact
// may be missing or incomplete and the caller must be able to say so.
type StopOutcome string

const (
	StoppedCleanly    StopOutcome = "stopped_cleanly"
	StoppedNoArtifact StopOutcome = "stopped_no_artifact"
	ForcedTermination StopOutcome = "forced_termination"
	WasStale          StopOutcome = "was_stale"
)

// StopResult reports how the worker went down and what it was recording.
type StopResult struct {
	Outcome StopOutcome
	Entry   *lockfile.Entry
}

const pollInterval = 100 * time.Millisecond

// Stop requests a cooperative stop of the current worker and escalates when
// the grace period expires. On a clean stop the lock is gone because the
// worker removed it; only after a forced kill does the controller reclaim
// the lock itself, since the worker no longer can.
func Stop(cfg *config.Config) (*StopResult, error) {
	lockPath := cfg.LockPath()

	entry, err := lockfile.Inspect(lockPath)
	if err != nil {
		return nil, err
	}

	if !lockfile.IsOwnerAlive(entry) {
		slog.Info("lock owner already dead, reclaiming", "pid", entry.OwnerPID)
		if _, err := lockfile.ReclaimIfStale(lockPath); err != nil {
			return nil, err
		}
		return &StopResult{Outcome: WasStale, Entry: entry}, nil
	}

	outcome, err := stopProcess(entry.OwnerPID, cfg.Stop.GracePeriod, cfg.Stop.ConfirmWait)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case ForcedTermination:
		// The worker cannot release the lock anymore.
		if err := lockfile.ForceRemove(lockPath); err != nil {
			return nil, err
		}
	case StoppedCleanly:
		// A cooperative exit still ends in Failed when the recording was
		// too short or the save failed; the worker's exit code dies with
		// it (the process is detached), so the artifact itself is the
		// only evidence the controller can check.
		if _, err := os.Stat(entry.AudioFilePath); err != nil {
			outcome = StoppedNoArtifact
		}
	}
	return &StopResult{Outcome: outcome, Entry: entry}, nil
}

// stopProcess drives the two-phase termination of pid: SIGTERM, then poll
// for exit up to grace, then SIGKILL with a short confirmation wait.
func stopProcess(pid int, grace, confirm time.Duration) (StopOutcome, error) {
	slog.Debug("sending stop signal", "pid", pid)
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return StoppedCleanly, nil
		}
		return "", fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}

	if awaitExit(pid, grace) {
		return StoppedCleanly, nil
	}

	slog.Warn("worker did not exit within grace period, escalating",
		"pid", pid, "grace", grace)
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return "", fmt.Errorf("failed to kill pid %d: %w", pid, err)
	}
	awaitExit(pid, confirm)
	return ForcedTermination, nil
}

// awaitExit polls the process table until pid is gone or the deadline
// passes. It returns true when the process exited in time.
func awaitExit(pid int, deadline time.Duration) bool {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		alive, err := process.PidExists(int32(pid))
		if err == nil && !alive {
			return true
		}
		time.Sleep(pollInterval)
	}
	alive, err := process.PidExists(int32(pid))
	return err == nil && !alive
}
