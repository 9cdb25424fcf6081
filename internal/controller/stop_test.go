package controller

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickvox/quickvox/internal/config"
	"github.com/quickvox/quickvox/internal/lockfile"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	base := t.TempDir()
	cfg.Output.Directory = filepath.Join(base, "recordings")
	cfg.Output.StateDir = filepath.Join(base, "state")
	cfg.Stop.GracePeriod = time.Second
	cfg.Stop.ConfirmWait = 500 * time.Millisecond
	cfg.Stop.StartTimeout = time.Second
	return cfg
}

// spawn starts a shell child and returns its pid. The caller is responsible
// for reaping it; a goroutine waits in the background so the process table
// entry clears once the child dies.
func spawn(t *testing.T, script string) int {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	require.NoError(t, cmd.Start())
	go cmd.Wait()
	t.Cleanup(func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	})
	return cmd.Process.Pid
}

func TestStopProcessCooperative(t *testing.T) {
	pid := spawn(t, "sleep 30")

	start := time.Now()
	outcome, err := stopProcess(pid, time.Second, 500*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, StoppedCleanly, outcome)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStopProcessEscalates(t *testing.T) {
	// The child ignores SIGTERM, forcing the two-phase path.
	pid := spawn(t, `trap "" TERM; sleep 30 & wait`)
	time.Sleep(100 * time.Millisecond) // let the trap install

	grace := 500 * time.Millisecond
	start := time.Now()
	outcome, err := stopProcess(pid, grace, time.Second)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, ForcedTermination, outcome)
	assert.GreaterOrEqual(t, elapsed, grace, "escalation only after the grace period")
	assert.Less(t, elapsed, grace+2*time.Second, "must not hang past grace plus confirmation")
}

func TestStopProcessAlreadyDead(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	outcome, err := stopProcess(cmd.ProcessState.Pid(), time.Second, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StoppedCleanly, outcome)
}

func TestStopNoLock(t *testing.T) {
	cfg := testConfig(t)
	_, err := Stop(cfg)
	assert.ErrorIs(t, err, lockfile.ErrNotLocked)
}

func TestStopStaleLock(t *testing.T) {
	cfg := testConfig(t)

	dead := exec.Command("true")
	require.NoError(t, dead.Run())
	require.NoError(t, lockfile.Acquire(cfg.LockPath(), lockfile.Entry{
		OwnerPID:      dead.ProcessState.Pid(),
		CreatedAt:     time.Now(),
		AudioFilePath: "/tmp/gone.wav",
	}))

	res, err := Stop(cfg)
	require.NoError(t, err)
	assert.Equal(t, WasStale, res.Outcome)

	_, err = lockfile.Inspect(cfg.LockPath())
	assert.ErrorIs(t, err, lockfile.ErrNotLocked, "stale lock must be reclaimed")
}

func TestStopForcedReclaimsLock(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stop.GracePeriod = 500 * time.Millisecond

	pid := spawn(t, `trap "" TERM; sleep 30 & wait`)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, lockfile.Acquire(cfg.LockPath(), lockfile.Entry{
		OwnerPID:  pid,
		CreatedAt: time.Now(),
	}))

	res, err := Stop(cfg)
	require.NoError(t, err)
	assert.Equal(t, ForcedTermination, res.Outcome)

	_, err = lockfile.Inspect(cfg.LockPath())
	assert.ErrorIs(t, err, lockfile.ErrNotLocked,
		"the controller must reclaim the lock the killed worker left behind")
}

// stopWithWorkerRelease drives Stop against a polite child whose lock is
// removed the moment it exits, the way a real worker releases on the way
// out. artifactPath is what the lock record advertises.
func stopWithWorkerRelease(t *testing.T, cfg *config.Config, artifactPath string) *StopResult {
	t.Helper()
	pid := spawn(t, "sleep 30")

	lockPath := cfg.LockPath()
	require.NoError(t, lockfile.Acquire(lockPath, lockfile.Entry{
		OwnerPID:      pid,
		CreatedAt:     time.Now(),
		AudioFilePath: artifactPath,
	}))
	go func() {
		for {
			alive := lockfile.IsOwnerAlive(&lockfile.Entry{OwnerPID: pid})
			if !alive {
				os.Remove(lockPath)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	res, err := Stop(cfg)
	require.NoError(t, err)
	assert.Equal(t, pid, res.Entry.OwnerPID)
	return res
}

func TestStopCleanLeavesLockRemovalToWorker(t *testing.T) {
	cfg := testConfig(t)

	artifact := filepath.Join(t.TempDir(), "rec.wav")
	require.NoError(t, os.WriteFile(artifact, []byte("RIFF"), 0o644))

	res := stopWithWorkerRelease(t, cfg, artifact)
	assert.Equal(t, StoppedCleanly, res.Outcome)
}

func TestStopCleanWithoutArtifactIsNotSuccess(t *testing.T) {
	cfg := testConfig(t)

	// The worker exited cooperatively but saved nothing (too short, or the
	// save failed). Its exit code died with the detached process, so the
	// missing artifact is the only signal left; the controller must not
	// report a clean stop.
	missing := filepath.Join(t.TempDir(), "never-written.wav")
	res := stopWithWorkerRelease(t, cfg, missing)
	assert.Equal(t, StoppedNoArtifact, res.Outcome,
		"a cooperative exit with no artifact must stay distinguishable from success")
}
