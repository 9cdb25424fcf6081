// Package lockfile is the on-disk registry asserting that exactly one
// recording worker owns the audio device. The record is a small YAML file
// created with O_EXCL semantics; liveness of the owner is always checked
// against the OS process table, never inferred from file existence.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"gopkg.in/yaml.v3"
)

var (
	// ErrAlreadyLocked is returned by Acquire when a live worker holds the lock.
	ErrAlreadyLocked = errors.New("recording already in progress")
	// ErrNotLocked is returned when no lock record exists.
	ErrNotLocked = errors.New("no recording in progress")
	// ErrNotOwner is returned by Release when the record names a different owner.
	ErrNotOwner = errors.New("lock held by a different process")
)

// Entry is the durable record of an in-progress recording.
type Entry struct {
	OwnerPID         int       `yaml:"owner_pid"`
	CreatedAt        time.Time `yaml:"created_at"`
	AudioFilePath    string    `yaml:"audio_file_path"`
	StreamDescriptor string    `yaml:"stream_descriptor"`
}

// Acquire atomically creates the lock record at path. It fails with
// ErrAlreadyLocked if a record with a live owner already exists; a stale
// record is reported as ErrAlreadyLocked too, since reclamation is the
// start controller's decision, never the acquiring worker's.
func Acquire(path string, entry Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	data, err := yaml.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to encode lock entry: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyLocked
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close lock file: %w", err)
	}

	return nil
}

// Inspect reads the lock record without modifying it.
func Inspect(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotLocked
		}
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}

	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode lock file: %w", err)
	}

	return &entry, nil
}

// IsOwnerAlive reports whether the owning process still exists. The check
// goes through the process table; the lock file existing proves nothing
// about the worker that wrote it.
func IsOwnerAlive(entry *Entry) bool {
	if entry == nil || entry.OwnerPID <= 0 {
		return false
	}
	alive, err := process.PidExists(int32(entry.OwnerPID))
	if err != nil {
		return false
	}
	return alive
}

// ReclaimIfStale removes the lock record when its owner is dead. It returns
// true when a stale record was removed and false when there was nothing to
// do or the owner is still alive.
func ReclaimIfStale(path string) (bool, error) {
	entry, err := Inspect(path)
	if err != nil {
		if errors.Is(err, ErrNotLocked) {
			return false, nil
		}
		// An unreadable record has no verifiable owner; treat it as stale.
		if removeErr := os.Remove(path); removeErr != nil {
			return false, fmt.Errorf("failed to remove corrupt lock file: %w", removeErr)
		}
		return true, nil
	}

	if IsOwnerAlive(entry) {
		return false, nil
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove stale lock file: %w", err)
	}
	return true, nil
}

// Release removes the lock record, but only if it still names expectedPID as
// owner. The guard keeps a slow controller from deleting a newer worker's
// lock after a rapid stop/start cycle reused the path.
func Release(path string, expectedPID int) error {
	entry, err := Inspect(path)
	if err != nil {
		return err
	}
	if entry.OwnerPID != expectedPID {
		return fmt.Errorf("%w: lock owned by pid %d, expected %d", ErrNotOwner, entry.OwnerPID, expectedPID)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// ForceRemove deletes the lock record unconditionally. Only the stop
// controller uses this, after it has forcefully terminated the owner.
func ForceRemove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
