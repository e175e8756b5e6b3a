package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrContended is returned when another live run already holds the lock.
var ErrContended = errors.New("another sync run is already active")

// Guard serializes engine runs. The probing strategy is behind this interface
// so single-host file locking and multi-host redis leases are swappable.
type Guard interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// marker is the JSON payload written into the lock file.
type marker struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// FileGuard is a file-based advisory lock with PID liveness detection: a
// marker left behind by a dead process is treated as stale and removed.
type FileGuard struct {
	path string
}

// NewFileGuard creates a guard backed by a marker file at path.
func NewFileGuard(path string) *FileGuard {
	return &FileGuard{path: path}
}

// Acquire creates the marker file exclusively. If a marker already exists and
// its recorded process is alive, acquisition fails with ErrContended; a dead
// holder's marker is removed and acquisition retried once.
func (g *FileGuard) Acquire(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := os.OpenFile(g.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			enc := json.NewEncoder(f)
			writeErr := enc.Encode(marker{PID: os.Getpid(), StartedAt: time.Now().UTC()})
			closeErr := f.Close()
			if writeErr != nil || closeErr != nil {
				_ = os.Remove(g.path)
				return fmt.Errorf("write lock marker: %w", errors.Join(writeErr, closeErr))
			}
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock marker: %w", err)
		}

		holder, readErr := readMarker(g.path)
		if readErr == nil && processAlive(holder.PID) {
			return fmt.Errorf("%w (pid %d since %s)", ErrContended, holder.PID, holder.StartedAt.Format(time.RFC3339))
		}

		// Unreadable marker or dead holder: remove and retry.
		log.Warn().Str("path", g.path).Int("pid", holder.PID).Msg("removing stale lock marker")
		if err := os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale lock marker: %w", err)
		}
	}
	return ErrContended
}

// Release removes the marker. A missing marker is not an error.
func (g *FileGuard) Release(context.Context) error {
	if err := os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock marker: %w", err)
	}
	return nil
}

func readMarker(path string) (marker, error) {
	var m marker
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, err
	}
	if m.PID <= 0 {
		return m, errors.New("lock marker has no pid")
	}
	return m, nil
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
