package download

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"talaria/internal/layout"
	"talaria/internal/logging"
)

const (
	stateFileName = "state.json"
	lockFileName  = "lock"
)

// Workspace owns the on-disk directory for one download: state.json, the
// advisory lock file, and the in-flight artifact. Ownership is asserted
// by holding an exclusive, non-blocking flock on lock; a dead owner's
// lock is released by the kernel when its process exits, so a fresh
// Open naturally succeeds once the previous owner is gone.
type Workspace struct {
	dir      layout.Dir
	id       string
	lockFile *os.File
	logger   *slog.Logger
}

// OpenWorkspace creates (if absent) and locks the workspace directory for
// workspaceID under dir. Returns ErrWorkspaceLocked if another live
// process already owns it.
func OpenWorkspace(dir layout.Dir, workspaceID string, logger *slog.Logger) (*Workspace, error) {
	path := dir.WorkspaceDir(workspaceID)
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("download: create workspace %s: %w", path, err)
	}

	lockPath := filepath.Join(path, lockFileName)
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("download: open lock file: %w", err)
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = lockFile.Close()
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceLocked, path)
	}

	return &Workspace{
		dir:      dir,
		id:       workspaceID,
		lockFile: lockFile,
		logger:   logging.Default(logger).With("component", "download", "workspace_id", workspaceID),
	}, nil
}

// Close releases the workspace's advisory lock. It does not delete any
// files; callers decide retention via PreserveOnFailure.
func (w *Workspace) Close() error {
	return w.lockFile.Close()
}

// Dir returns the workspace's directory on disk.
func (w *Workspace) Dir() string { return w.dir.WorkspaceDir(w.id) }

// StatePath returns the path to this workspace's state.json.
func (w *Workspace) StatePath() string { return filepath.Join(w.Dir(), stateFileName) }

// ArtifactPath returns the path to the in-flight downloaded artifact.
func (w *Workspace) ArtifactPath() string { return filepath.Join(w.Dir(), "artifact.tmp") }

// DecompressedPath returns the path a decompressed artifact is written
// to, when the Decompressing stage does not pass through.
func (w *Workspace) DecompressedPath() string { return filepath.Join(w.Dir(), "artifact.decompressed") }

// SaveState rewrites state.json atomically (write-then-rename).
func (w *Workspace) SaveState(s StateFile) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("download: encode state: %w", err)
	}
	return writeFileAtomic(w.StatePath(), data, 0o640)
}

// LoadState reads the workspace's state.json.
func (w *Workspace) LoadState() (StateFile, error) {
	data, err := os.ReadFile(w.StatePath())
	if err != nil {
		return StateFile{}, fmt.Errorf("download: read state: %w", err)
	}
	var s StateFile
	if err := json.Unmarshal(data, &s); err != nil {
		return StateFile{}, fmt.Errorf("download: decode state: %w", err)
	}
	return s, nil
}

// VerifyOnDisk checks that every file state.json's tracking references
// matches its recorded size, as required before resuming into the same
// state. A missing file is tolerated when its recorded size is zero
// (nothing was written yet); any other mismatch is ErrStaleState.
func (w *Workspace) VerifyOnDisk(s StateFile) error {
	if s.Tracking.ArtifactPath != "" {
		if err := checkSize(s.Tracking.ArtifactPath, s.BytesDone); err != nil {
			return err
		}
	}
	return nil
}

func checkSize(path string, want uint64) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) && want == 0 {
			return nil
		}
		return fmt.Errorf("%w: stat %s: %v", ErrStaleState, path, err)
	}
	if uint64(info.Size()) != want {
		return fmt.Errorf("%w: %s is %d bytes, state.json records %d", ErrStaleState, path, info.Size(), want)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// processAlive reports whether pid refers to a currently running
// process. Used to decide whether an unlocked workspace's recorded PID
// still owns it or whether a stale record may be taken over; the flock
// itself is the authoritative ownership check, since the kernel releases
// it when the owning process exits regardless of what state.json says.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
