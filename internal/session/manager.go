package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"vidconvert/internal/logging"
	"vidconvert/internal/metrics"
	"vidconvert/internal/task"
)

var (
	// ErrDuplicateSession is returned by Create when an active session
	// already exists for the working directory.
	ErrDuplicateSession = errors.New("an active session already exists")
	// ErrSessionLocked is returned when another process holds the
	// session lock.
	ErrSessionLocked = errors.New("session directory is locked by another run")
	// ErrNoResumableSession is returned by LoadResumable when no
	// active or paused session is on disk.
	ErrNoResumableSession = errors.New("no resumable session found")
	// ErrSessionNotDrained is returned by Complete while pending or
	// in-progress tasks remain.
	ErrSessionNotDrained = errors.New("session still has unfinished tasks")
)

const lockFileName = "current.lock"

// Manager persists one session to a directory. All mutating methods
// serialize through a single mutex so concurrent workers never observe
// a task in two collections, and saves never interleave.
type Manager struct {
	dir string

	mu    chan struct{} // capacity-1 semaphore; also guards state
	state *State
	path  string
}

// NewManager creates a manager over the given sessions directory,
// creating it if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	m := &Manager{dir: dir, mu: make(chan struct{}, 1)}
	return m, nil
}

func (m *Manager) lock()   { m.mu <- struct{}{} }
func (m *Manager) unlock() { <-m.mu }

// Create starts a new session from the given tasks. It fails with
// ErrDuplicateSession when an active or paused session file exists, and
// with ErrSessionLocked when another process holds the lock.
func (m *Manager) Create(tasks []*task.VideoTask) (*State, error) {
	m.lock()
	defer m.unlock()

	if existing, err := m.findResumable(); err != nil {
		return nil, err
	} else if existing != "" {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, existing)
	}
	if err := m.acquireLock(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	st := &State{
		SessionID:  uuid.Must(uuid.NewV7()).String(),
		Status:     StatusActive,
		Pending:    []*task.VideoTask{},
		InProgress: []*task.VideoTask{},
		Completed:  []*task.VideoTask{},
		Failed:     []*task.VideoTask{},
		CreatedAt:  now,
		UpdatedAt:  now,
		TotalCount: len(tasks),
	}
	// Tasks already marked skipped (dedup, already in target codec) are
	// settled up front; everything else queues.
	for _, t := range tasks {
		if t.Status == task.StatusSkipped {
			st.Completed = append(st.Completed, t)
			continue
		}
		t.Status = task.StatusQueued
		st.Pending = append(st.Pending, t)
	}

	m.state = st
	m.path = filepath.Join(m.dir, "session-"+st.SessionID+".json")
	if err := m.saveLocked(); err != nil {
		m.state = nil
		m.releaseLock()
		return nil, err
	}

	logging.Info("Created session %s with %d tasks", st.SessionID, len(tasks))
	return st, nil
}

// LoadResumable loads the most recently updated Active or Paused
// session. Tasks that were in progress when the previous run died are
// demoted back to pending, since their work never committed.
func (m *Manager) LoadResumable() (*State, error) {
	m.lock()
	defer m.unlock()

	path, err := m.findResumable()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, ErrNoResumableSession
	}
	if err := m.acquireLock(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		m.releaseLock()
		return nil, fmt.Errorf("read session %s: %w", path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		m.releaseLock()
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}

	// Interrupted work is requeued at the front so the resumed run picks
	// it up first.
	if n := len(st.InProgress); n > 0 {
		logging.Info("Requeuing %d interrupted tasks", n)
		for _, t := range st.InProgress {
			t.Status = task.StatusQueued
			t.Progress = 0
		}
		st.Pending = append(append([]*task.VideoTask{}, st.InProgress...), st.Pending...)
		st.InProgress = []*task.VideoTask{}
	}
	st.Status = StatusActive

	m.state = &st
	m.path = path
	if err := m.saveLocked(); err != nil {
		m.state = nil
		m.releaseLock()
		return nil, err
	}

	logging.Info("Resumed session %s: %d pending, %d completed, %d failed",
		st.SessionID, len(st.Pending), len(st.Completed), len(st.Failed))
	return &st, nil
}

// findResumable returns the path of the newest active/paused session
// file, or "" when none exists.
func (m *Manager) findResumable() (string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return "", fmt.Errorf("scan sessions dir: %w", err)
	}

	type candidate struct {
		path    string
		updated time.Time
	}
	var found []candidate

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "session-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(m.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logging.Warn("Skipping unreadable session file %s: %v", name, err)
			continue
		}
		var st State
		if err := json.Unmarshal(data, &st); err != nil {
			logging.Warn("Skipping corrupt session file %s: %v", name, err)
			continue
		}
		if st.Status == StatusActive || st.Status == StatusPaused {
			found = append(found, candidate{path: path, updated: st.UpdatedAt})
		}
	}

	if len(found) == 0 {
		return "", nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].updated.After(found[j].updated) })
	return found[0].path, nil
}

// acquireLock takes the per-directory lock file. The file records the
// holder's pid for diagnostics.
func (m *Manager) acquireLock() error {
	path := filepath.Join(m.dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			holder, _ := os.ReadFile(path)
			return fmt.Errorf("%w (held by pid %s)", ErrSessionLocked, strings.TrimSpace(string(holder)))
		}
		return fmt.Errorf("acquire session lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f.Close()
}

func (m *Manager) releaseLock() {
	if err := os.Remove(filepath.Join(m.dir, lockFileName)); err != nil && !os.IsNotExist(err) {
		logging.Warn("Could not release session lock: %v", err)
	}
}

// Close releases the session lock. Call once the run is finished.
func (m *Manager) Close() {
	m.lock()
	defer m.unlock()
	if m.state != nil {
		m.releaseLock()
		m.state = nil
	}
}

// saveLocked writes the session document atomically: marshal, write to
// a temp file in the same directory, fsync, rename over the target.
// Callers must hold the manager lock.
func (m *Manager) saveLocked() error {
	start := time.Now()
	m.state.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		metrics.SessionSavesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal session: %w", err)
	}

	tmp := m.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		metrics.SessionSavesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("create temp session file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		metrics.SessionSavesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("write session: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		metrics.SessionSavesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("sync session: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		metrics.SessionSavesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		metrics.SessionSavesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("commit session: %w", err)
	}

	metrics.SessionSavesTotal.WithLabelValues("success").Inc()
	metrics.SessionSaveDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Path returns the session file path for inspection tooling.
func (m *Manager) Path() string {
	m.lock()
	defer m.unlock()
	return m.path
}
