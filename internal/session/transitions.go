package session

import (
	"fmt"

	"vidconvert/internal/task"
)

// Claim atomically removes the next pending task and adds it to the
// in-progress collection, persisting the move before the task is
// returned. This single step under the manager lock is what guarantees
// no two workers ever hold the same task. Returns nil when the pending
// queue is empty.
//
// If the persistence write fails, the in-memory move is rolled back and
// the error returned; the task stays pending.
func (m *Manager) Claim() (*task.VideoTask, error) {
	m.lock()
	defer m.unlock()

	if m.state == nil || len(m.state.Pending) == 0 {
		return nil, nil
	}

	t := m.state.Pending[0]
	m.state.Pending = m.state.Pending[1:]
	m.state.InProgress = append(m.state.InProgress, t)

	if err := m.saveLocked(); err != nil {
		m.state.InProgress = m.state.InProgress[:len(m.state.InProgress)-1]
		m.state.Pending = append([]*task.VideoTask{t}, m.state.Pending...)
		return nil, fmt.Errorf("claim task %s: %w", t.ID, err)
	}
	return t, nil
}

// Update persists an intermediate change to an in-progress task (stage
// transition or progress bump) without moving it between collections.
func (m *Manager) Update(t *task.VideoTask) error {
	m.lock()
	defer m.unlock()
	if m.state == nil {
		return nil
	}
	return m.saveLocked()
}

// CompleteTask moves an in-progress task to completed. On a failed
// save, the move is rolled back and the task requeued so a later
// attempt can commit it.
func (m *Manager) CompleteTask(t *task.VideoTask) error {
	return m.finish(t, task.StatusCompleted, func(st *State, done *task.VideoTask) {
		st.Completed = append(st.Completed, done)
	})
}

// FailTask moves an in-progress task to failed.
func (m *Manager) FailTask(t *task.VideoTask) error {
	return m.finish(t, task.StatusFailed, func(st *State, done *task.VideoTask) {
		st.Failed = append(st.Failed, done)
	})
}

// SkipTask moves an in-progress task to completed with skipped status;
// skipped tasks count as settled, not failed.
func (m *Manager) SkipTask(t *task.VideoTask) error {
	return m.finish(t, task.StatusSkipped, func(st *State, done *task.VideoTask) {
		st.Completed = append(st.Completed, done)
	})
}

func (m *Manager) finish(t *task.VideoTask, status task.Status, place func(*State, *task.VideoTask)) error {
	m.lock()
	defer m.unlock()
	if m.state == nil {
		return fmt.Errorf("no session")
	}

	shrunk, found, ok := removeTask(m.state.InProgress, t.ID)
	if !ok {
		return fmt.Errorf("task %s is not in progress", t.ID)
	}
	m.state.InProgress = shrunk
	found.Status = status
	place(m.state, found)

	if err := m.saveLocked(); err != nil {
		// Roll back: strip from the destination and requeue. The batch
		// carries on; the task gets another attempt later.
		m.state.Completed, _, _ = removeTask(m.state.Completed, t.ID)
		m.state.Failed, _, _ = removeTask(m.state.Failed, t.ID)
		found.Status = task.StatusQueued
		m.state.Pending = append(m.state.Pending, found)
		return fmt.Errorf("commit task %s: %w", t.ID, err)
	}
	return nil
}

// Requeue returns a cancelled in-progress task to the front of the
// pending queue so a future resume retries it cleanly.
func (m *Manager) Requeue(t *task.VideoTask) error {
	m.lock()
	defer m.unlock()
	if m.state == nil {
		return fmt.Errorf("no session")
	}

	shrunk, found, ok := removeTask(m.state.InProgress, t.ID)
	if !ok {
		return fmt.Errorf("task %s is not in progress", t.ID)
	}
	m.state.InProgress = shrunk
	found.Status = task.StatusQueued
	found.Progress = 0
	m.state.Pending = append([]*task.VideoTask{found}, m.state.Pending...)
	return m.saveLocked()
}

// Pause marks the session paused. Paused sessions are resumable.
func (m *Manager) Pause() error {
	return m.setStatus(StatusPaused, StatusActive)
}

// Resume reactivates a paused session.
func (m *Manager) Resume() error {
	return m.setStatus(StatusActive, StatusPaused)
}

// Complete marks the session completed. Rejected while tasks are still
// pending or in progress.
func (m *Manager) Complete() error {
	m.lock()
	defer m.unlock()
	if m.state == nil {
		return fmt.Errorf("no session")
	}
	if len(m.state.Pending) > 0 || len(m.state.InProgress) > 0 {
		return fmt.Errorf("%w: %d pending, %d in progress",
			ErrSessionNotDrained, len(m.state.Pending), len(m.state.InProgress))
	}
	m.state.Status = StatusCompleted
	return m.saveLocked()
}

// MarkFailed marks the whole session failed (every item failed).
func (m *Manager) MarkFailed() error {
	m.lock()
	defer m.unlock()
	if m.state == nil {
		return fmt.Errorf("no session")
	}
	m.state.Status = StatusFailed
	return m.saveLocked()
}

func (m *Manager) setStatus(to, expect Status) error {
	m.lock()
	defer m.unlock()
	if m.state == nil {
		return fmt.Errorf("no session")
	}
	if m.state.Status != expect {
		return fmt.Errorf("cannot move session from %s to %s", m.state.Status, to)
	}
	m.state.Status = to
	return m.saveLocked()
}

// Counts returns the current collection sizes.
func (m *Manager) Counts() Counts {
	m.lock()
	defer m.unlock()
	if m.state == nil {
		return Counts{}
	}
	return m.state.counts()
}

// Snapshot returns a deep copy of the session for read-only inspection
// (the status server and final reporting).
func (m *Manager) Snapshot() *State {
	m.lock()
	defer m.unlock()
	if m.state == nil {
		return nil
	}

	cp := *m.state
	cp.Pending = copyTasks(m.state.Pending)
	cp.InProgress = copyTasks(m.state.InProgress)
	cp.Completed = copyTasks(m.state.Completed)
	cp.Failed = copyTasks(m.state.Failed)
	return &cp
}

func copyTasks(in []*task.VideoTask) []*task.VideoTask {
	out := make([]*task.VideoTask, len(in))
	for i, t := range in {
		c := *t
		if t.LastError != nil {
			e := *t.LastError
			c.LastError = &e
		}
		out[i] = &c
	}
	return out
}
