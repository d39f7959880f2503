package session

import (
	"time"

	"vidconvert/internal/task"
)

// Status is the lifecycle state of a whole session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// State is the persisted representation of one batch run. Task
// membership across the four collections is disjoint: every task lives
// in exactly one of them at any time.
type State struct {
	SessionID  string            `json:"session_id"`
	Status     Status            `json:"status"`
	Pending    []*task.VideoTask `json:"pending"`
	InProgress []*task.VideoTask `json:"in_progress"`
	Completed  []*task.VideoTask `json:"completed"`
	Failed     []*task.VideoTask `json:"failed"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	TotalCount int               `json:"total_count"`
}

// Counts summarizes collection sizes for logging and the status server.
type Counts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

func (s *State) counts() Counts {
	return Counts{
		Pending:    len(s.Pending),
		InProgress: len(s.InProgress),
		Completed:  len(s.Completed),
		Failed:     len(s.Failed),
		Total:      s.TotalCount,
	}
}

// removeTask deletes the task with the given id from a collection,
// returning the shrunk slice and whether it was found.
func removeTask(list []*task.VideoTask, id string) ([]*task.VideoTask, *task.VideoTask, bool) {
	for i, t := range list {
		if t.ID == id {
			return append(list[:i], list[i+1:]...), t, true
		}
	}
	return list, nil, false
}
