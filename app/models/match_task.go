package models

import (
	"time"
)

// TaskMode enum cho các chế độ chạy task
type TaskMode string

const (
	ModeIncremental TaskMode = "incremental" // only primaries with no result yet
	ModeUpdate      TaskMode = "update"      // all primaries, overwrite by primary_id
	ModeFull        TaskMode = "full"        // clear_all() then all primaries
)

// IsValidTaskMode kiểm tra mode có hợp lệ không
func IsValidTaskMode(m TaskMode) bool {
	switch m {
	case ModeIncremental, ModeUpdate, ModeFull:
		return true
	}
	return false
}

// Task status constants. stopped is reachable only via explicit cancel.
const (
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusError     = "error"
	TaskStatusStopped   = "stopped"
)

// TaskCounters bộ đếm tiến độ của một task. processed == matched + skipped + errored.
type TaskCounters struct {
	Total     int64 `bson:"total" json:"total"`
	Processed int64 `bson:"processed" json:"processed"`
	Matched   int64 `bson:"matched" json:"matched"`
	Updated   int64 `bson:"updated" json:"updated"`
	Skipped   int64 `bson:"skipped" json:"skipped"`
	Errored   int64 `bson:"errored" json:"errored"`
}

// MatchTask trạng thái của một matching task.
// Mutated only under the owning service's lock.
type MatchTask struct {
	TaskID string   `bson:"task_id" json:"task_id"`
	Mode   TaskMode `bson:"mode" json:"mode"`
	// MatchStrategies restricts which matcher layers run; empty means all.
	MatchStrategies []MatchType `bson:"match_strategies,omitempty" json:"match_strategies,omitempty"`
	// ClearExisting wipes prior results before the run even outside full mode.
	ClearExisting bool       `bson:"clear_existing,omitempty" json:"clear_existing,omitempty"`
	Status        string     `bson:"status" json:"status"`
	StartedAt     time.Time  `bson:"started_at" json:"started_at"`
	FinishedAt    *time.Time `bson:"finished_at,omitempty" json:"finished_at,omitempty"`

	Counters TaskCounters `bson:"counters" json:"counters"`

	CurrentBatchIndex      int    `bson:"current_batch_index" json:"current_batch_index"`
	LastProcessedPrimaryID string `bson:"last_processed_primary_id" json:"last_processed_primary_id"`

	ErrorMessage string `bson:"error_message,omitempty" json:"error_message,omitempty"`
}

// TaskProgress snapshot trả về cho progress(task_id).
type TaskProgress struct {
	TaskID                    string  `json:"task_id"`
	Status                    string  `json:"status"`
	ProgressPercent           float64 `json:"progress_percent"`
	Total                     int64   `json:"total"`
	Processed                 int64   `json:"processed"`
	Matched                   int64   `json:"matched"`
	Errored                   int64   `json:"errored"`
	MatchRate                 float64 `json:"match_rate"`
	ElapsedSeconds            float64 `json:"elapsed_seconds"`
	EstimatedRemainingSeconds float64 `json:"estimated_remaining_seconds"`
}

// IsTerminal báo cáo task đã kết thúc chưa.
func (t *MatchTask) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusError, TaskStatusStopped:
		return true
	}
	return false
}
