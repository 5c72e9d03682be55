package services

import (
	"context"
	"errors"
	"testing"

	"github.com/unit-linkage/app/models"
)

func TestRunLockReentrant(t *testing.T) {
	tests := []struct {
		name    string
		holder  string
		expired bool
		taskID  string
		want    bool
	}{
		{"stale lock of the task being resumed", "task-a", false, "task-a", true},
		{"held by another task", "task-b", false, "task-a", false},
		{"expired between setnx and get", "", true, "task-a", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runLockReentrant(tt.holder, tt.expired, tt.taskID); got != tt.want {
				t.Errorf("runLockReentrant(%q, %v, %q) = %v, want %v",
					tt.holder, tt.expired, tt.taskID, got, tt.want)
			}
		})
	}
}

// A nil cache stands for "Redis disabled": every method degrades instead of
// panicking, and the lock is always granted.
func TestNilProgressCache(t *testing.T) {
	var pc *TaskProgressCache
	ctx := context.Background()

	if !pc.AcquireRunLock(ctx, "task-a") {
		t.Error("nil cache must grant the run lock")
	}
	pc.ReleaseRunLock(ctx, "task-a")
	pc.SaveTask(ctx, &models.MatchTask{TaskID: "task-a"})
	if _, err := pc.LoadTask(ctx, "task-a"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("LoadTask on nil cache: %v, want ErrUnknownTask", err)
	}
	if err := pc.Close(); err != nil {
		t.Errorf("Close on nil cache: %v", err)
	}
}
