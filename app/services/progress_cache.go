package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unit-linkage/app/models"
)

// TaskProgressCache mirrors task state into Redis so operators and sibling
// processes can see a running task, and so a restarted process can resume
// from last_processed_primary_id. Redis is a mirror, not the source of truth:
// every write failure degrades to a warning.
type TaskProgressCache struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
	ttl    time.Duration
}

const runLockKey = "task:running"

// runLockTTL bounds how long a crashed process can hold the marker.
const runLockTTL = 24 * time.Hour

// NewTaskProgressCache tạo mới progress cache từ Redis URL.
func NewTaskProgressCache(redisURL string, logger *zap.Logger) (*TaskProgressCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("lỗi parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("không thể kết nối Redis: %w", err)
	}

	return &TaskProgressCache{
		client: client,
		logger: logger,
		prefix: "unit_linkage:",
		ttl:    7 * 24 * time.Hour,
	}, nil
}

// SaveTask lưu snapshot của task vào Redis.
func (pc *TaskProgressCache) SaveTask(ctx context.Context, task *models.MatchTask) {
	if pc == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		pc.logger.Warn("marshal task snapshot failed", zap.Error(err))
		return
	}
	key := pc.prefix + "task:" + task.TaskID
	if err := pc.client.Set(ctx, key, data, pc.ttl).Err(); err != nil {
		pc.logger.Warn("mirror task snapshot failed",
			zap.String("task_id", task.TaskID), zap.Error(err))
	}
}

// LoadTask đọc lại snapshot của một task, ví dụ để resume sau restart.
func (pc *TaskProgressCache) LoadTask(ctx context.Context, taskID string) (*models.MatchTask, error) {
	if pc == nil {
		return nil, ErrUnknownTask
	}
	key := pc.prefix + "task:" + taskID
	val, err := pc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrUnknownTask
	}
	if err != nil {
		return nil, fmt.Errorf("load task snapshot: %w", err)
	}

	var task models.MatchTask
	if err := json.Unmarshal([]byte(val), &task); err != nil {
		return nil, fmt.Errorf("decode task snapshot: %w", err)
	}
	return &task, nil
}

// AcquireRunLock claims the single-runner marker. Returns false when another
// task already holds it. The lock is re-entrant per task id: a crashed run
// leaves its marker behind, and resuming that task must re-enter it instead
// of being refused by its own stale lock.
func (pc *TaskProgressCache) AcquireRunLock(ctx context.Context, taskID string) bool {
	if pc == nil {
		return true
	}
	key := pc.prefix + runLockKey
	ok, err := pc.client.SetNX(ctx, key, taskID, runLockTTL).Result()
	if err != nil {
		// A dead Redis must not block matching; the in-process registry
		// still enforces one task per process.
		pc.logger.Warn("run lock unavailable, continuing", zap.Error(err))
		return true
	}
	if ok {
		return true
	}

	holder, err := pc.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		pc.logger.Warn("read run lock holder failed", zap.Error(err))
		return false
	}
	if !runLockReentrant(holder, err == redis.Nil, taskID) {
		return false
	}
	if err := pc.client.Set(ctx, key, taskID, runLockTTL).Err(); err != nil {
		pc.logger.Warn("refresh run lock failed", zap.Error(err))
	}
	return true
}

// runLockReentrant resolves a failed SetNX: the lock is free when the key
// expired between the two reads, re-entered when the holder is the acquiring
// task itself, and refused for any other holder.
func runLockReentrant(holder string, expired bool, taskID string) bool {
	if expired {
		return true
	}
	return holder == taskID
}

// ReleaseRunLock releases the marker if this task holds it.
func (pc *TaskProgressCache) ReleaseRunLock(ctx context.Context, taskID string) {
	if pc == nil {
		return
	}
	key := pc.prefix + runLockKey
	holder, err := pc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return
	}
	if err != nil {
		pc.logger.Warn("read run lock failed", zap.Error(err))
		return
	}
	if holder == taskID {
		if err := pc.client.Del(ctx, key).Err(); err != nil {
			pc.logger.Warn("release run lock failed", zap.Error(err))
		}
	}
}

// Close đóng kết nối Redis.
func (pc *TaskProgressCache) Close() error {
	if pc == nil {
		return nil
	}
	return pc.client.Close()
}
