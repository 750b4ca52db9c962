package taskstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound indicates no state is recorded for the task handle.
var ErrNotFound = errors.New("unknown task")

// State is the lifecycle position of a queued transcription task.
type State string

const (
	StatePending      State = "pending"
	StateInitializing State = "initializing"
	StateTranscribing State = "transcribing"
	StateSuccess      State = "success"
	StateFailure      State = "failure"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

// Active reports whether a task in this state still occupies a worker or
// the queue.
func (s State) Active() bool {
	return s == StatePending || s == StateInitializing || s == StateTranscribing
}

// Status is the pollable snapshot of one task.
type Status struct {
	TaskID       string `json:"task_id"`
	TranscriptID int64  `json:"transcript_id"`
	State        State  `json:"state"`
	Progress     int    `json:"progress"`
	Error        string `json:"error,omitempty"`
}

// Store keeps task status snapshots in Redis so the API can poll progress
// written by the worker process. Entries expire after ttl.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a Store over the given Redis client. A zero ttl defaults
// to 24 hours.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

func key(taskID string) string {
	return "taskstate:" + taskID
}

// Set overwrites the task's status snapshot.
func (s *Store) Set(ctx context.Context, status Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal task status: %w", err)
	}
	if err := s.client.Set(ctx, key(status.TaskID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set task status %s: %w", status.TaskID, err)
	}
	return nil
}

// Get returns the task's latest status, or ErrNotFound when the handle is
// unknown or has expired.
func (s *Store) Get(ctx context.Context, taskID string) (Status, error) {
	val, err := s.client.Get(ctx, key(taskID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Status{}, fmt.Errorf("%w: %s", ErrNotFound, taskID)
		}
		return Status{}, fmt.Errorf("get task status %s: %w", taskID, err)
	}

	var status Status
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return Status{}, fmt.Errorf("unmarshal task status %s: %w", taskID, err)
	}
	return status, nil
}
