package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	readyKey   = "tasks:ready"
	delayedKey = "tasks:delayed"

	popTimeout = 5 * time.Second
)

// ErrEmpty is returned by Dequeue when no task arrived within the poll
// timeout.
var ErrEmpty = errors.New("queue: empty")

type Task struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// RedisQueue keeps ready tasks in a list and delayed tasks in a sorted set
// scored by their due time. Tasks survive process restarts; a popped task
// that fails its handler is re-scheduled with backoff, so delivery is
// at-least-once.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, kind string, payload any) error {
	task, err := newTask(kind, payload)
	if err != nil {
		return err
	}
	return q.push(ctx, task)
}

func (q *RedisQueue) EnqueueIn(ctx context.Context, delay time.Duration, kind string, payload any) error {
	task, err := newTask(kind, payload)
	if err != nil {
		return err
	}
	return q.schedule(ctx, task, time.Now().Add(delay))
}

// Dequeue blocks for up to popTimeout waiting for a ready task.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	result, err := q.client.BRPop(ctx, popTimeout, readyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("failed to pop task: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("invalid queue result")
	}

	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// Retry puts a failed task back with an incremented attempt counter, due
// after the given backoff.
func (q *RedisQueue) Retry(ctx context.Context, task *Task, backoff time.Duration) error {
	task.Attempts++
	return q.schedule(ctx, task, time.Now().Add(backoff))
}

// PromoteDue moves delayed tasks whose due time has passed onto the ready
// list. Called periodically by the worker.
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time) error {
	members, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to query delayed tasks: %w", err)
	}

	for _, member := range members {
		// ZRem first: only the worker that wins the removal promotes the
		// task, so a due task is moved exactly once.
		removed, err := q.client.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return fmt.Errorf("failed to remove delayed task: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, readyKey, member).Err(); err != nil {
			return fmt.Errorf("failed to promote task: %w", err)
		}
	}
	return nil
}

func newTask(kind string, payload any) (*Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Task{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: data,
	}, nil
}

func (q *RedisQueue) push(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, readyKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (q *RedisQueue) schedule(ctx context.Context, task *Task, due time.Time) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	err = q.client.ZAdd(ctx, delayedKey, redis.Z{
		Score:  float64(due.Unix()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule task: %w", err)
	}
	return nil
}
