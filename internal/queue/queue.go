// Package queue provides the FIFO work queue workers pull segment claims
// from: an in-process channel for single-process deployments, or a Redis
// list for multi-worker deployments.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Item is one unit of queued work: a segment waiting for a free worker.
type Item struct {
	JobID     string `json:"job_id"`
	SegmentID string `json:"segment_id"`
}

// Queue is the shared interface both backends implement.
type Queue interface {
	Push(ctx context.Context, item Item) error
	Pop(ctx context.Context, timeout time.Duration) (Item, bool, error)
	Len(ctx context.Context) (int, error)
}

// LocalQueue is an in-memory FIFO backed by a buffered channel, used when
// role=all runs without Redis.
type LocalQueue struct {
	ch chan Item
}

func NewLocalQueue(capacity int) *LocalQueue {
	if capacity <= 0 {
		capacity = 4096
	}
	return &LocalQueue{ch: make(chan Item, capacity)}
}

func (q *LocalQueue) Push(ctx context.Context, item Item) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *LocalQueue) Pop(ctx context.Context, timeout time.Duration) (Item, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case item := <-q.ch:
		return item, true, nil
	case <-timer.C:
		return Item{}, false, nil
	case <-ctx.Done():
		return Item{}, false, ctx.Err()
	}
}

func (q *LocalQueue) Len(ctx context.Context) (int, error) {
	return len(q.ch), nil
}

// RedisQueue is a Redis list FIFO: RPUSH to enqueue, BLPOP to block-wait
// for the next item, used when multiple worker processes share one job
// store.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "px:queue"
	}
	return &RedisQueue{rdb: rdb, key: key}
}

func (q *RedisQueue) Push(ctx context.Context, item Item) error {
	data, err := encodeItem(item)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (Item, bool, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("queue: blpop: %w", err)
	}
	// BLPop returns [key, value].
	item, err := decodeItem(res[1])
	if err != nil {
		return Item{}, false, err
	}
	return item, true, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	return int(n), err
}

func encodeItem(item Item) (string, error) {
	return item.JobID + "|" + item.SegmentID, nil
}

func decodeItem(s string) (Item, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			return Item{JobID: s[:i], SegmentID: s[i+1:]}, nil
		}
	}
	return Item{}, fmt.Errorf("queue: malformed item %q", s)
}
