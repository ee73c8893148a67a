package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exam-orchestrator/internal/config"
	"github.com/stemsi/exam-orchestrator/internal/model"
)

// RedisViolationQueue pushes audit events onto the list drained by
// worker.ViolationLogWorker.
type RedisViolationQueue struct {
	rdb *redis.Client
}

// NewRedisViolationQueue creates a new RedisViolationQueue.
func NewRedisViolationQueue(rdb *redis.Client) *RedisViolationQueue {
	return &RedisViolationQueue{rdb: rdb}
}

// Enqueue appends ev to the persist queue.
func (q *RedisViolationQueue) Enqueue(ctx context.Context, ev model.ViolationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, config.CacheKey.ViolationQueueKey(), data).Err()
}
