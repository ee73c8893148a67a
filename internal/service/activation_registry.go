package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exam-orchestrator/internal/config"
)

// RedisRegistry keeps pending activation and expiry fire times in two sorted
// sets scored by unix time. Claiming a due member is a ZREM, so concurrent
// workers never fire the same entry twice.
type RedisRegistry struct {
	rdb *redis.Client
}

// NewRedisRegistry creates a new RedisRegistry.
func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

// ScheduleActivation registers id to be activated at at.
func (r *RedisRegistry) ScheduleActivation(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.rdb.ZAdd(ctx, config.CacheKey.ActivationDueKey(), redis.Z{
		Score:  float64(at.Unix()),
		Member: id.String(),
	}).Err()
}

// ScheduleExpiry registers id to be expired at at.
func (r *RedisRegistry) ScheduleExpiry(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.rdb.ZAdd(ctx, config.CacheKey.ExpiryDueKey(), redis.Z{
		Score:  float64(at.Unix()),
		Member: id.String(),
	}).Err()
}

// Remove drops every pending fire time of id.
func (r *RedisRegistry) Remove(ctx context.Context, id uuid.UUID) error {
	pipe := r.rdb.TxPipeline()
	pipe.ZRem(ctx, config.CacheKey.ActivationDueKey(), id.String())
	pipe.ZRem(ctx, config.CacheKey.ExpiryDueKey(), id.String())
	_, err := pipe.Exec(ctx)
	return err
}

// DueActivations claims every activation due at now.
func (r *RedisRegistry) DueActivations(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return r.claimDue(ctx, config.CacheKey.ActivationDueKey(), now)
}

// DueExpiries claims every expiry due at now.
func (r *RedisRegistry) DueExpiries(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return r.claimDue(ctx, config.CacheKey.ExpiryDueKey(), now)
}

func (r *RedisRegistry) claimDue(ctx context.Context, key string, now time.Time) ([]uuid.UUID, error) {
	members, err := r.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", key, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.ZRem(ctx, key, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("claim %s: %w", key, err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for i, m := range members {
		if cmds[i].Val() != 1 {
			continue // claimed by another worker
		}
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
