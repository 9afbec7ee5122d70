package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptRepository 在 Redis 中记录异步入库任务的失败次数。
type AttemptRepository interface {
	Incr(ctx context.Context, taskKey string) (int64, error)
	Reset(ctx context.Context, taskKey string) error
}

type attemptRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewAttemptRepository 创建一个新的 AttemptRepository 实例，计数在 ttl 后过期。
func NewAttemptRepository(redisClient *redis.Client, ttl time.Duration) AttemptRepository {
	return &attemptRepository{redisClient: redisClient, ttl: ttl}
}

func attemptKey(taskKey string) string {
	return fmt.Sprintf("ingest:attempts:%s", taskKey)
}

func (r *attemptRepository) Incr(ctx context.Context, taskKey string) (int64, error) {
	key := attemptKey(taskKey)
	pipe := r.redisClient.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *attemptRepository) Reset(ctx context.Context, taskKey string) error {
	return r.redisClient.Del(ctx, attemptKey(taskKey)).Err()
}
