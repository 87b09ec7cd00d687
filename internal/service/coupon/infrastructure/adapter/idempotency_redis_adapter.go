// internal/service/coupon/infrastructure/adapter/idempotency_redis_adapter.go
package adapter

import (
	"context"
	"fmt"
	"time"

	"couponhub/internal/pkg/redis"
)

// IdempotencyRedisAdapter 是 port.IdempotencyGuard 的 Redis 实现。
// SET NX + TTL 一条命令就是原子的"不存在才写入"。
type IdempotencyRedisAdapter struct {
	redisClient *redis.Client
}

func NewIdempotencyRedisAdapter(redisClient *redis.Client) *IdempotencyRedisAdapter {
	return &IdempotencyRedisAdapter{redisClient: redisClient}
}

// TryAcquire 原子地设置标记。返回 true 表示本次调用是写入者，
// 即对应的副作用应当由本次调用执行。
func (a *IdempotencyRedisAdapter) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := a.redisClient.GetClient().SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency guard failed on %s: %w", key, err)
	}
	return ok, nil
}

// Release 删除标记。副作用执行失败后调用，让重投递有机会重试。
func (a *IdempotencyRedisAdapter) Release(ctx context.Context, key string) error {
	if err := a.redisClient.GetClient().Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("idempotency guard release failed on %s: %w", key, err)
	}
	return nil
}
