// internal/pkg/lock/redis_lock.go
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"couponhub/internal/pkg/redis"
)

const (
	lockKeyPrefix = "lock:"

	// 释放脚本：只有持有者本人（token 匹配）才允许删除，
	// 防止租约过期后误删别人刚拿到的锁。
	releaseScriptName = "lock_release"
	releaseScript     = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`
)

// RedisMutex 基于 SET NX PX 实现 Mutex 端口。
// 锁值是每次获取时生成的随机 token，租约到期由 Redis 的 TTL 保证。
type RedisMutex struct {
	client       *redis.Client
	retryBackoff time.Duration
}

// NewRedisMutex 创建 Redis 互斥锁后端。
func NewRedisMutex(client *redis.Client) (*RedisMutex, error) {
	if err := client.LoadScriptFromContent(releaseScriptName, releaseScript); err != nil {
		return nil, fmt.Errorf("failed to load lock release script: %w", err)
	}
	return &RedisMutex{
		client:       client,
		retryBackoff: 50 * time.Millisecond,
	}, nil
}

// Acquire 在 waitTime 内带递增退避地重试抢锁。
func (m *RedisMutex) Acquire(ctx context.Context, key string, waitTime, leaseTime time.Duration) (Handle, error) {
	fullKey := lockKeyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(waitTime)

	for attempt := 0; ; attempt++ {
		ok, err := m.client.GetClient().SetNX(ctx, fullKey, token, leaseTime).Result()
		if err != nil {
			return nil, fmt.Errorf("lock acquire failed on %s: %w", fullKey, err)
		}
		if ok {
			return &redisHandle{mutex: m, key: fullKey, token: token}, nil
		}

		delay := backoffDelay(m.retryBackoff, attempt)
		if time.Now().Add(delay).After(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type redisHandle struct {
	mutex *RedisMutex
	key   string
	token string
}

func (h *redisHandle) Release(ctx context.Context) error {
	_, err := h.mutex.client.RunScript(ctx, releaseScriptName, []string{h.key}, h.token)
	if err != nil {
		return fmt.Errorf("lock release failed on %s: %w", h.key, err)
	}
	return nil
}
