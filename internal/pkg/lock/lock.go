// internal/pkg/lock/lock.go
package lock

import (
	"context"
	"errors"
	"time"

	"couponhub/internal/pkg/logger"
)

// ErrNotAcquired 表示在等待时间内没有抢到锁。
// 对定时任务来说这不是故障：跳过本轮，等下一个调度周期即可。
var ErrNotAcquired = errors.New("lock: not acquired within wait time")

// Handle 代表一次成功的持锁。Release 必须在所有退出路径上被调用。
type Handle interface {
	Release(ctx context.Context) error
}

// Mutex 是跨实例互斥锁的出站端口。
//
// waitTime 限定获取锁的总等待时长；leaseTime 限定持有时长，
// 到期后锁自动失效，保证持有者崩溃时系统仍能向前推进。
type Mutex interface {
	Acquire(ctx context.Context, key string, waitTime, leaseTime time.Duration) (Handle, error)
}

// WithLock 在锁的保护下执行 fn，并保证锁在任何退出路径上都被释放，
// 包括 fn panic 的情况。拿不到锁时返回 ErrNotAcquired，不执行 fn。
func WithLock(ctx context.Context, m Mutex, key string, waitTime, leaseTime time.Duration, fn func(ctx context.Context) error) error {
	handle, err := m.Acquire(ctx, key, waitTime, leaseTime)
	if err != nil {
		return err
	}
	defer func() {
		// 释放使用独立的超时上下文：即使业务 ctx 已取消，也要尽力释放
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if releaseErr := handle.Release(releaseCtx); releaseErr != nil {
			logger.Ctx(ctx).Warn().Err(releaseErr).Str("lock.key", key).
				Msg("failed to release lock, lease expiry will reclaim it")
		}
	}()
	return fn(ctx)
}

// backoffDelay 计算第 attempt 次（从 0 开始）重试前的递增退避时长。
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base * time.Duration(attempt+1)
	const maxDelay = 2 * time.Second
	if d > maxDelay {
		return maxDelay
	}
	return d
}
