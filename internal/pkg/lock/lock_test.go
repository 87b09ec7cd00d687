package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryMutex 是 Mutex 端口的进程内实现，语义与 Redis 后端一致：
// 同一个 key 同时只能有一个持有者，租约到期自动失效。
type memoryMutex struct {
	mu    sync.Mutex
	holds map[string]time.Time // key -> 租约到期时间
}

func newMemoryMutex() *memoryMutex {
	return &memoryMutex{holds: make(map[string]time.Time)}
}

func (m *memoryMutex) tryLock(key string, lease time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiry, held := m.holds[key]; held && time.Now().Before(expiry) {
		return false
	}
	m.holds[key] = time.Now().Add(lease)
	return true
}

func (m *memoryMutex) Acquire(ctx context.Context, key string, waitTime, leaseTime time.Duration) (Handle, error) {
	deadline := time.Now().Add(waitTime)
	for attempt := 0; ; attempt++ {
		if m.tryLock(key, leaseTime) {
			return &memoryHandle{mutex: m, key: key}, nil
		}
		delay := backoffDelay(time.Millisecond, attempt)
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

type memoryHandle struct {
	mutex *memoryMutex
	key   string
}

func (h *memoryHandle) Release(ctx context.Context) error {
	h.mutex.mu.Lock()
	defer h.mutex.mu.Unlock()
	delete(h.mutex.holds, h.key)
	return nil
}

func TestWithLockMutualExclusion(t *testing.T) {
	m := newMemoryMutex()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		ran     int
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(ctx, m, "sweep", time.Second, time.Minute, func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				ran++
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			// 等待窗口足够长，所有调用最终都应拿到锁
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "two callers held the lock simultaneously")
	assert.Equal(t, 8, ran)
}

func TestWithLockTimeoutIsSkipSignal(t *testing.T) {
	m := newMemoryMutex()
	ctx := context.Background()

	held, err := m.Acquire(ctx, "job", time.Second, time.Minute)
	require.NoError(t, err)
	defer held.Release(ctx)

	err = WithLock(ctx, m, "job", 10*time.Millisecond, time.Minute, func(ctx context.Context) error {
		t.Fatal("protected block must not run without the lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	m := newMemoryMutex()
	ctx := context.Background()

	func() {
		defer func() {
			require.NotNil(t, recover(), "expected the panic to propagate")
		}()
		_ = WithLock(ctx, m, "job", time.Second, time.Minute, func(ctx context.Context) error {
			panic("boom")
		})
	}()

	// panic 之后锁必须已释放，下一次获取立即成功
	handle, err := m.Acquire(ctx, "job", 5*time.Millisecond, time.Minute)
	require.NoError(t, err)
	_ = handle.Release(ctx)
}

func TestWithLockReleasesOnError(t *testing.T) {
	m := newMemoryMutex()
	ctx := context.Background()
	sentinel := errors.New("job failed")

	err := WithLock(ctx, m, "job", time.Second, time.Minute, func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	handle, err := m.Acquire(ctx, "job", 5*time.Millisecond, time.Minute)
	require.NoError(t, err)
	_ = handle.Release(ctx)
}

func TestLeaseExpiryGuaranteesProgress(t *testing.T) {
	m := newMemoryMutex()
	ctx := context.Background()

	// 模拟持有者崩溃：获取后从不释放，租约很短
	_, err := m.Acquire(ctx, "job", time.Second, 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	handle, err := m.Acquire(ctx, "job", 50*time.Millisecond, time.Minute)
	require.NoError(t, err, "expired lease must be reclaimable")
	_ = handle.Release(ctx)
}

func TestBackoffDelayIsIncrementalAndBounded(t *testing.T) {
	base := 50 * time.Millisecond
	assert.Equal(t, 50*time.Millisecond, backoffDelay(base, 0))
	assert.Equal(t, 100*time.Millisecond, backoffDelay(base, 1))
	assert.Equal(t, 2*time.Second, backoffDelay(base, 100), "delay must be capped")
}
