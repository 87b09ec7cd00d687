// internal/pkg/lock/zookeeper_lock.go
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const zkLockRoot = "/distributed_locks"

// ZookeeperMutex 基于临时顺序节点实现 Mutex 端口。
//
// 与 Redis 后端的差异：租约由 ZooKeeper 会话保证——持有者崩溃后
// 会话超时，临时节点被删除，锁自动释放。leaseTime 参数在这里只用于
// 校验其不小于会话超时，真正的到期时间由会话决定。
type ZookeeperMutex struct {
	conn           *zk.Conn
	sessionTimeout time.Duration
}

// NewZookeeperMutex 连接 ZooKeeper 并确保锁根节点存在。
func NewZookeeperMutex(servers []string, sessionTimeout time.Duration) (*ZookeeperMutex, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect zookeeper: %w", err)
	}
	if _, err := conn.Create(zkLockRoot, []byte{}, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
		conn.Close()
		return nil, fmt.Errorf("failed to create lock root node: %w", err)
	}
	return &ZookeeperMutex{conn: conn, sessionTimeout: sessionTimeout}, nil
}

// Acquire 创建临时顺序节点并等待成为最小节点，等待上限为 waitTime。
func (m *ZookeeperMutex) Acquire(ctx context.Context, key string, waitTime, leaseTime time.Duration) (Handle, error) {
	if leaseTime < m.sessionTimeout {
		return nil, fmt.Errorf("lease time %v shorter than zookeeper session timeout %v", leaseTime, m.sessionTimeout)
	}

	lockPath := zkLockRoot + "/" + key
	if _, err := m.conn.Create(lockPath, []byte{}, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return nil, fmt.Errorf("failed to create lock path %s: %w", lockPath, err)
	}

	nodePath, err := m.conn.CreateProtectedEphemeralSequential(lockPath+"/lock-", []byte{}, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, fmt.Errorf("failed to create sequential node: %w", err)
	}

	deadline := time.Now().Add(waitTime)
	for {
		children, _, err := m.conn.Children(lockPath)
		if err != nil {
			m.abandon(nodePath)
			return nil, fmt.Errorf("failed to list lock children: %w", err)
		}
		sort.Strings(children)

		myNode := strings.TrimPrefix(nodePath, lockPath+"/")
		if myNode == children[0] {
			return &zkHandle{conn: m.conn, nodePath: nodePath}, nil
		}

		// 只监听排在自己前面的节点，避免惊群
		prevIndex := -1
		for i, child := range children {
			if child == myNode {
				prevIndex = i - 1
				break
			}
		}
		if prevIndex < 0 {
			m.abandon(nodePath)
			return nil, errors.New("own lock node missing from children list")
		}

		_, _, eventChan, err := m.conn.ExistsW(lockPath + "/" + children[prevIndex])
		if err != nil {
			if errors.Is(err, zk.ErrNoNode) {
				continue // 前驱节点刚好被删除，重新竞争
			}
			m.abandon(nodePath)
			return nil, fmt.Errorf("failed to watch previous node: %w", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.abandon(nodePath)
			return nil, ErrNotAcquired
		}
		select {
		case <-eventChan:
		case <-time.After(remaining):
			m.abandon(nodePath)
			return nil, ErrNotAcquired
		case <-ctx.Done():
			m.abandon(nodePath)
			return nil, ctx.Err()
		}
	}
}

// abandon 清理自己创建的排队节点，失败也无妨：会话结束后节点自动消失。
func (m *ZookeeperMutex) abandon(nodePath string) {
	_ = m.conn.Delete(nodePath, -1)
}

// Close 关闭 ZooKeeper 连接。
func (m *ZookeeperMutex) Close() {
	m.conn.Close()
}

type zkHandle struct {
	conn     *zk.Conn
	nodePath string
}

func (h *zkHandle) Release(ctx context.Context) error {
	err := h.conn.Delete(h.nodePath, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	return nil
}
