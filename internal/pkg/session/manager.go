// internal/pkg/session/manager.go
package session

import (
	"context"
	"fmt"
	"time"

	"couponhub/internal/pkg/redis"
)

const (
	sessionKeyPrefix = "session:gateway:"
	// 会话记录带 TTL，网关节点崩溃后残留的会话会自动清理。
	// 在线连接由网关的心跳续期。
	sessionTTL = 2 * time.Minute
)

// Manager 在 Redis 中维护 userID -> 网关节点 的会话映射，
// 供路由层查询用户当前连在哪个节点上。
type Manager struct {
	client *redis.Client
}

func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client}
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("%s%d", sessionKeyPrefix, userID)
}

// SetUserGateway 记录（或续期）用户所在的网关节点。
func (m *Manager) SetUserGateway(ctx context.Context, userID int64, nodeID string) error {
	return m.client.GetClient().Set(ctx, sessionKey(userID), nodeID, sessionTTL).Err()
}

// GetUserGateway 返回用户所在的网关节点，离线时返回空串。
func (m *Manager) GetUserGateway(ctx context.Context, userID int64) (string, error) {
	val, err := m.client.GetClient().Get(ctx, sessionKey(userID)).Result()
	if err != nil {
		if redis.IsNil(err) {
			return "", nil
		}
		return "", err
	}
	return val, nil
}

// RemoveUserGateway 在连接关闭时清理会话。只有记录仍指向当前节点时
// 才删除，避免用户重连到别的节点后被误清。
func (m *Manager) RemoveUserGateway(ctx context.Context, userID int64, nodeID string) error {
	current, err := m.GetUserGateway(ctx, userID)
	if err != nil {
		return err
	}
	if current != nodeID {
		return nil
	}
	return m.client.GetClient().Del(ctx, sessionKey(userID)).Err()
}
