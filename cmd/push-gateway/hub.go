// cmd/push-gateway/hub.go
package main

import (
	"sync"

	"couponhub/internal/pkg/logger"
)

// Hub 维护所有活跃的连接，并负责消息投递
type Hub struct {
	clients    map[int64]*Client // 使用 UserID 作为 Key
	register   chan *Client
	unregister chan *Client
	lock       sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[int64]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			// 同一用户重复连接时顶掉旧连接
			if old, ok := h.clients[client.userID]; ok {
				close(old.send)
			}
			h.clients[client.userID] = client
			h.lock.Unlock()
			logger.Logger().Info().Int64("user_id", client.userID).Str("node", nodeID).Msg("client registered")
		case client := <-h.unregister:
			h.lock.Lock()
			if current, ok := h.clients[client.userID]; ok && current == client {
				delete(h.clients, client.userID)
				close(client.send)
			}
			h.lock.Unlock()
			logger.Logger().Info().Int64("user_id", client.userID).Msg("client unregistered")
		}
	}
}

// deliver 把消息投递给本节点上的用户连接，用户不在本节点时返回 false。
// 发送全程持有读锁：close(send) 只在写锁内发生（注册顶替和注销），
// 读写锁互斥保证不会向刚关闭的通道发送。发送是非阻塞的，不会把
// 注册/注销卡在锁外。
func (h *Hub) deliver(userID int64, message []byte) bool {
	h.lock.RLock()
	defer h.lock.RUnlock()
	client, ok := h.clients[userID]
	if !ok {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		// 写缓冲已满说明连接卡死，放弃这条消息
		return false
	}
}
