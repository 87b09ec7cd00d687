// cmd/push-gateway/hub_test.go
package main

import (
	"sync"
	"testing"
)

// 同一用户反复重连（注册顶替会关闭旧连接的 send 通道）的同时持续投递。
// 投递和通道关闭必须互斥，否则会向已关闭的通道发送并击穿整个进程。
func TestHub_DeliverDuringReconnectDoesNotPanic(t *testing.T) {
	h := newHub()
	go h.run()

	const reconnects = 20000
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		msg := []byte(`{"eventType":"COUPON_ISSUED"}`)
		for {
			select {
			case <-done:
				return
			default:
				h.deliver(7, msg)
			}
		}
	}()

	for i := 0; i < reconnects; i++ {
		c := &Client{hub: h, send: make(chan []byte, 1), userID: 7}
		h.register <- c
	}
	close(done)
	wg.Wait()
}

func TestHub_DeliverToAbsentUser(t *testing.T) {
	h := newHub()
	go h.run()

	if h.deliver(99, []byte("x")) {
		t.Fatal("不在本节点的用户不应投递成功")
	}
}
