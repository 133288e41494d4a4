// Package status 发布连接状态
package status

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval 心跳重发间隔
const DefaultInterval = 500 * time.Millisecond

// Notifier 连接状态发布订阅
// 订阅通道只保留最新值，慢消费者不会阻塞发布方
type Notifier struct {
	interval  time.Duration
	connected atomic.Bool

	mu     sync.Mutex
	nextID int
	subs   map[int]chan bool
}

// NewNotifier 创建状态发布器，interval <= 0 使用默认值
func NewNotifier(interval time.Duration) *Notifier {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Notifier{
		interval: interval,
		subs:     make(map[int]chan bool),
	}
}

// Subscribe 订阅，返回通道与取消函数
func (n *Notifier) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Publish 更新状态并立即推送给所有订阅者
func (n *Notifier) Publish(connected bool) {
	n.connected.Store(connected)
	n.broadcast(connected)
}

// Connected 当前状态
func (n *Notifier) Connected() bool {
	return n.connected.Load()
}

// Run 按间隔重发当前状态，直到 ctx 取消
func (n *Notifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.broadcast(n.connected.Load())
		}
	}
}

func (n *Notifier) broadcast(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		// 丢弃未读旧值后写入
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
