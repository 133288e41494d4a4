package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lk2023060901/xdooria-interlock/pkg/logger"
)

// HeartbeatManager Ping/Pong 心跳管理器
type HeartbeatManager struct {
	config *HeartbeatConfig
	logger logger.Logger
	conn   *Connection

	lastPong  atomic.Int64 // unix nano
	missCount atomic.Int32

	onTimeout func()

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHeartbeatManager 创建心跳管理器
func NewHeartbeatManager(cfg *HeartbeatConfig, conn *Connection, log logger.Logger, onTimeout func()) *HeartbeatManager {
	h := &HeartbeatManager{
		config:    cfg,
		conn:      conn,
		logger:    log,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
	}
	h.lastPong.Store(time.Now().UnixNano())
	return h
}

// run 心跳循环，由调用方提交到协程池
func (h *HeartbeatManager) run() {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	defer h.running.Store(false)

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.conn.Ping(); err != nil {
				h.logger.Debug("websocket heartbeat ping error", "error", err)
				h.missCount.Add(1)
			}
			if h.timedOut() {
				h.logger.Warn("websocket heartbeat timeout", "miss_count", h.missCount.Load())
				if h.onTimeout != nil {
					h.onTimeout()
				}
				return
			}
		case <-h.stopCh:
			return
		}
	}
}

// OnPong 收到 Pong 回复
func (h *HeartbeatManager) OnPong() {
	h.lastPong.Store(time.Now().UnixNano())
	h.missCount.Store(0)
}

func (h *HeartbeatManager) timedOut() bool {
	if h.config.MaxMissCount > 0 && int(h.missCount.Load()) >= h.config.MaxMissCount {
		return true
	}
	if h.config.Timeout > 0 {
		return time.Since(time.Unix(0, h.lastPong.Load())) > h.config.Timeout
	}
	return false
}

// Stop 停止心跳
func (h *HeartbeatManager) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

