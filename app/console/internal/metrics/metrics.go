// Package metrics 控制台会话指标
package metrics

import (
	"fmt"

	"github.com/lk2023060901/xdooria-interlock/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
)

// Config 指标配置
type Config struct {
	// Namespace 指标命名空间
	Namespace string `mapstructure:"namespace" json:"namespace" yaml:"namespace"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Namespace: "interlock_console",
	}
}

// ConsoleMetrics 会话与同步指标
type ConsoleMetrics struct {
	config *Config

	// 连接尝试（result: ok / permission_denied / disposed / unreachable / unknown）
	ConnectAttempts *prometheus.CounterVec
	// 重连周期（path: resume / refresh / reauth；result: connected / action_needed / declined / failed）
	ReconnectCycles *prometheus.CounterVec
	// 令牌刷新（result: ok / invalid_grant / denied / server_fault / error）
	TokenRefreshes *prometheus.CounterVec
	// 合并次数（source: push / lever / button；changed: true / false）
	Applied *prometheus.CounterVec
	// 请求调用（target, result）
	Invocations *prometheus.CounterVec
	// 当前是否已连接
	Connected prometheus.Gauge
}

// New 创建控制台指标
func New(cfg *Config) (*ConsoleMetrics, error) {
	newCfg, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to merge metrics config: %w", err)
	}

	ns := newCfg.Namespace
	return &ConsoleMetrics{
		config: newCfg,
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connect_attempts_total",
			Help:      "通道连接尝试次数",
		}, []string{"result"}),
		ReconnectCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "reconnect_cycles_total",
			Help:      "重连周期次数",
		}, []string{"path", "result"}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "token_refreshes_total",
			Help:      "令牌刷新次数",
		}, []string{"result"}),
		Applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "model_applied_total",
			Help:      "推送与应答合并次数",
		}, []string{"source", "changed"}),
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "invocations_total",
			Help:      "服务端方法调用次数",
		}, []string{"target", "result"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "connected",
			Help:      "通道是否已连接",
		}),
	}, nil
}

// Register 注册到 Prometheus
func (m *ConsoleMetrics) Register(registerer prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.ConnectAttempts,
		m.ReconnectCycles,
		m.TokenRefreshes,
		m.Applied,
		m.Invocations,
		m.Connected,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// 以下记录方法允许 nil 接收者，未启用指标时直接忽略

// SetConnected 更新连接状态
func (m *ConsoleMetrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}

// ObserveApplied 记录一次合并
func (m *ConsoleMetrics) ObserveApplied(source string, changed bool) {
	if m == nil {
		return
	}
	m.Applied.WithLabelValues(source, fmt.Sprint(changed)).Inc()
}

// ObserveConnect 记录一次连接尝试
func (m *ConsoleMetrics) ObserveConnect(result string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

// ObserveReconnect 记录一个重连周期
func (m *ConsoleMetrics) ObserveReconnect(path, result string) {
	if m == nil {
		return
	}
	m.ReconnectCycles.WithLabelValues(path, result).Inc()
}

// ObserveRefresh 记录一次令牌刷新
func (m *ConsoleMetrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// ObserveInvocation 记录一次服务端调用
func (m *ConsoleMetrics) ObserveInvocation(target, result string) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(target, result).Inc()
}
