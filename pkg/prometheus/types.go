package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Labels 标签类型
type Labels = prometheus.Labels

// CounterVec Counter 向量
type CounterVec = prometheus.CounterVec

// GaugeVec Gauge 向量
type GaugeVec = prometheus.GaugeVec

// HistogramVec Histogram 向量
type HistogramVec = prometheus.HistogramVec

// Registerer 注册器
type Registerer = prometheus.Registerer

// Collector 采集器接口
type Collector = prometheus.Collector
