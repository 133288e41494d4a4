package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// register 以 name 为键防止重复创建，注册失败时回滚占位
func register[V Collector](c *Client, store *sync.Map, name string, build func() V) (V, error) {
	var zero V
	if c.IsClosed() {
		return zero, ErrClientClosed
	}
	if _, loaded := store.LoadOrStore(name, nil); loaded {
		return zero, ErrMetricExists
	}

	v := build()
	if err := c.registry.Register(v); err != nil {
		store.Delete(name)
		return zero, err
	}
	store.Store(name, v)
	return v, nil
}

func lookup[V any](store *sync.Map, name string) (V, bool) {
	var zero V
	raw, ok := store.Load(name)
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	return v, ok
}

func must[V any](v V, err error) V {
	if err != nil {
		panic(err)
	}
	return v
}

// NewCounter 创建并注册 Counter
func (c *Client) NewCounter(name, help string, labels []string) (*CounterVec, error) {
	return register(c, &c.counters, name, func() *CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	})
}

// MustNewCounter 创建 Counter，失败则 panic
func (c *Client) MustNewCounter(name, help string, labels []string) *CounterVec {
	return must(c.NewCounter(name, help, labels))
}

// GetCounter 获取已注册的 Counter
func (c *Client) GetCounter(name string) (*CounterVec, bool) {
	return lookup[*CounterVec](&c.counters, name)
}

// NewGauge 创建并注册 Gauge
func (c *Client) NewGauge(name, help string, labels []string) (*GaugeVec, error) {
	return register(c, &c.gauges, name, func() *GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	})
}

// MustNewGauge 创建 Gauge，失败则 panic
func (c *Client) MustNewGauge(name, help string, labels []string) *GaugeVec {
	return must(c.NewGauge(name, help, labels))
}

// NewHistogram 创建并注册 Histogram，buckets 为 nil 时使用默认分桶
func (c *Client) NewHistogram(name, help string, labels []string, buckets []float64) (*HistogramVec, error) {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	return register(c, &c.histograms, name, func() *HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		}, labels)
	})
}

// GetHistogram 获取已注册的 Histogram
func (c *Client) GetHistogram(name string) (*HistogramVec, bool) {
	return lookup[*HistogramVec](&c.histograms, name)
}

