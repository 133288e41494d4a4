package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndObserve(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg))

	m.SetConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connected))
	m.SetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Connected))

	m.ObserveApplied("push", true)
	m.ObserveApplied("push", true)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Applied.WithLabelValues("push", "true")))
}

func TestNamespace(t *testing.T) {
	m, err := New(&Config{Namespace: "station_a"})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	m.ConnectAttempts.WithLabelValues("ok").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "station_a_connect_attempts_total")
}

func TestNilReceiver(t *testing.T) {
	var m *ConsoleMetrics
	assert.NotPanics(t, func() {
		m.SetConnected(true)
		m.ObserveApplied("push", false)
		m.ObserveConnect("ok")
		m.ObserveReconnect("resume", "connected")
		m.ObserveRefresh("ok")
		m.ObserveInvocation("SetPhysicalLeverData", "ok")
	})
}
