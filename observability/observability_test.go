package observability

import (
	"context"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsDisabledReturnsNil(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNewMetricsEnabledRegistersCollectors(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "testns"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.NotNil(t, m.Registry())
}

func TestNilMetricsRecordersAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAgentRun("success", 1.5, 3)
		m.RecordToolCall("tool", "success", 0.2)
		m.RecordMemorySearch("vector", 0.1)
		m.RecordMemoryRemember()
		m.RecordDAGRun(2, 3, 1)
	})
}

func TestRecordAgentRunObservesMetric(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "agentns"})
	require.NoError(t, err)

	m.RecordAgentRun("success", 2.0, 4)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.True(t, hasCounterWithValue(families, "agentns_agent_runs_total", 1))
}

func TestRecordToolCallRecordsErrorOnNonSuccess(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "toolns"})
	require.NoError(t, err)

	m.RecordToolCall("search", "timeout", 0.5)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.True(t, hasCounterWithValue(families, "toolns_tool_errors_total", 1))
}

func TestInitTracerDisabledReturnsNoop(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tp)

	tracer := tp.Tracer("test")
	_, span := tracer.Start(context.Background(), "op")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid(), "noop tracer spans carry no valid context")
}

func TestInitTracerEnabledInstallsSamplingProvider(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{Enabled: true, ServiceName: "conduit-test", SamplingRate: 1.0})
	require.NoError(t, err)
	require.NotNil(t, tp)
}

func hasCounterWithValue(families []*dto.MetricFamily, name string, want float64) bool {
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
		}
		return total == want
	}
	return false
}
