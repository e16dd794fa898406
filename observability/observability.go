// Package observability wires tracing and Prometheus metrics for the
// runtime's ambient stack, trimmed from pkg/observability to the handful
// of subsystems this module actually has: the agent loop, the skill
// registry, long-term memory, and the DAG executor. The HTTP, RAG, and
// session-gateway metric families the teacher also defines have no
// counterpart here and are dropped rather than carried as dead fields.
package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerConfig controls whether a real sampling tracer provider is
// installed, grounded on pkg/observability/tracer.go's TracerConfig. The
// OTLP-exporter wiring the teacher does is dropped here: nothing in this
// module's scope talks to a collector, so the provider is built with a
// sampler and no span processor or exporter: spans are sampled and carry
// valid span contexts but are not exported anywhere, and the gRPC OTLP
// exporter dependency chain is not pulled in.
type TracerConfig struct {
	Enabled      bool
	ServiceName  string
	SamplingRate float64
}

// InitTracer installs a global TracerProvider per cfg and returns it for
// the caller to Shutdown on process exit.
func InitTracer(ctx context.Context, cfg TracerConfig) (trace.TracerProvider, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), nil
	}

	res, err := resource.New(ctx, resource.WithAttributes())
	if err != nil {
		return nil, fmt.Errorf("build tracer resource: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// MetricsConfig controls which metric family group is registered.
type MetricsConfig struct {
	Enabled   bool
	Namespace string // defaults to "conduit"
}

// Metrics holds every Prometheus collector this runtime's components
// record against, grounded on pkg/observability/metrics.go's per-subsystem
// CounterVec/HistogramVec layout.
type Metrics struct {
	registry *prometheus.Registry

	agentRuns       *prometheus.CounterVec
	agentRunDur     *prometheus.HistogramVec
	agentIterations *prometheus.HistogramVec

	toolCalls    *prometheus.CounterVec
	toolCallDur  *prometheus.HistogramVec
	toolErrors   *prometheus.CounterVec

	memorySearches  *prometheus.CounterVec
	memorySearchDur *prometheus.HistogramVec
	memoryRemembers *prometheus.CounterVec

	dagRounds *prometheus.HistogramVec
	dagTasks  *prometheus.CounterVec
}

// NewMetrics builds and registers every collector. Returns nil, nil when
// disabled, matching the teacher's "metrics are entirely optional"
// pattern.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "conduit"
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{registry: registry}

	m.agentRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "agent", Name: "runs_total", Help: "Total agent loop runs.",
	}, []string{"outcome"})
	m.agentRunDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "agent", Name: "run_duration_seconds", Help: "Agent loop run duration.",
	}, []string{"outcome"})
	m.agentIterations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "agent", Name: "iterations", Help: "Iterations consumed per run.",
		Buckets: []float64{1, 2, 3, 5, 8, 10, 15},
	}, []string{})

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "tool", Name: "calls_total", Help: "Total tool invocations.",
	}, []string{"tool", "outcome"})
	m.toolCallDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "tool", Name: "call_duration_seconds", Help: "Tool invocation duration.",
	}, []string{"tool"})
	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "tool", Name: "errors_total", Help: "Total tool invocation errors.",
	}, []string{"tool", "kind"})

	m.memorySearches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "memory", Name: "searches_total", Help: "Long-term memory searches.",
	}, []string{"mode"})
	m.memorySearchDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "memory", Name: "search_duration_seconds", Help: "Long-term memory search duration.",
	}, []string{"mode"})
	m.memoryRemembers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "memory", Name: "remembers_total", Help: "Long-term memory writes.",
	}, []string{})

	m.dagRounds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "dag", Name: "rounds", Help: "Rounds consumed per DAG execution.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 50},
	}, []string{})
	m.dagTasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "dag", Name: "tasks_total", Help: "Total DAG tasks settled.",
	}, []string{"outcome"})

	collectors := []prometheus.Collector{
		m.agentRuns, m.agentRunDur, m.agentIterations,
		m.toolCalls, m.toolCallDur, m.toolErrors,
		m.memorySearches, m.memorySearchDur, m.memoryRemembers,
		m.dagRounds, m.dagTasks,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RecordAgentRun(outcome string, seconds float64, iterations int) {
	if m == nil {
		return
	}
	m.agentRuns.WithLabelValues(outcome).Inc()
	m.agentRunDur.WithLabelValues(outcome).Observe(seconds)
	m.agentIterations.WithLabelValues().Observe(float64(iterations))
}

func (m *Metrics) RecordToolCall(tool, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolCallDur.WithLabelValues(tool).Observe(seconds)
	if outcome != "success" {
		m.toolErrors.WithLabelValues(tool, outcome).Inc()
	}
}

func (m *Metrics) RecordMemorySearch(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.memorySearches.WithLabelValues(mode).Inc()
	m.memorySearchDur.WithLabelValues(mode).Observe(seconds)
}

func (m *Metrics) RecordMemoryRemember() {
	if m == nil {
		return
	}
	m.memoryRemembers.WithLabelValues().Inc()
}

func (m *Metrics) RecordDAGRun(rounds int, completed, failed int) {
	if m == nil {
		return
	}
	m.dagRounds.WithLabelValues().Observe(float64(rounds))
	m.dagTasks.WithLabelValues("completed").Add(float64(completed))
	m.dagTasks.WithLabelValues("failed").Add(float64(failed))
}
