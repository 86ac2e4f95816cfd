// Package testing records transaction telemetry in memory so tests can
// assert on the spans and instruments the coordinator emits.
//
//	tp := NewTestTraceProvider(t)
//	mp := NewTestMeterProvider(t)
//	c := transaction.New(provider,
//		transaction.WithTracerProvider(tp),
//		transaction.WithMeterProvider(mp))
//	...
//	NewSpanCollector(t, tp.Exporter).WithName("tx.commit").AssertCount(1)
//	count, err := GetMetricHistogramCount(mp.Collect(t), "db.transaction.duration")
package testing

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTraceProvider is a TracerProvider exporting synchronously to Exporter.
type TestTraceProvider struct {
	*sdktrace.TracerProvider
	Exporter *tracetest.InMemoryExporter
}

// NewTestTraceProvider records every ended span. It shuts down with t.
func NewTestTraceProvider(t *testing.T) *TestTraceProvider {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return &TestTraceProvider{TracerProvider: tp, Exporter: exp}
}

// TestMeterProvider is a MeterProvider read on demand through Collect.
type TestMeterProvider struct {
	*sdkmetric.MeterProvider
	Reader *sdkmetric.ManualReader
}

// NewTestMeterProvider shuts down with t.
func NewTestMeterProvider(t *testing.T) *TestMeterProvider {
	t.Helper()
	r := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(r))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return &TestMeterProvider{MeterProvider: mp, Reader: r}
}

func (m *TestMeterProvider) Collect(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, m.Reader.Collect(context.Background(), &rm))
	return rm
}

// SpanCollector is an immutable snapshot of exported spans. Filters return
// a new collector.
type SpanCollector struct {
	t     *testing.T
	spans tracetest.SpanStubs
}

func NewSpanCollector(t *testing.T, exp *tracetest.InMemoryExporter) *SpanCollector {
	t.Helper()
	return &SpanCollector{t: t, spans: exp.GetSpans()}
}

func (sc *SpanCollector) Len() int { return len(sc.spans) }

func (sc *SpanCollector) Get(i int) tracetest.SpanStub {
	sc.t.Helper()
	require.Less(sc.t, i, len(sc.spans), "span index out of range")
	return sc.spans[i]
}

func (sc *SpanCollector) First() tracetest.SpanStub {
	sc.t.Helper()
	require.NotEmpty(sc.t, sc.spans, "no spans collected")
	return sc.spans[0]
}

// Names lists span names in export order, which is end order.
func (sc *SpanCollector) Names() []string {
	names := make([]string, len(sc.spans))
	for i := range sc.spans {
		names[i] = sc.spans[i].Name
	}
	return names
}

func (sc *SpanCollector) WithName(name string) *SpanCollector {
	return sc.where(func(s *tracetest.SpanStub) bool { return s.Name == name })
}

// WithAttribute keeps spans whose key equals value. Supported value types
// are string, int, int64 and bool.
func (sc *SpanCollector) WithAttribute(key string, value any) *SpanCollector {
	return sc.where(func(s *tracetest.SpanStub) bool {
		v, ok := SpanAttribute(s, key)
		return ok && equalValue(v, value)
	})
}

func (sc *SpanCollector) AssertCount(n int) *SpanCollector {
	sc.t.Helper()
	assert.Len(sc.t, sc.spans, n, "spans: %v", sc.Names())
	return sc
}

func (sc *SpanCollector) where(keep func(*tracetest.SpanStub) bool) *SpanCollector {
	out := tracetest.SpanStubs{}
	for i := range sc.spans {
		if keep(&sc.spans[i]) {
			out = append(out, sc.spans[i])
		}
	}
	return &SpanCollector{t: sc.t, spans: out}
}

func equalValue(v attribute.Value, want any) bool {
	switch w := want.(type) {
	case string:
		return v.Type() == attribute.STRING && v.AsString() == w
	case int:
		return v.Type() == attribute.INT64 && v.AsInt64() == int64(w)
	case int64:
		return v.Type() == attribute.INT64 && v.AsInt64() == w
	case bool:
		return v.Type() == attribute.BOOL && v.AsBool() == w
	}
	return false
}

// SpanAttribute returns the value of key on span.
func SpanAttribute(span *tracetest.SpanStub, key string) (attribute.Value, bool) {
	i := slices.IndexFunc(span.Attributes, func(kv attribute.KeyValue) bool { return string(kv.Key) == key })
	if i < 0 {
		return attribute.Value{}, false
	}
	return span.Attributes[i].Value, true
}

func AssertSpanAttribute(t *testing.T, span *tracetest.SpanStub, key string, want any) {
	t.Helper()
	v, ok := SpanAttribute(span, key)
	if assert.True(t, ok, "span %s has no attribute %s", span.Name, key) {
		assert.True(t, equalValue(v, want), "span %s attribute %s: got %s, want %v", span.Name, key, v.Emit(), want)
	}
}

func AssertNoSpanAttribute(t *testing.T, span *tracetest.SpanStub, key string) {
	t.Helper()
	_, ok := SpanAttribute(span, key)
	assert.False(t, ok, "span %s has unexpected attribute %s", span.Name, key)
}

func AssertSpanStatus(t *testing.T, span *tracetest.SpanStub, want codes.Code) {
	t.Helper()
	assert.Equal(t, want, span.Status.Code, "span %s status", span.Name)
}

// FindMetric returns the metric called name, or nil.
func FindMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// GetMetricSumValue adds up the int64 sum points whose attributes include
// every pair in match.
func GetMetricSumValue(rm metricdata.ResourceMetrics, name string, match ...attribute.KeyValue) (int64, error) {
	sum, err := metricData[metricdata.Sum[int64]](rm, name)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if includes(dp.Attributes, match) {
			total += dp.Value
		}
	}
	return total, nil
}

// GetMetricHistogramCount adds up the observation counts of the float64
// histogram points whose attributes include every pair in match.
func GetMetricHistogramCount(rm metricdata.ResourceMetrics, name string, match ...attribute.KeyValue) (uint64, error) {
	hist, err := metricData[metricdata.Histogram[float64]](rm, name)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		if includes(dp.Attributes, match) {
			total += dp.Count
		}
	}
	return total, nil
}

func metricData[T metricdata.Aggregation](rm metricdata.ResourceMetrics, name string) (T, error) {
	var zero T
	m := FindMetric(rm, name)
	if m == nil {
		return zero, fmt.Errorf("metric %s not recorded", name)
	}
	data, ok := m.Data.(T)
	if !ok {
		return zero, fmt.Errorf("metric %s is %T, not %T", name, m.Data, zero)
	}
	return data, nil
}

func includes(set attribute.Set, match []attribute.KeyValue) bool {
	for _, kv := range match {
		if v, ok := set.Value(kv.Key); !ok || v != kv.Value {
			return false
		}
	}
	return true
}
