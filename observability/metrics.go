package observability

import "go.opentelemetry.io/otel/metric"

// CreateCounter creates a monotonic counter described by description.
func CreateCounter(meter metric.Meter, name, description string, opts ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return meter.Int64Counter(name, append([]metric.Int64CounterOption{metric.WithDescription(description)}, opts...)...)
}

// CreateHistogram creates a float64 histogram, used for durations in seconds.
func CreateHistogram(meter metric.Meter, name, description string, opts ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return meter.Float64Histogram(name, append([]metric.Float64HistogramOption{metric.WithDescription(description)}, opts...)...)
}

// CreateUpDownCounter creates a counter that may decrease, such as the
// number of open transactions.
func CreateUpDownCounter(meter metric.Meter, name, description string, opts ...metric.Int64UpDownCounterOption) (metric.Int64UpDownCounter, error) {
	return meter.Int64UpDownCounter(name, append([]metric.Int64UpDownCounterOption{metric.WithDescription(description)}, opts...)...)
}
