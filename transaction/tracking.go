package transaction

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/txnest/logger"
	"github.com/gaborage/txnest/observability"
)

const (
	tracerName = "github.com/gaborage/txnest/transaction"
	meterName  = "txnest/transaction"

	metricOperations = "db.transaction.operations"
	metricActive     = "db.transaction.active"
	metricDuration   = "db.transaction.duration"

	spanBegin    = "tx.begin"
	spanCommit   = "tx.commit"
	spanRollback = "tx.rollback"

	attrOperation = "operation"
	attrPhysical  = "physical"
	attrOutcome   = "outcome"
	attrTxID      = "tx.id"
	attrTxDepth   = "tx.depth"
	attrDBSystem  = "db.system.name"

	outcomeSuccess           = "success"
	outcomeError             = "error"
	outcomeProtocolViolation = "protocol_violation"
)

// instruments bundles the tracer and metric instruments of one Coordinator.
// Instrument creation failures degrade to no-op instruments.
type instruments struct {
	tracer     trace.Tracer
	operations metric.Int64Counter
	active     metric.Int64UpDownCounter
	duration   metric.Float64Histogram
}

func newInstruments(tp trace.TracerProvider, mp metric.MeterProvider, log logger.Logger) *instruments {
	meter := mp.Meter(meterName)
	in := &instruments{tracer: tp.Tracer(tracerName)}

	var err error
	in.operations, err = observability.CreateCounter(meter, metricOperations,
		"Transaction operations by kind, physical flag and outcome",
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		logMetricError(log, metricOperations, err)
		in.operations = noop.Int64Counter{}
	}

	in.active, err = observability.CreateUpDownCounter(meter, metricActive,
		"Physical transactions currently holding a connection",
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		logMetricError(log, metricActive, err)
		in.active = noop.Int64UpDownCounter{}
	}

	in.duration, err = observability.CreateHistogram(meter, metricDuration,
		"Lifetime of top-level transactions from physical begin to commit or rollback",
		metric.WithUnit("ms"),
	)
	if err != nil {
		logMetricError(log, metricDuration, err)
		in.duration = noop.Float64Histogram{}
	}

	return in
}

func logMetricError(log logger.Logger, name string, err error) {
	log.Warn().Err(err).Str("metric", name).Msg("failed to initialize metric instrument")
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case IsProtocolViolation(err):
		return outcomeProtocolViolation
	default:
		return outcomeError
	}
}

func (in *instruments) recordOperation(ctx context.Context, op string, physical bool, err error) {
	in.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrOperation, op),
		attribute.Bool(attrPhysical, physical),
		attribute.String(attrOutcome, outcomeOf(err)),
	))
}

// startSpan opens the span of a physical operation.
func (in *instruments) startSpan(ctx context.Context, name, txID string, depth int, vendor string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String(attrTxID, txID),
		attribute.Int(attrTxDepth, depth),
	}
	if vendor != "" {
		attrs = append(attrs, attribute.String(attrDBSystem, vendor))
	}
	return in.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (in *instruments) transactionStarted(ctx context.Context) {
	in.active.Add(ctx, 1)
}

// transactionEnded is recorded whenever a held connection leaves the state,
// whether or not the physical operation succeeded.
func (in *instruments) transactionEnded(ctx context.Context, op string, started time.Time, err error) {
	in.active.Add(ctx, -1)
	if started.IsZero() {
		return
	}
	elapsed := float64(time.Since(started)) / float64(time.Millisecond)
	in.duration.Record(ctx, elapsed, metric.WithAttributes(
		attribute.String(attrOperation, op),
		attribute.String(attrOutcome, outcomeOf(err)),
	))
}
