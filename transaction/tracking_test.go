package transaction_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gaborage/txnest/logger"
	obstest "github.com/gaborage/txnest/observability/testing"
	"github.com/gaborage/txnest/transaction"
	txtest "github.com/gaborage/txnest/transaction/testing"
)

func newTelemetry(t *testing.T) (*obstest.TestTraceProvider, *obstest.TestMeterProvider, []transaction.Option) {
	t.Helper()
	tp := obstest.NewTestTraceProvider(t)
	mp := obstest.NewTestMeterProvider(t)
	return tp, mp, []transaction.Option{transaction.WithTracerProvider(tp), transaction.WithMeterProvider(mp)}
}

func TestSpansCoverOnlyPhysicalOperations(t *testing.T) {
	tp, _, opts := newTelemetry(t)
	p := txtest.NewFakeProvider().WithVendor("postgresql")
	c := transaction.New(p, opts...)
	ctx := transaction.WithState(context.Background())

	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Commit(ctx))
	require.NoError(t, c.Commit(ctx))

	spans := obstest.NewSpanCollector(t, tp.Exporter)
	assert.Equal(t, []string{"tx.begin", "tx.commit"}, spans.Names())

	st, _ := transaction.StateFromContext(ctx)
	spans.WithAttribute("tx.id", st.ID()).AssertCount(2)
	for i := 0; i < spans.Len(); i++ {
		span := spans.Get(i)
		obstest.AssertSpanAttribute(t, &span, "db.system.name", "postgresql")
		obstest.AssertSpanStatus(t, &span, codes.Unset)
	}
}

func TestFailedRollbackSpanHasErrorStatus(t *testing.T) {
	tp, _, opts := newTelemetry(t)
	p := txtest.NewFakeProvider().FailRollback(errBoom)
	c := transaction.New(p, opts...)
	ctx := transaction.WithState(context.Background())

	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Begin(ctx))
	require.Error(t, c.Rollback(ctx))

	spans := obstest.NewSpanCollector(t, tp.Exporter).AssertCount(2)
	rb := spans.WithName("tx.rollback").First()
	obstest.AssertSpanStatus(t, &rb, codes.Error)
	obstest.AssertSpanAttribute(t, &rb, "tx.depth", 2)
	obstest.AssertNoSpanAttribute(t, &rb, "db.system.name")
}

func TestMetricsRecordOperationsAndLifetime(t *testing.T) {
	_, mp, opts := newTelemetry(t)
	p := txtest.NewFakeProvider()
	c := transaction.New(p, opts...)
	ctx := transaction.WithState(context.Background())

	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Commit(ctx))
	require.NoError(t, c.Commit(ctx))
	require.Error(t, c.Commit(ctx))

	rm := mp.Collect(t)

	ops := func(op string, physical bool, outcome string) int64 {
		v, err := obstest.GetMetricSumValue(rm, "db.transaction.operations",
			attribute.String("operation", op),
			attribute.Bool("physical", physical),
			attribute.String("outcome", outcome),
		)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, int64(1), ops("begin", true, "success"))
	assert.Equal(t, int64(1), ops("begin", false, "success"))
	assert.Equal(t, int64(1), ops("commit", false, "success"))
	assert.Equal(t, int64(1), ops("commit", true, "success"))
	assert.Equal(t, int64(1), ops("commit", false, "protocol_violation"))

	active, err := obstest.GetMetricSumValue(rm, "db.transaction.active")
	require.NoError(t, err)
	assert.Zero(t, active)

	count, err := obstest.GetMetricHistogramCount(rm, "db.transaction.duration")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestLoggingOfPhysicalTransitions(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "debug")
	p := txtest.NewFakeProvider()
	c := transaction.New(p, transaction.WithLogger(log))
	ctx := transaction.WithState(context.Background())

	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Rollback(ctx))
	require.Error(t, c.Rollback(ctx))

	var messages []string
	var startedID string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		messages = append(messages, entry["level"].(string)+": "+entry["message"].(string))
		if entry["message"] == "transaction started" {
			startedID, _ = entry["tx_id"].(string)
		}
	}

	assert.Equal(t, []string{
		"debug: transaction started",
		"debug: transaction rolled back",
		"warn: transaction protocol violation",
	}, messages)
	st, _ := transaction.StateFromContext(ctx)
	assert.Equal(t, st.ID(), startedID)
}
