package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conduktor/kafka-connect-opentelemetry/pkg/config"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/logger"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/metrics"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/otlp"
)

// newTestDriver builds a Driver with its metrics and session wired up the
// way Start would, but without binding any real gRPC/HTTP listener —
// exercises Poll/Commit/Stop in isolation.
func newTestDriver(t *testing.T, queueSize int) *Driver {
	t.Helper()

	cfg := config.Default()
	cfg.MessageQueueSize = queueSize

	reg := metrics.NewRegistry()
	d, err := New(cfg, logger.NewTestLogger(), reg)
	require.NoError(t, err)

	d.sessionID = "session-under-test"
	d.m = reg.Register(cfg.ConnectorName)
	d.m.SetQueueCapacity(queueSize)

	return d
}

func TestPollReturnsNilWhenNothingBuffered(t *testing.T) {
	d := newTestDriver(t, 100)
	require.Nil(t, d.Poll())
}

func TestPollReturnsNilWhileStopping(t *testing.T) {
	d := newTestDriver(t, 100)
	d.fabric.For(otlp.Traces).Offer(otlp.New(otlp.Traces, "payload", 0))
	d.stopping.Store(true)

	require.Nil(t, d.Poll())
}

func TestPollAssignsMonotonicSequencesStartingAtOne(t *testing.T) {
	d := newTestDriver(t, 100)
	d.fabric.For(otlp.Traces).Offer(otlp.New(otlp.Traces, "p1", 0))
	d.fabric.For(otlp.Traces).Offer(otlp.New(otlp.Traces, "p2", 0))

	records := d.Poll()
	require.Len(t, records, 2)
	require.Equal(t, int64(1), records[0].OffsetKey.Sequence)
	require.Equal(t, int64(2), records[1].OffsetKey.Sequence)
	require.Equal(t, "otlp-traces", records[0].Topic)
	require.Equal(t, "session-under-test", records[0].OffsetKey.SessionID)
}

func TestPollResumesSequenceAfterPersistedOffset(t *testing.T) {
	d := newTestDriver(t, 100)
	d.sequences[otlp.Traces].next.Store(42)
	d.sequences[otlp.Traces].committed.Store(42)

	d.fabric.For(otlp.Traces).Offer(otlp.New(otlp.Traces, "p1", 0))

	records := d.Poll()
	require.Len(t, records, 1)
	require.Equal(t, int64(43), records[0].OffsetKey.Sequence)
}

func TestPollOrdersSignalsTracesMetricsLogs(t *testing.T) {
	d := newTestDriver(t, 100)
	d.fabric.For(otlp.Logs).Offer(otlp.New(otlp.Logs, "l", 0))
	d.fabric.For(otlp.Metrics).Offer(otlp.New(otlp.Metrics, "m", 0))
	d.fabric.For(otlp.Traces).Offer(otlp.New(otlp.Traces, "t", 0))

	records := d.Poll()
	require.Len(t, records, 3)
	require.Equal(t, "otlp-traces", records[0].Topic)
	require.Equal(t, "otlp-metrics", records[1].Topic)
	require.Equal(t, "otlp-logs", records[2].Topic)
}

func TestPollBatchCapsAt99AdditionalMessages(t *testing.T) {
	d := newTestDriver(t, 1000)
	for i := 0; i < 150; i++ {
		d.fabric.For(otlp.Traces).Offer(otlp.New(otlp.Traces, "x", 0))
	}

	records := d.Poll()
	require.Len(t, records, 100, "one blocking receive plus up to 99 non-blocking drains")
}

func TestCommitAdvancesCommittedSequence(t *testing.T) {
	d := newTestDriver(t, 100)

	d.Commit(OffsetKey{SignalName: "TRACES", Sequence: 1})
	require.Equal(t, int64(1), d.sequences[otlp.Traces].committed.Load())
}

func TestCommitDoesNotRegressOnOutOfOrderDelivery(t *testing.T) {
	d := newTestDriver(t, 100)

	d.Commit(OffsetKey{SignalName: "TRACES", Sequence: 5})
	d.Commit(OffsetKey{SignalName: "TRACES", Sequence: 3})

	require.Equal(t, int64(5), d.sequences[otlp.Traces].committed.Load(), "an out-of-order commit must not regress committed")
}

func TestCommitUnknownSignalNameIsSwallowed(t *testing.T) {
	d := newTestDriver(t, 100)
	require.NotPanics(t, func() {
		d.Commit(OffsetKey{SignalName: "BOGUS", Sequence: 1})
	})
}

func TestStopReturnsWithinBoundAndDrainsQueues(t *testing.T) {
	d := newTestDriver(t, 100)
	d.fabric.For(otlp.Traces).Offer(otlp.New(otlp.Traces, "t", 0))
	d.fabric.For(otlp.Metrics).Offer(otlp.New(otlp.Metrics, "m", 0))
	d.fabric.For(otlp.Logs).Offer(otlp.New(otlp.Logs, "l", 0))

	start := time.Now()
	d.Stop(context.Background())
	elapsed := time.Since(start)

	require.Less(t, elapsed, 10*time.Second)
	require.Nil(t, d.Poll(), "poll must return none after stop")
	require.Equal(t, 0, d.fabric.For(otlp.Traces).Size())
	require.Equal(t, 0, d.fabric.For(otlp.Metrics).Size())
	require.Equal(t, 0, d.fabric.For(otlp.Logs).Size())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.GRPCEnabled = false
	cfg.HTTPEnabled = false

	_, err := New(cfg, logger.NewTestLogger(), metrics.NewRegistry())
	require.Error(t, err)
}
