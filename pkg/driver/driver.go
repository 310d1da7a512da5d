package driver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/conduktor/kafka-connect-opentelemetry/pkg/codec"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/config"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/grpcserver"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/logger"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/metrics"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/otlp"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/queue"
)

// pollTimeout is the per-signal wait on the first drain attempt (§4.F,
// §5): 300 ms worst case across the three signals per poll.
const pollTimeout = 100 * time.Millisecond

// maxBatchPerSignal bounds one signal's contribution to a single poll: one
// blocking receive plus up to 99 additional non-blocking drains.
const maxBatchPerSignal = 100

// drainBudget is the stop sequence's queue-drain leg (§4.F.3).
const drainBudget = 5 * time.Second

// metricsLogInterval is how often poll emits a structured metrics line
// while active (§4.F "Poll", step 5).
const metricsLogInterval = 30 * time.Second

// queueUtilizationWarnThreshold is the point above which the periodic
// metrics line escalates from info to warn, mirroring the Java original's
// OpenTelemetrySourceTask.logMetrics() health check.
const queueUtilizationWarnThreshold = 80.0

// sequenceState is one signal's next/committed counter pair.
type sequenceState struct {
	next      atomic.Int64
	committed atomic.Int64
}

// Driver is the source driver: owns the session, per-signal sequence
// counters, the queue fabric, the two receivers, and the stop sequence.
type Driver struct {
	cfg    config.Config
	log    logger.Logger
	reg    *metrics.Registry
	m      *metrics.Metrics
	fabric *queue.Fabric
	codec  *codec.Codec

	grpcSrv *grpcserver.Server
	httpSrv httpServer

	sessionID string
	sequences [3]sequenceState

	stopping    atomic.Bool
	lastLogTime atomic.Int64
	topicFor    [3]string
}

// httpServer is the minimal surface Driver needs from net/http, kept as an
// interface so tests can substitute a fake instead of binding a real port.
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// New builds an un-started Driver from validated configuration.
func New(cfg config.Config, log logger.Logger, reg *metrics.Registry) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("driver: invalid config: %w", err)
	}

	c, err := codec.New(codec.Format(cfg.MessageFormat))
	if err != nil {
		return nil, fmt.Errorf("driver: %w", err)
	}

	d := &Driver{
		cfg:    cfg,
		log:    log,
		reg:    reg,
		fabric: queue.NewFabric(cfg.MessageQueueSize),
		codec:  c,
	}
	d.topicFor[otlp.Traces] = cfg.KafkaTopicTraces
	d.topicFor[otlp.Metrics] = cfg.KafkaTopicMetrics
	d.topicFor[otlp.Logs] = cfg.KafkaTopicLogs

	for i := range d.sequences {
		d.sequences[i].committed.Store(-1)
	}

	return d, nil
}

// Start runs the ordered startup sequence (§4.F "Start"): fresh session,
// metrics registration, offset resume per signal, then receiver startup.
// Both receivers disabled is rejected by Validate before this is reached.
func (d *Driver) Start(ctx context.Context, offsetReader OffsetReader) error {
	d.sessionID = uuid.NewString()

	d.m = d.reg.Register(d.cfg.ConnectorName)
	d.m.SetQueueCapacity(d.cfg.MessageQueueSize)

	runLog := logger.Scoped(d.log, map[string]interface{}{
		"connector_name": d.cfg.ConnectorName,
		"session_id":      d.sessionID,
	})
	d.log = runLog

	runLog.Info().Str("event", "task_starting").
		Int("grpc_port", d.cfg.GRPCPort).
		Int("http_port", d.cfg.HTTPPort).
		Msg("starting otlp source driver")

	if offsetReader != nil {
		for _, signal := range otlp.Signals {
			persisted, ok := offsetReader(d.cfg.ConnectorName, signal)
			if !ok {
				continue
			}
			d.sequences[signal].next.Store(persisted.Sequence)
			d.sequences[signal].committed.Store(persisted.Sequence)
			if persisted.SessionID != "" && persisted.SessionID != d.sessionID {
				runLog.Info().Str("event", "session_changed").
					Str("signal", signal.String()).
					Str("previous_session_id", persisted.SessionID).
					Msg("resuming after restart")
			}
		}
	}

	sink := grpcserver.NewFabricSink(d.fabric, d.m)

	if d.cfg.GRPCEnabled {
		if err := d.startGRPC(sink); err != nil {
			return fmt.Errorf("driver: grpc receiver start failed: %w", err)
		}
	}

	if d.cfg.HTTPEnabled {
		if err := d.startHTTP(sink); err != nil {
			d.stopGRPC(ctx)
			return fmt.Errorf("driver: http receiver start failed: %w", err)
		}
	}

	d.lastLogTime.Store(time.Now().UnixMilli())

	runLog.Info().Str("event", "task_started").Msg("otlp source driver started")

	return nil
}

func (d *Driver) startGRPC(sink grpcserver.Sink) error {
	addr := fmt.Sprintf("%s:%d", d.cfg.BindAddress, d.cfg.GRPCPort)
	d.grpcSrv = grpcserver.NewServer(addr, d.log)

	traces := grpcserver.NewTraceReceiver(sink, d.codec, d.log)
	metricsRecv := grpcserver.NewMetricsReceiver(sink, d.codec, d.log)
	logs := grpcserver.NewLogsReceiver(sink, d.codec, d.log)
	grpcserver.RegisterAll(d.grpcSrv, traces, metricsRecv, logs)

	errCh := make(chan error, 1)
	go func() {
		if err := d.grpcSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func (d *Driver) stopGRPC(ctx context.Context) {
	if d.grpcSrv != nil {
		d.grpcSrv.Stop(ctx)
	}
}

// Poll implements §4.F's poll contract: while stopping, returns nil. It
// otherwise drains up to 100 messages per signal, in TRACES/METRICS/LOGS
// order, stamping each with its incremented sequence.
func (d *Driver) Poll() []Record {
	if d.stopping.Load() {
		return nil
	}

	var records []Record

	for _, signal := range otlp.Signals {
		q := d.fabric.For(signal)

		msg, ok := q.Poll(pollTimeout)
		if !ok {
			d.m.UpdateQueueSize(signal, q.Size())
			continue
		}

		batch := make([]otlp.Message, 0, maxBatchPerSignal)
		batch = append(batch, msg)
		batch = append(batch, q.DrainUpTo(maxBatchPerSignal-1)...)

		for _, m := range batch {
			seq := d.sequences[signal].next.Add(1)
			records = append(records, newRecord(d.cfg.ConnectorName, d.topicFor[signal], signal, d.sessionID, seq, m))
		}

		d.m.UpdateQueueSize(signal, q.Size())
	}

	if len(records) == 0 {
		return nil
	}

	d.m.IncrementRecordsProduced(int64(len(records)))

	now := time.Now().UnixMilli()
	if now-d.lastLogTime.Load() > metricsLogInterval.Milliseconds() {
		d.logMetrics()
		d.lastLogTime.Store(now)
	}

	return records
}

// Commit implements the commit hook (§4.F "Commit"): advances committed(s)
// (an out-of-order lower sequence never moves it back) and flags, but does
// not correct, a detected gap. Any unexpected panic is
// recovered and swallowed per the CommitCallbackFault error kind.
func (d *Driver) Commit(offsetKey OffsetKey) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Msg("recovered from panic in commit callback")
		}
	}()

	signal, ok := signalFromName(offsetKey.SignalName)
	if !ok {
		d.log.Warn().Str("signal_name", offsetKey.SignalName).Msg("commit for unknown signal name")
		return
	}

	state := &d.sequences[signal]
	previous := state.committed.Load()

	if previous >= 0 && offsetKey.Sequence != previous+1 {
		gap := offsetKey.Sequence - previous - 1
		d.log.Warn().
			Str("signal", offsetKey.SignalName).
			Int64("previous_committed", previous).
			Int64("committed", offsetKey.Sequence).
			Int64("gap", gap).
			Msg("sequence gap detected on commit")
	}

	for {
		current := state.committed.Load()
		if offsetKey.Sequence <= current || state.committed.CompareAndSwap(current, offsetKey.Sequence) {
			break
		}
	}
}

// Stop runs the ordered drain state machine (§4.F "Stop"), bounded overall
// by three independent 5 s legs (gRPC graceful stop, HTTP quiescence,
// queue drain).
func (d *Driver) Stop(ctx context.Context) {
	d.stopping.Store(true)

	if d.grpcSrv != nil {
		d.grpcSrv.Stop(ctx)
	}
	if d.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, drainBudget)
		_ = d.httpSrv.Shutdown(shutdownCtx)
		cancel()
	}

	d.drainQueues()
	d.logMetrics()

	if d.reg != nil {
		d.reg.Unregister(d.cfg.ConnectorName)
	}

	d.log.Info().Str("event", "task_stopped").
		Str("session_id", d.sessionID).
		Msg("otlp source driver stopped")
}

func (d *Driver) drainQueues() {
	deadline := time.Now().Add(drainBudget)
	drained := 0

	for time.Now().Before(deadline) {
		n := 0
		for _, signal := range otlp.Signals {
			n += len(d.fabric.For(signal).DrainUpTo(maxBatchPerSignal))
		}

		if n == 0 {
			break
		}

		drained += n
		time.Sleep(100 * time.Millisecond)
	}

	d.log.Info().Str("event", "message_draining_completed").Int("drained_count", drained).Msg("queue drain complete")
}

func (d *Driver) logMetrics() {
	if d.m == nil {
		return
	}
	snap := d.m.Snapshot()

	event := d.log.Info()
	if snap.MaxQueueUtilizationPercent > queueUtilizationWarnThreshold {
		event = d.log.Warn()
	}

	event.
		Str("event", "metrics_snapshot").
		Int64("total_received", snap.TotalReceived).
		Int64("total_dropped", snap.TotalDropped).
		Int64("total_lag", snap.TotalLag).
		Float64("max_queue_utilization_percent", snap.MaxQueueUtilizationPercent).
		Float64("drop_rate_percent", snap.DropRatePercent).
		Msg("otlp ingress metrics")
}

func signalFromName(name string) (otlp.SignalKind, bool) {
	for _, s := range otlp.Signals {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

