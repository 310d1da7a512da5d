package grpcserver

import (
	"context"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"

	"github.com/conduktor/kafka-connect-opentelemetry/pkg/codec"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/logger"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/metrics"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/otlp"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/queue"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

// Sink is what the three Export services offer decoded messages into: the
// signal queue fabric plus the metrics instance tracking them. Kept as an
// interface so receiver tests can substitute a fake without standing up a
// real queue.Fabric.
type Sink interface {
	Offer(signal otlp.SignalKind, msg otlp.Message) bool
	IncrementReceived(signal otlp.SignalKind)
	IncrementDropped(signal otlp.SignalKind)
}

// fabricSink adapts a *queue.Fabric and *metrics.Metrics to Sink.
type fabricSink struct {
	fabric *queue.Fabric
	m      *metrics.Metrics
}

// NewFabricSink builds the production Sink the driver hands to both receivers.
func NewFabricSink(fabric *queue.Fabric, m *metrics.Metrics) Sink {
	return &fabricSink{fabric: fabric, m: m}
}

func (s *fabricSink) Offer(signal otlp.SignalKind, msg otlp.Message) bool {
	return s.fabric.For(signal).Offer(msg)
}

func (s *fabricSink) IncrementReceived(signal otlp.SignalKind) { s.m.IncrementReceived(signal) }
func (s *fabricSink) IncrementDropped(signal otlp.SignalKind)  { s.m.IncrementDropped(signal) }

// TraceReceiver implements the OTLP trace collector service.
type TraceReceiver struct {
	coltracepb.UnimplementedTraceServiceServer

	sink  Sink
	codec *codec.Codec
	log   logger.Logger
}

// NewTraceReceiver builds a TraceReceiver that offers decoded requests to sink.
func NewTraceReceiver(sink Sink, c *codec.Codec, log logger.Logger) *TraceReceiver {
	return &TraceReceiver{sink: sink, codec: c, log: log}
}

// Export implements coltracepb.TraceServiceServer. It always returns an
// empty, error-free response on a well-formed request: acceptance means
// accepted for buffering, not delivered downstream (§4.D.5).
func (r *TraceReceiver) Export(ctx context.Context, req *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, error) {
	encoded, err := r.codec.Encode(req)
	if err != nil {
		return nil, err
	}

	msg := otlp.New(otlp.Traces, encoded, nowMillis())
	if r.sink.Offer(otlp.Traces, msg) {
		r.sink.IncrementReceived(otlp.Traces)
	} else {
		r.sink.IncrementDropped(otlp.Traces)
		r.log.Warn().Str("signal", otlp.Traces.String()).Msg("queue full, dropping export request")
	}

	return &coltracepb.ExportTraceServiceResponse{}, nil
}

// MetricsReceiver implements the OTLP metrics collector service.
type MetricsReceiver struct {
	colmetricspb.UnimplementedMetricsServiceServer

	sink  Sink
	codec *codec.Codec
	log   logger.Logger
}

// NewMetricsReceiver builds a MetricsReceiver that offers decoded requests
// to sink.
func NewMetricsReceiver(sink Sink, c *codec.Codec, log logger.Logger) *MetricsReceiver {
	return &MetricsReceiver{sink: sink, codec: c, log: log}
}

func (r *MetricsReceiver) Export(ctx context.Context, req *colmetricspb.ExportMetricsServiceRequest) (*colmetricspb.ExportMetricsServiceResponse, error) {
	encoded, err := r.codec.Encode(req)
	if err != nil {
		return nil, err
	}

	msg := otlp.New(otlp.Metrics, encoded, nowMillis())
	if r.sink.Offer(otlp.Metrics, msg) {
		r.sink.IncrementReceived(otlp.Metrics)
	} else {
		r.sink.IncrementDropped(otlp.Metrics)
		r.log.Warn().Str("signal", otlp.Metrics.String()).Msg("queue full, dropping export request")
	}

	return &colmetricspb.ExportMetricsServiceResponse{}, nil
}

// LogsReceiver implements the OTLP logs collector service.
type LogsReceiver struct {
	collogspb.UnimplementedLogsServiceServer

	sink  Sink
	codec *codec.Codec
	log   logger.Logger
}

// NewLogsReceiver builds a LogsReceiver that offers decoded requests to sink.
func NewLogsReceiver(sink Sink, c *codec.Codec, log logger.Logger) *LogsReceiver {
	return &LogsReceiver{sink: sink, codec: c, log: log}
}

func (r *LogsReceiver) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	encoded, err := r.codec.Encode(req)
	if err != nil {
		return nil, err
	}

	msg := otlp.New(otlp.Logs, encoded, nowMillis())
	if r.sink.Offer(otlp.Logs, msg) {
		r.sink.IncrementReceived(otlp.Logs)
	} else {
		r.sink.IncrementDropped(otlp.Logs)
		r.log.Warn().Str("signal", otlp.Logs.String()).Msg("queue full, dropping export request")
	}

	return &collogspb.ExportLogsServiceResponse{}, nil
}

// RegisterAll registers all three OTLP collector services, plus their
// service names in the health server, on srv.
func RegisterAll(srv *Server, traces *TraceReceiver, m *MetricsReceiver, l *LogsReceiver) {
	srv.RegisterService(&coltracepb.TraceService_ServiceDesc, traces)
	srv.RegisterService(&colmetricspb.MetricsService_ServiceDesc, m)
	srv.RegisterService(&collogspb.LogsService_ServiceDesc, l)
}
