/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package grpcserver wraps google.golang.org/grpc.Server with the health,
// reflection, keepalive, and OpenTelemetry stats-handler wiring the OTLP
// gRPC receiver needs, plus the bounded graceful-shutdown behaviour the
// source driver's stop sequence depends on.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	grpcstats "google.golang.org/grpc/stats"

	"github.com/conduktor/kafka-connect-opentelemetry/pkg/logger"
)

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

type loggerKey struct{}

// GetLogger extracts the request-scoped logger from ctx, falling back to
// defaultLogger when the interceptor chain never ran (e.g. in tests that
// call a handler directly).
func GetLogger(ctx context.Context, defaultLogger logger.Logger) logger.Logger {
	if l, ok := ctx.Value(loggerKey{}).(logger.Logger); ok {
		return l
	}
	return defaultLogger
}

var (
	errInternalError          = fmt.Errorf("internal error")
	errHealthServerRegistered = errors.New("health server already registered")
)

// shutdownBudget is the gRPC leg of the driver's 15s worst-case stop
// sequence (§4.F): GracefulStop gets this long before Stop forces the
// connections closed.
const shutdownBudget = 5 * time.Second

// Server is the transport-level wrapper shared by every OTLP gRPC service
// this bridge exposes (traces, metrics, logs Export RPCs).
type Server struct {
	srv         *grpc.Server
	healthCheck *health.Server
	addr        string
	logger      logger.Logger

	mu               sync.RWMutex
	services         map[string]struct{}
	serverOpts       []grpc.ServerOption
	healthRegistered bool

	telemetryDisabled bool
	telemetryFilter   TelemetryFilter
}

// NewServer builds a Server bound to addr but does not start listening.
func NewServer(addr string, log logger.Logger, opts ...ServerOption) *Server {
	s := &Server{
		addr:     addr,
		logger:   log,
		services: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	defaultOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			LoggingInterceptor(log),
			RecoveryInterceptor(log),
		),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     10 * time.Minute,
			MaxConnectionAge:      24 * time.Hour,
			MaxConnectionAgeGrace: shutdownBudget,
			Time:                  120 * time.Second,
			Timeout:               20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             120 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	if !s.telemetryDisabled {
		handlerOpts := []otelgrpc.Option{}
		if s.telemetryFilter != nil {
			handlerOpts = append(handlerOpts, otelgrpc.WithFilter(func(info *grpcstats.RPCTagInfo) bool {
				return s.telemetryFilter(info)
			}))
		}
		defaultOpts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler(handlerOpts...))}, defaultOpts...)
	}

	s.serverOpts = append(defaultOpts, s.serverOpts...)
	s.srv = grpc.NewServer(s.serverOpts...)
	s.healthCheck = health.NewServer()

	reflection.Register(s.srv)

	return s
}

// GRPCServer returns the underlying *grpc.Server for service registration.
func (s *Server) GRPCServer() *grpc.Server { return s.srv }

// RegisterHealthServer registers the standard gRPC health service, once.
func (s *Server) RegisterHealthServer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.healthRegistered {
		return errHealthServerRegistered
	}

	healthpb.RegisterHealthServer(s.srv, s.healthCheck)
	s.healthRegistered = true

	return nil
}

// WithServerOptions appends arbitrary grpc.ServerOption values.
func WithServerOptions(opt ...grpc.ServerOption) ServerOption {
	return func(s *Server) { s.serverOpts = append(s.serverOpts, opt...) }
}

// TelemetryFilter suppresses otelgrpc instrumentation for matching RPCs.
type TelemetryFilter func(*grpcstats.RPCTagInfo) bool

// WithTelemetryFilter installs a TelemetryFilter.
func WithTelemetryFilter(filter TelemetryFilter) ServerOption {
	return func(s *Server) { s.telemetryFilter = filter }
}

// WithTelemetryDisabled turns off the otelgrpc stats handler entirely.
func WithTelemetryDisabled() ServerOption {
	return func(s *Server) { s.telemetryDisabled = true }
}

// WithMaxRecvSize bounds the largest accepted request message, guarding
// against an oversized ExportTraceServiceRequest exhausting memory.
func WithMaxRecvSize(size int) ServerOption {
	return func(s *Server) { s.serverOpts = append(s.serverOpts, grpc.MaxRecvMsgSize(size)) }
}

// RegisterService registers svc and marks it SERVING in the health service.
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.services[desc.ServiceName] = struct{}{}
	s.srv.RegisterService(desc, impl)

	if s.healthCheck != nil {
		s.healthCheck.SetServingStatus(desc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	}
}

// Start registers the health service if needed, binds addr, and blocks
// serving until Stop is called or Serve fails.
func (s *Server) Start() error {
	if !s.healthRegistered && s.healthCheck != nil {
		if err := s.RegisterHealthServer(); err != nil {
			s.logger.Warn().Err(err).Msg("health server registration skipped")
		}
	}

	lc := &net.ListenConfig{}
	lis, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpcserver: failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info().Str("addr", s.addr).Msg("otlp gRPC receiver listening")

	if err := s.srv.Serve(lis); err != nil {
		return fmt.Errorf("grpcserver: serve failed: %w", err)
	}

	return nil
}

// Stop marks every registered service NOT_SERVING and attempts a graceful
// shutdown within shutdownBudget before forcing connections closed.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, cancel := context.WithTimeout(ctx, shutdownBudget)
	defer cancel()

	if s.healthCheck != nil {
		for service := range s.services {
			s.healthCheck.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
		}
	}

	stopped := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info().Msg("otlp gRPC receiver stopped gracefully")
	case <-time.After(shutdownBudget):
		s.logger.Warn().Msg("otlp gRPC receiver graceful stop timed out, forcing")
		s.srv.Stop()
	}
}

// LoggingInterceptor logs each RPC's method, duration, and error, and
// enriches the request-scoped logger with the active span's trace and span
// IDs when one is present.
func LoggingInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		requestLogger := log

		if withFields, ok := log.(interface {
			WithFields(map[string]interface{}) zerolog.Logger
		}); ok {
			span := trace.SpanFromContext(ctx)
			if span.SpanContext().IsValid() {
				spanCtx := span.SpanContext()
				enhanced := withFields.WithFields(map[string]interface{}{
					"trace_id": spanCtx.TraceID().String(),
					"span_id":  spanCtx.SpanID().String(),
				})
				requestLogger = &loggerWrapper{logger: enhanced}
			}
		}

		newCtx := context.WithValue(ctx, loggerKey{}, requestLogger)
		resp, err := handler(newCtx, req)

		requestLogger.Debug().
			Str("method", info.FullMethod).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("otlp gRPC call")

		return resp, err
	}
}

// loggerWrapper adapts a bare zerolog.Logger back into the logger.Logger
// interface, for the per-request logger the interceptor builds above.
type loggerWrapper struct {
	logger zerolog.Logger
}

func (l *loggerWrapper) Trace() *zerolog.Event { return l.logger.Trace() }
func (l *loggerWrapper) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *loggerWrapper) Info() *zerolog.Event  { return l.logger.Info() }
func (l *loggerWrapper) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *loggerWrapper) Error() *zerolog.Event { return l.logger.Error() }
func (l *loggerWrapper) Fatal() *zerolog.Event { return l.logger.Fatal() }
func (l *loggerWrapper) Panic() *zerolog.Event { return l.logger.Panic() }
func (l *loggerWrapper) With() zerolog.Context { return l.logger.With() }

func (l *loggerWrapper) WithComponent(component string) zerolog.Logger {
	return l.logger.With().Str("component", component).Logger()
}

func (l *loggerWrapper) WithFields(fields map[string]interface{}) zerolog.Logger {
	ctx := l.logger.With()
	for key, value := range fields {
		ctx = ctx.Interface(key, value)
	}
	return ctx.Logger()
}

func (l *loggerWrapper) SetLevel(level zerolog.Level) { l.logger = l.logger.Level(level) }

func (l *loggerWrapper) SetDebug(debug bool) {
	if debug {
		l.logger = l.logger.Level(zerolog.DebugLevel)
	} else {
		l.logger = l.logger.Level(zerolog.InfoLevel)
	}
}

// RecoveryInterceptor converts a panicking handler into errInternalError
// instead of crashing the process, matching the driver's requirement that
// a malformed request never takes down the receiver.
func RecoveryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("method", info.FullMethod).Interface("panic", r).Msg("recovered from panic in gRPC handler")
				err = errInternalError
			}
		}()

		return handler(ctx, req)
	}
}

// FromContext retrieves the request-scoped logger, or a no-op test logger
// if none was ever injected.
func FromContext(ctx context.Context) logger.Logger {
	if l, ok := ctx.Value(loggerKey{}).(logger.Logger); ok {
		return l
	}
	return logger.NewTestLogger()
}
