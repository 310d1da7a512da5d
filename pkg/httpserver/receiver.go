package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"

	"github.com/conduktor/kafka-connect-opentelemetry/pkg/codec"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/grpcserver"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/logger"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/otlp"
)

// jsonUnmarshaler ignores unknown fields per §4.E.4.
var jsonUnmarshaler = protojson.UnmarshalOptions{DiscardUnknown: true}

// Receiver serves the three OTLP HTTP ingestion endpoints.
type Receiver struct {
	sink  grpcserver.Sink
	codec *codec.Codec
	log   logger.Logger

	maxBodyBytes int64
}

// New builds a Receiver. maxBodyBytes is the configured body-size ceiling
// (default 10 MiB, §4.E.3).
func New(sink grpcserver.Sink, c *codec.Codec, log logger.Logger, maxBodyBytes int64) *Receiver {
	return &Receiver{sink: sink, codec: c, log: log, maxBodyBytes: maxBodyBytes}
}

// Router builds the mux.Router exposing /v1/traces, /v1/metrics, /v1/logs,
// each accepting only POST, with every other verb answering 405 and every
// other path answering 404 with the documented JSON body.
func (rv *Receiver) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/traces", rv.handleTraces).Methods(http.MethodPost)
	r.HandleFunc("/v1/metrics", rv.handleMetrics).Methods(http.MethodPost)
	r.HandleFunc("/v1/logs", rv.handleLogs).Methods(http.MethodPost)

	r.HandleFunc("/v1/traces", methodNotAllowed)
	r.HandleFunc("/v1/metrics", methodNotAllowed)
	r.HandleFunc("/v1/logs", methodNotAllowed)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Unknown endpoint: %s", req.URL.Path))
	})

	return r
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method not allowed: %s", r.Method))
}

func (rv *Receiver) handleTraces(w http.ResponseWriter, r *http.Request) {
	req := &coltracepb.ExportTraceServiceRequest{}
	if !rv.decode(w, r, req) {
		return
	}
	rv.offer(w, otlp.Traces, req)
}

func (rv *Receiver) handleMetrics(w http.ResponseWriter, r *http.Request) {
	req := &colmetricspb.ExportMetricsServiceRequest{}
	if !rv.decode(w, r, req) {
		return
	}
	rv.offer(w, otlp.Metrics, req)
}

func (rv *Receiver) handleLogs(w http.ResponseWriter, r *http.Request) {
	req := &collogspb.ExportLogsServiceRequest{}
	if !rv.decode(w, r, req) {
		return
	}
	rv.offer(w, otlp.Logs, req)
}

// decode reads and parses the request body into msg, writing the
// appropriate error response and returning false on any failure.
func (rv *Receiver) decode(w http.ResponseWriter, r *http.Request, msg proto.Message) bool {
	r.Body = http.MaxBytesReader(w, r.Body, rv.maxBodyBytes)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, http.StatusBadRequest, "request body exceeds maximum size")
			return false
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return false
	}

	contentType := r.Header.Get("Content-Type")
	if strings.Contains(strings.ToLower(contentType), "json") {
		if err := jsonUnmarshaler.Unmarshal(body, msg); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return false
		}
		return true
	}

	if err := proto.Unmarshal(body, msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return false
	}

	return true
}

// offer runs the codec, enqueues the resulting message, and writes the
// response per §4.E.6.
func (rv *Receiver) offer(w http.ResponseWriter, signal otlp.SignalKind, msg proto.Message) {
	encoded, err := rv.codec.Encode(msg)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if rv.sink.Offer(signal, otlp.New(signal, encoded, nowMillisHTTP())) {
		rv.sink.IncrementReceived(signal)
	} else {
		rv.sink.IncrementDropped(signal)
		writeJSONError(w, http.StatusServiceUnavailable, "Queue full")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{})
}

func nowMillisHTTP() int64 { return time.Now().UnixMilli() }

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
