package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"

	"github.com/conduktor/kafka-connect-opentelemetry/pkg/codec"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/logger"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/otlp"
)

type fakeSink struct {
	reject   bool
	offers   int
	received map[otlp.SignalKind]int
	dropped  map[otlp.SignalKind]int
}

func newFakeSink() *fakeSink {
	return &fakeSink{received: map[otlp.SignalKind]int{}, dropped: map[otlp.SignalKind]int{}}
}

func (f *fakeSink) Offer(signal otlp.SignalKind, msg otlp.Message) bool {
	if f.reject {
		return false
	}
	f.offers++
	return true
}

func (f *fakeSink) IncrementReceived(signal otlp.SignalKind) { f.received[signal]++ }
func (f *fakeSink) IncrementDropped(signal otlp.SignalKind)  { f.dropped[signal]++ }

func newTestReceiver(sink *fakeSink, format codec.Format) *Receiver {
	c, _ := codec.New(format)
	return New(sink, c, logger.NewTestLogger(), 10*1024*1024)
}

func TestMethodNotAllowedOnNonPost(t *testing.T) {
	sink := newFakeSink()
	rv := newTestReceiver(sink, codec.JSON)

	req := httptest.NewRequest(http.MethodGet, "/v1/traces", nil)
	rec := httptest.NewRecorder()
	rv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, 0, sink.received[otlp.Traces])
}

func TestUnknownPathReturns404WithBody(t *testing.T) {
	sink := newFakeSink()
	rv := newTestReceiver(sink, codec.JSON)

	req := httptest.NewRequest(http.MethodPost, "/v1/unknown", nil)
	rec := httptest.NewRecorder()
	rv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Contains(t, body["error"], "/v1/unknown")
}

func TestTracesJSONHappyPath(t *testing.T) {
	sink := newFakeSink()
	rv := newTestReceiver(sink, codec.JSON)

	req := httptest.NewRequest(http.MethodPost, "/v1/traces", bytes.NewReader([]byte(`{"resourceSpans":[]}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	rv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{}`, rec.Body.String())
	require.Equal(t, 1, sink.offers)
}

func TestMetricsProtobufFallbackPath(t *testing.T) {
	sink := newFakeSink()
	rv := newTestReceiver(sink, codec.Protobuf)

	raw, err := proto.Marshal(&colmetricspb.ExportMetricsServiceRequest{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/metrics", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/x-protobuf")
	rec := httptest.NewRecorder()
	rv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, sink.offers)
}

func TestMissingContentTypeFallsBackToProtobuf(t *testing.T) {
	sink := newFakeSink()
	rv := newTestReceiver(sink, codec.JSON)

	raw, err := proto.Marshal(&coltracepb.ExportTraceServiceRequest{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/traces", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	rv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMalformedProtobufBodyReturns400(t *testing.T) {
	sink := newFakeSink()
	rv := newTestReceiver(sink, codec.JSON)

	req := httptest.NewRequest(http.MethodPost, "/v1/traces", bytes.NewReader([]byte{0xff, 0xff, 0xff}))
	rec := httptest.NewRecorder()
	rv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueFullReturns503(t *testing.T) {
	sink := newFakeSink()
	sink.reject = true
	rv := newTestReceiver(sink, codec.JSON)

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	rv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "Queue full", body["error"])
}
