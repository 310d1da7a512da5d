package codec

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/protobuf/proto"
)

func sampleTraceRequest() *coltracepb.ExportTraceServiceRequest {
	return &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{
			{
				Resource: &resourcepb.Resource{
					Attributes: []*commonpb.KeyValue{
						{Key: "service.name", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "svc-1"}}},
					},
				},
				ScopeSpans: []*tracepb.ScopeSpans{
					{
						Spans: []*tracepb.Span{
							{Name: "op"},
						},
					},
				},
			},
		},
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New("yaml")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestEncodeJSONIncludesDefaultsAndProtoNames(t *testing.T) {
	c, err := New(JSON)
	require.NoError(t, err)

	out, err := c.Encode(sampleTraceRequest())
	require.NoError(t, err)

	require.True(t, strings.Contains(out, `"resource_spans"`) && !strings.Contains(out, "resourceSpans"))
	require.Contains(t, out, `"dropped_attributes_count"`)
	require.Contains(t, out, "svc-1")
}

func TestEncodeProtobufIsStandardBase64OfWireBytes(t *testing.T) {
	c, err := New(Protobuf)
	require.NoError(t, err)

	req := sampleTraceRequest()
	out, err := c.Encode(req)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(out)
	require.NoError(t, err)

	want, err := proto.Marshal(req)
	require.NoError(t, err)
	require.Equal(t, want, raw)
}

func TestEncodeRoundTripProtobuf(t *testing.T) {
	c, err := New(Protobuf)
	require.NoError(t, err)

	req := sampleTraceRequest()
	encoded, err := c.Encode(req)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	var decoded coltracepb.ExportTraceServiceRequest
	require.NoError(t, proto.Unmarshal(raw, &decoded))
	require.True(t, proto.Equal(req, &decoded))
}
