package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingInstrumentation(t *testing.T) (*Instrumentation, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	inst, err := New(Config{
		Enabled:        true,
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return inst, recorder
}

func TestRecordError(t *testing.T) {
	inst, recorder := newRecordingInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "op")
	RecordError(span, errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("got %d spans, want 1", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", ended[0].Status().Code)
	}
	if len(ended[0].Events()) == 0 {
		t.Error("expected an exception event")
	}
}

func TestSetSpanSuccess(t *testing.T) {
	inst, recorder := newRecordingInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "op")
	SetSpanSuccess(span)
	span.End()

	if got := recorder.Ended()[0].Status().Code; got != codes.Ok {
		t.Errorf("status = %v, want Ok", got)
	}
}

func TestAddOAuthFlowAttributes_SkipsEmpty(t *testing.T) {
	inst, recorder := newRecordingInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "op")
	AddOAuthFlowAttributes(span, "app-1", "", "read")
	AddStorageAttributes(span, "get_access_token", "memory")
	AddHTTPAttributes(span, "POST", "/oauth/token", 200)
	span.End()

	attrs := map[string]bool{}
	for _, kv := range recorder.Ended()[0].Attributes() {
		attrs[string(kv.Key)] = true
	}
	for _, key := range []string{AttrClientID, AttrScope, AttrStorageOperation, AttrStorageType, AttrHTTPMethod} {
		if !attrs[key] {
			t.Errorf("missing attribute %s", key)
		}
	}
	if attrs[AttrUserID] {
		t.Errorf("empty %s should not be set", AttrUserID)
	}
}

func TestNilSafeHelpers(t *testing.T) {
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
	SetSpanAttributes(nil)
	AddSecurityAttributes(nil, "")
}
