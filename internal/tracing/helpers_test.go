package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(previous)
	})
	return recorder
}

func attrValue(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.AsString(), true
		}
	}
	return "", false
}

func TestStartDBSpan(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		operation DBOperation
		wantName  string
	}{
		{"query with table", "location_privacy_settings", DBOperationQuery, "query location_privacy_settings"},
		{"upsert with table", "location_privacy_settings", DBOperationUpsert, "upsert location_privacy_settings"},
		{"update with table", "route_points", DBOperationUpdate, "update route_points"},
		{"delete with table", "geofence_events", DBOperationDelete, "delete geofence_events"},
		{"query without table", "", DBOperationQuery, "query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := newRecorder(t)

			_, endSpan := StartDBSpan(context.Background(), tt.table, tt.operation)
			endSpan(nil)

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			span := spans[0]

			if span.Name() != tt.wantName {
				t.Errorf("span name = %q, want %q", span.Name(), tt.wantName)
			}
			if span.SpanKind() != trace.SpanKindClient {
				t.Errorf("span kind = %v, want client", span.SpanKind())
			}
			if got, _ := attrValue(span.Attributes(), "db.system"); got != "postgresql" {
				t.Errorf("db.system = %q, want postgresql", got)
			}
			table, ok := attrValue(span.Attributes(), "db.sql.table")
			if tt.table == "" && ok {
				t.Error("db.sql.table set for span without table")
			}
			if tt.table != "" && table != tt.table {
				t.Errorf("db.sql.table = %q, want %q", table, tt.table)
			}
			if span.Status().Code == codes.Error {
				t.Error("span status should not be error")
			}
		})
	}
}

func TestStartDBSpan_WithError(t *testing.T) {
	recorder := newRecorder(t)

	_, endSpan := StartDBSpan(context.Background(), "route_points", DBOperationDelete)
	endSpan(errors.New("connection reset"))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want error", spans[0].Status().Code)
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected recorded error event")
	}
}

func TestStartSpan(t *testing.T) {
	recorder := newRecorder(t)

	ctx, endParent := StartSpan(context.Background(), "retention.cycle", attribute.Int("users", 3))
	_, endChild := StartDBSpan(ctx, "route_points", DBOperationDelete)
	endChild(nil)
	endParent(nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	child, parent := spans[0], spans[1]
	if parent.Name() != "retention.cycle" {
		t.Errorf("parent name = %q", parent.Name())
	}
	if child.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("db span should be a child of the operation span")
	}
	if child.SpanContext().TraceID() != parent.SpanContext().TraceID() {
		t.Error("spans should share a trace")
	}
}
