package kafkax

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestEventHeadersCarryTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := EventHeaders(ctx, "evt-1", "scheduling.appointment.booked.v1")
	if HeaderValue(headers, HeaderEventID) != "evt-1" {
		t.Fatalf("missing event id in %v", headers)
	}
	if HeaderValue(headers, HeaderEventType) != "scheduling.appointment.booked.v1" {
		t.Fatalf("missing event type in %v", headers)
	}
	want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	if got := HeaderValue(headers, "traceparent"); got != want {
		t.Fatalf("expected traceparent %q, got %q", want, got)
	}
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	if err := ReadyCheck(" , ")(context.Background()); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("expected ErrNoBrokers, got %v", err)
	}
}

func TestReadyCheckReportsEveryBroker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Port 1 on loopback refuses connections.
	err := ReadyCheck("127.0.0.1:1,127.0.0.2:1")(ctx)
	if err == nil {
		t.Fatal("expected an error for unreachable brokers")
	}
	for _, addr := range []string{"127.0.0.1:1", "127.0.0.2:1"} {
		if !strings.Contains(err.Error(), addr) {
			t.Fatalf("error %q does not mention %s", err, addr)
		}
	}
}
