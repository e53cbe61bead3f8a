package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "autodeployhub"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTracerProviderExportsWithServiceResource(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := newTracerProvider(exporter, Config{ServiceName: "autodeployhub", ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}

	_, span := tp.Tracer("test").Start(context.Background(), "orchestrator.deployment")
	span.End()
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "orchestrator.deployment" {
		t.Fatalf("unexpected spans: %+v", spans)
	}
	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == attribute.Key("service.name") && kv.Value.AsString() == "autodeployhub" {
			found = true
		}
	}
	if !found {
		t.Fatalf("service.name missing from resource")
	}
	_ = tp.Shutdown(context.Background())
}
