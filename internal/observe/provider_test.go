package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

func TestInitProvider_ExportsToRegistry(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName: "glasslisten-test",
		Registerer:  reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordFrame(context.Background(), "microphone")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found, service := false, ""
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "glasslisten_frames_received") {
			found = true
		}
		if f.GetName() == "target_info" {
			for _, l := range f.GetMetric()[0].GetLabel() {
				if l.GetName() == "service_name" {
					service = l.GetValue()
				}
			}
		}
	}
	if !found {
		t.Error("frames counter not exported to the prometheus registry")
	}
	if service != "glasslisten-test" {
		t.Errorf("target_info service_name = %q, want glasslisten-test", service)
	}
}
