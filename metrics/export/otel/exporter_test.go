package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/passkit/events"
	"github.com/MrEthical07/passkit/metrics"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findInt64Sum(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
				return sum.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

func TestExporterCollectsCounters(t *testing.T) {
	reader, provider := newMeter()
	m := metrics.New()
	sink := metrics.NewSink(m)
	sink.Emit(context.Background(), events.Event{Type: events.LoginSucceeded})
	sink.Emit(context.Background(), events.Event{Type: events.LoginSucceeded})
	sink.Emit(context.Background(), events.Event{Type: events.LoginSucceeded})

	exp, err := NewExporter(provider.Meter("passkit-test"), metrics.NewSource(m, func() uint64 { return 1 }))
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if v, ok := findInt64Sum(rm, "passkit_login_success_total"); !ok || v != 3 {
		t.Fatalf("login success = %d (found %v)", v, ok)
	}
	if v, ok := findInt64Sum(rm, "passkit_events_dropped_total"); !ok || v != 1 {
		t.Fatalf("events dropped = %d (found %v)", v, ok)
	}
}

func TestExporterRejectsNilArgs(t *testing.T) {
	_, provider := newMeter()
	if _, err := NewExporter(provider.Meter("x"), nil); err != ErrNilSource {
		t.Fatalf("nil source err = %v", err)
	}
	if _, err := NewExporter(nil, metrics.NewSource(metrics.New(), nil)); err != ErrNilMeter {
		t.Fatalf("nil meter err = %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newMeter()
	m := metrics.New()
	exp, err := NewExporter(provider.Meter("passkit-test"), metrics.NewSource(m, nil))
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Inc(metrics.JobEnqueued)
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}()
	}
	wg.Wait()
}
