package otel

import (
	"context"
	"sync"
	"testing"

	accountguard "github.com/securyflex/accountguard"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot accountguard.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() accountguard.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := accountguard.MetricsSnapshot{
		Counters:   make(map[accountguard.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[accountguard.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()

	src := &fakeSource{
		snapshot: accountguard.MetricsSnapshot{
			Counters: map[accountguard.MetricID]uint64{
				accountguard.MetricAccountLocked: 3,
			},
			Histograms: map[accountguard.MetricID][]uint64{
				accountguard.MetricLoginLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporterFromSource(provider.Meter("accountguard-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collect(t, reader)

	locked, ok := got["securyflex_account_locked_total"].(metricdata.Sum[int64])
	if !ok || len(locked.DataPoints) != 1 || locked.DataPoints[0].Value != 3 {
		t.Fatalf("unexpected account_locked data %#v", got["securyflex_account_locked_total"])
	}

	buckets, ok := got["securyflex_login_latency_seconds_bucket"].(metricdata.Gauge[int64])
	if !ok || len(buckets.DataPoints) != 8 {
		t.Fatalf("expected 8 bucket series, got %#v", got["securyflex_login_latency_seconds_bucket"])
	}
	for _, dp := range buckets.DataPoints {
		le, _ := dp.Attributes.Value("le")
		if le.AsString() == "+Inf" && dp.Value != 8 {
			t.Fatalf("expected +Inf bucket 8, got %d", dp.Value)
		}
		if le.AsString() == "0.025" && dp.Value != 1 {
			t.Fatalf("expected first bucket 1, got %d", dp.Value)
		}
	}

	dropped, ok := got["securyflex_audit_dropped_total"].(metricdata.Sum[int64])
	if !ok || dropped.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected audit dropped data %#v", got["securyflex_audit_dropped_total"])
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("accountguard-test")

	if _, err := NewExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()

	src := &fakeSource{
		snapshot: accountguard.MetricsSnapshot{
			Counters:   map[accountguard.MetricID]uint64{accountguard.MetricLoginSuccess: 1},
			Histograms: map[accountguard.MetricID][]uint64{},
		},
	}

	exp, err := NewExporterFromSource(provider.Meter("accountguard-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[accountguard.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
