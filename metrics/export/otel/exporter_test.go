package otel

import (
	"context"
	"sync"
	"testing"

	panelauth "github.com/MrEthical07/panelAuth"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot panelauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() panelauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := panelauth.MetricsSnapshot{
		Counters:   make(map[panelauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[panelauth.MetricID][]uint64, len(f.snapshot.Histograms)),
		Denials:    make(map[panelauth.Kind]uint64, len(f.snapshot.Denials)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, v := range f.snapshot.Denials {
		out.Denials[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("panelauth-test")

	src := &fakeSource{
		snapshot: panelauth.MetricsSnapshot{
			Counters: map[panelauth.MetricID]uint64{
				panelauth.MetricLoginSuccess: 3,
			},
			Histograms: map[panelauth.MetricID][]uint64{
				panelauth.MetricAuthorizeLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
			Denials: map[panelauth.Kind]uint64{
				panelauth.KindTokenReused: 2,
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "panelauth_denied_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("denial counter has data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value("kind"); ok && v.AsString() == "token_reused" {
					found = true
					if dp.Value != 2 {
						t.Fatalf("expected token_reused=2, got %d", dp.Value)
					}
				}
			}
		}
	}
	if !found {
		t.Fatal("expected a token_reused denial data point")
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("panelauth-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("panelauth-test")

	src := &fakeSource{
		snapshot: panelauth.MetricsSnapshot{
			Counters: map[panelauth.MetricID]uint64{
				panelauth.MetricLoginSuccess: 1,
			},
			Histograms: map[panelauth.MetricID][]uint64{
				panelauth.MetricAuthorizeLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[panelauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
