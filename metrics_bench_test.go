package panelauth

import (
	"testing"
	"time"
)

// BenchmarkMetricsDenialParallel spreads denials over every kind, as a
// mix of forbidden, rate limited and expired requests would.
func BenchmarkMetricsDenialParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		k := KindInvalidCredentials
		for pb.Next() {
			m.Inc(MetricAuthorizeDenied)
			m.IncDenial(k)
			if k++; k == kindCount {
				k = KindInvalidCredentials
			}
		}
	})
}

func BenchmarkMetricsAuthorizeLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	d := 3 * time.Millisecond
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricAuthorizeAllowed)
			m.Observe(MetricAuthorizeLatency, d)
		}
	})
}

func BenchmarkMetricsAuthorizeDisabled(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricAuthorizeDenied)
		m.IncDenial(KindForbidden)
		m.Observe(MetricAuthorizeLatency, time.Millisecond)
	}
}

func BenchmarkMetricsSnapshot(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	for k := KindInvalidCredentials; k < kindCount; k++ {
		m.IncDenial(k)
	}
	m.Observe(MetricAuthorizeLatency, time.Millisecond)
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = m.Snapshot()
	}
}
