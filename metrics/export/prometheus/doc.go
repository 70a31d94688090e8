// Package prometheus provides Prometheus collectors for panelauth metrics.
//
// [NewPrometheusExporter] accepts an [panelauth.Engine] and exposes an [http.Handler]
// that renders all panelauth counters and histograms in Prometheus text exposition format.
// Counter names are prefixed panelauth_*_total; the single histogram is
// panelauth_authorize_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
