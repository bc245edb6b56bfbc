package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/asakaida/restree/pkg/cache/memorycache"
)

func TestRecorder_CacheEvents(t *testing.T) {
	collector := NewCollector()
	exporter := NewPrometheusExporterWith(collector, prometheus.NewRegistry())
	recorder := NewRecorder(collector, exporter)

	recorder.CacheHit("default")
	recorder.CacheHit("default")
	recorder.CacheMiss("default")
	recorder.CacheError("auth_long_term")
	recorder.RegionInvalidated("auth_long_term")

	m := collector.GetCacheMetrics("default")
	if m.Hits != 2 || m.Misses != 1 {
		t.Errorf("unexpected default region metrics: %+v", m)
	}
	if m.HitRate < 0.66 || m.HitRate > 0.67 {
		t.Errorf("expected hit rate ~0.667, got %v", m.HitRate)
	}

	lt := collector.GetCacheMetrics("auth_long_term")
	if lt.Errors != 1 || lt.Invalidations != 1 {
		t.Errorf("unexpected long term region metrics: %+v", lt)
	}

	if got := testutil.ToFloat64(exporter.cacheHits.WithLabelValues("default")); got != 2 {
		t.Errorf("expected 2 exported hits, got %v", got)
	}
	if got := testutil.ToFloat64(exporter.cacheInvalidations.WithLabelValues("auth_long_term")); got != 1 {
		t.Errorf("expected 1 exported invalidation, got %v", got)
	}
}

func TestRecorder_Decisions(t *testing.T) {
	collector := NewCollector()
	recorder := NewRecorder(collector, nil)

	recorder.Decision("Allow")
	recorder.Decision("Deny")
	recorder.Decision("Deny")

	counts := collector.GetDecisionCounts()
	if counts["Allow"] != 1 || counts["Deny"] != 2 {
		t.Errorf("unexpected decision counts: %v", counts)
	}
}

func TestPrometheusExporter_UpdateGauges(t *testing.T) {
	collector := NewCollector()
	exporter := NewPrometheusExporterWith(collector, prometheus.NewRegistry())

	backend, err := memorycache.New(&memorycache.Config{MaxSizeBytes: 1 << 20, DefaultTTL: time.Minute})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	backend.Set(context.Background(), "resource:1:node", "x", 0)
	collector.SetCache("default", backend)

	exporter.Update()

	if got := testutil.ToFloat64(exporter.cacheKeys.WithLabelValues("default")); got != 1 {
		t.Errorf("expected 1 key, got %v", got)
	}
	if got := testutil.ToFloat64(exporter.cacheMemoryBytes.WithLabelValues("default")); got <= 0 {
		t.Errorf("expected positive memory usage, got %v", got)
	}
}
