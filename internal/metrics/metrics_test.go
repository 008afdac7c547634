package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObservePass("mutation", OutcomeDrawn, time.Millisecond)
	m.Coalesced()
	m.Event("mutation")
	m.EventDropped("mutation")
	m.Locate(true)
	m.Remapped()
	m.SetRecords(1)
	m.SetHistory(1)
	m.SetRadius(1)
	if m.Registry() != nil {
		t.Fatal("Registry() on nil Metrics = non-nil")
	}
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ObservePass("mutation", OutcomeDrawn, 20*time.Millisecond)
	m.ObservePass("mutation", OutcomeDrawn, 30*time.Millisecond)
	m.Coalesced()
	m.SetRadius(5)

	if got := testutil.ToFloat64(m.passes.WithLabelValues("mutation", OutcomeDrawn)); got != 2 {
		t.Fatalf("passes = %v; want 2", got)
	}
	if got := testutil.ToFloat64(m.coalesced); got != 1 {
		t.Fatalf("coalesced = %v; want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`oi_overlay_redraw_passes_total{outcome="drawn",trigger="mutation"} 2`,
		`oi_overlay_window_radius 5`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
