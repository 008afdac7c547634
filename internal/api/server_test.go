package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dgnsrekt/oi_overlay/internal/cdpcontrol"
	"github.com/dgnsrekt/oi_overlay/internal/controller"
	"github.com/dgnsrekt/oi_overlay/internal/scheduler"
	"github.com/dgnsrekt/oi_overlay/internal/snapshot"
)

type stubService struct {
	radiusDelta int
	centering   *bool
	err         error
}

func (s *stubService) State(ctx context.Context) (scheduler.State, error) {
	return scheduler.State{Phase: scheduler.PhaseObserving, Radius: 5, MaxRadius: 40, Centering: true}, s.err
}
func (s *stubService) Window(ctx context.Context) (controller.WindowView, error) {
	if s.err != nil {
		return controller.WindowView{}, s.err
	}
	return controller.WindowView{Rows: []controller.WindowRow{{Strike: 24000, ATM: true}}}, nil
}
func (s *stubService) History(ctx context.Context) (controller.HistoryView, error) {
	return controller.HistoryView{Snapshots: []controller.HistoryEntry{}}, nil
}
func (s *stubService) Delta(ctx context.Context, strike float64, metric string, windowSec int) (controller.DeltaView, error) {
	return controller.DeltaView{Strike: strike, Metric: metric, WindowSec: windowSec}, nil
}
func (s *stubService) AdjustRadius(ctx context.Context, delta int) (scheduler.State, error) {
	if delta == 0 {
		return scheduler.State{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "delta must be non-zero"}
	}
	s.radiusDelta = delta
	return scheduler.State{Radius: 5 + delta}, nil
}
func (s *stubService) SetCentering(ctx context.Context, enabled bool) (scheduler.State, error) {
	s.centering = &enabled
	return scheduler.State{Centering: enabled}, nil
}
func (s *stubService) Refresh(ctx context.Context) (scheduler.State, error) {
	return scheduler.State{Phase: scheduler.PhaseAwaitingRefresh}, s.err
}
func (s *stubService) ClosePanel(ctx context.Context) (scheduler.State, error) {
	return scheduler.State{Phase: scheduler.PhaseClosed}, nil
}
func (s *stubService) OpenPanel(ctx context.Context) (scheduler.State, error) {
	return scheduler.State{Phase: scheduler.PhaseObserving}, nil
}
func (s *stubService) TakeSnapshot(ctx context.Context, notes string) (snapshot.SnapshotMeta, error) {
	return snapshot.SnapshotMeta{ID: "123e4567-e89b-12d3-a456-426614174000", Notes: notes}, nil
}
func (s *stubService) ListSnapshots(ctx context.Context) ([]snapshot.SnapshotMeta, error) {
	return nil, nil
}
func (s *stubService) GetSnapshot(ctx context.Context, id string) (snapshot.SnapshotMeta, error) {
	return snapshot.SnapshotMeta{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeNotFound, Message: "snapshot not found"}
}
func (s *stubService) ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error) {
	return []byte("\x89PNG"), "png", nil
}
func (s *stubService) DeleteSnapshot(ctx context.Context, id string) error { return nil }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	h := NewServer(&stubService{}, Extras{})
	w := do(t, h, http.MethodGet, "/docs", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func TestStateAndWindow(t *testing.T) {
	h := NewServer(&stubService{}, Extras{})

	w := do(t, h, http.MethodGet, "/api/v1/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("state status = %d: %s", w.Code, w.Body.String())
	}
	var st scheduler.State
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.Phase != scheduler.PhaseObserving || st.Radius != 5 {
		t.Fatalf("state = %+v", st)
	}

	w = do(t, h, http.MethodGet, "/api/v1/window", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"atm":true`) {
		t.Fatalf("window = %d %s", w.Code, w.Body.String())
	}
}

func TestControlEndpoints(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc, Extras{})

	if w := do(t, h, http.MethodPost, "/api/v1/radius", `{"delta":-2}`); w.Code != http.StatusOK || svc.radiusDelta != -2 {
		t.Fatalf("radius = %d %s (delta %d)", w.Code, w.Body.String(), svc.radiusDelta)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/radius", `{"delta":0}`); w.Code != http.StatusBadRequest {
		t.Fatalf("zero radius delta status = %d; want 400", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/centering", `{"enabled":false}`); w.Code != http.StatusOK || svc.centering == nil || *svc.centering {
		t.Fatalf("centering = %d %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodPost, "/api/v1/panel/close", ""); !strings.Contains(w.Body.String(), "CLOSED") {
		t.Fatalf("close = %d %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/api/v1/history/delta?strike=24000&metric=put_oi", ""); w.Code != http.StatusOK {
		t.Fatalf("delta = %d %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/api/v1/history/delta?strike=24000&metric=volume", ""); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("delta with bad metric = %d; want 422", w.Code)
	}
}

func TestCodedErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{cdpcontrol.CodeValidation, http.StatusBadRequest},
		{cdpcontrol.CodeNotFound, http.StatusNotFound},
		{cdpcontrol.CodePageNotFound, http.StatusNotFound},
		{cdpcontrol.CodeBusy, http.StatusServiceUnavailable},
		{cdpcontrol.CodeEvalTimeout, http.StatusGatewayTimeout},
		{cdpcontrol.CodeCDPUnavailable, http.StatusBadGateway},
		{cdpcontrol.CodeEvalFailure, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewServer(&stubService{err: &cdpcontrol.CodedError{Code: tc.code, Message: "x"}}, Extras{})
		if w := do(t, h, http.MethodPost, "/api/v1/refresh", ""); w.Code != tc.want {
			t.Fatalf("%s status = %d; want %d", tc.code, w.Code, tc.want)
		}
	}
}

func TestSnapshotEndpoints(t *testing.T) {
	h := NewServer(&stubService{}, Extras{})

	w := do(t, h, http.MethodPost, "/api/v1/snapshots", `{"notes":"pre-open"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/api/v1/snapshots/123e4567-e89b-12d3-a456-426614174000/image") {
		t.Fatalf("take = %d %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodGet, "/api/v1/snapshots", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"snapshots":[]`) {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodGet, "/api/v1/snapshots/123e4567-e89b-12d3-a456-426614174000/image", "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("image = %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if w := do(t, h, http.MethodGet, "/api/v1/snapshots/abc/metadata", ""); w.Code != http.StatusNotFound {
		t.Fatalf("metadata status = %d; want 404", w.Code)
	}
}

func TestExtrasAreMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("oi_overlay_passes_total 1")) })
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Header().Set("Content-Type", "text/event-stream") })
	h := NewServer(&stubService{}, Extras{Metrics: metrics, Stream: stream})

	if w := do(t, h, http.MethodGet, "/metrics", ""); !strings.Contains(w.Body.String(), "passes_total") {
		t.Fatalf("metrics body = %q", w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/stream", ""); w.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("stream content type = %q", w.Header().Get("Content-Type"))
	}
	if w := do(t, h, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
}

func TestRequestLoggerQuietsPolledPaths(t *testing.T) {
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(old) })

	h := NewServer(&stubService{}, Extras{})
	do(t, h, http.MethodGet, "/health", "")
	if strings.Contains(buf.String(), "path=/health") {
		t.Fatalf("health request logged at info: %q", buf.String())
	}

	do(t, h, http.MethodGet, "/api/v1/state", "")
	if !strings.Contains(buf.String(), "path=/api/v1/state") {
		t.Fatalf("state request not logged: %q", buf.String())
	}
}
