package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaldrishti/videocore/internal/frame"
)

func newTestFrame(id uint64) frame.Frame {
	return frame.Frame{Pixels: []byte("jpeg-bytes"), FrameID: id, SourceTS: time.Now()}
}

func TestClient_ProbeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(HealthStatus{Status: "ok", Device: "cuda:0"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if !c.Available() {
		t.Fatalf("client should be available after a successful probe")
	}
	if c.Device() != "cuda:0" {
		t.Fatalf("expected device cuda:0, got %q", c.Device())
	}
}

func TestClient_InferSuccess(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health":
			_ = json.NewEncoder(w).Encode(HealthStatus{Status: "ok"})
		case "/infer":
			calls.Add(1)
			_ = r.ParseMultipartForm(1 << 20)
			_ = json.NewEncoder(w).Encode(inferResponse{
				Status:      "success",
				Confidence:  0.9,
				ThreatState: "NORMAL",
			})
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	res := c.Infer(context.Background(), newTestFrame(1), false)
	if res.State != frame.StateNormal {
		t.Fatalf("expected NORMAL state, got %s", res.State)
	}
	if !res.MLAvailable {
		t.Fatalf("expected ml_available=true on a successful call")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly 1 /infer call, got %d", calls.Load())
	}
}

func TestClient_UnavailableReturnsSafeModeWithoutCall(t *testing.T) {
	var inferCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		inferCalls.Add(1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithHealthInterval(time.Hour))
	_ = c.Probe(context.Background()) // marks unavailable, sets lastHealthCheck
	res := c.Infer(context.Background(), newTestFrame(1), false)
	if res.State != frame.StateSafeMode {
		t.Fatalf("expected SAFE_MODE, got %s", res.State)
	}
	if res.MLAvailable {
		t.Fatalf("expected ml_available=false in safe mode")
	}
	if inferCalls.Load() != 0 {
		t.Fatalf("infer should not be called while unavailable and health check is fresh")
	}
}

func TestClient_ConsecutiveFailuresTripSafeMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(HealthStatus{Status: "ok"})
		case "/infer":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithMaxFailuresBeforeSafeMode(2))
	_ = c.Probe(context.Background())

	res1 := c.Infer(context.Background(), newTestFrame(1), false)
	if res1.State != frame.StateSafeMode {
		t.Fatalf("first failure alone should not necessarily flip state, but result must stay safe placeholder shape")
	}
	if !c.Available() {
		t.Fatalf("client should still be marked available after 1 failure (max=2)")
	}

	res2 := c.Infer(context.Background(), newTestFrame(2), false)
	if res2.State != frame.StateSafeMode {
		t.Fatalf("expected SAFE_MODE after reaching max failures")
	}
	if c.Available() {
		t.Fatalf("client should be unavailable after reaching max consecutive failures")
	}
}

func TestClient_ConnectionErrorImmediateSafeMode(t *testing.T) {
	c := NewClient("http://127.0.0.1:1") // nothing listening
	res := c.Infer(context.Background(), newTestFrame(1), false)
	if res.State != frame.StateSafeMode {
		t.Fatalf("expected SAFE_MODE on connection error, got %s", res.State)
	}
	if c.Available() {
		t.Fatalf("client should be unavailable after a connection error")
	}
}
