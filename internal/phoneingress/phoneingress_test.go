package phoneingress

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jaldrishti/videocore/internal/inference"
	"github.com/jaldrishti/videocore/internal/sourcemgr"
	"github.com/jaldrishti/videocore/internal/viewerhub"
)

func validJPEGBytes(n int) []byte {
	if n < 4 {
		n = 4
	}
	b := make([]byte, n)
	b[0], b[1] = 0xFF, 0xD8
	b[len(b)-2], b[len(b)-1] = 0xFF, 0xD9
	return b
}

func TestIsValidJPEG_AcceptsPlausibleFrame(t *testing.T) {
	if !isValidJPEG(validJPEGBytes(minValidJPEGBytes + 10)) {
		t.Fatalf("expected a well-formed, large-enough JPEG to validate")
	}
}

func TestIsValidJPEG_RejectsTooSmall(t *testing.T) {
	if isValidJPEG(validJPEGBytes(10)) {
		t.Fatalf("expected a too-small payload to be rejected regardless of magic bytes")
	}
}

func TestIsValidJPEG_RejectsBadMagicBytes(t *testing.T) {
	b := validJPEGBytes(minValidJPEGBytes + 10)
	b[0] = 0x00
	if isValidJPEG(b) {
		t.Fatalf("expected a bad SOI marker to be rejected")
	}
}

func TestIsValidJPEG_RejectsBadEOIBytes(t *testing.T) {
	b := validJPEGBytes(minValidJPEGBytes + 10)
	b[len(b)-1] = 0x00
	if isValidJPEG(b) {
		t.Fatalf("expected a bad EOI marker to be rejected")
	}
}

func TestDecodeAndValidate_RejectsInvalidBase64(t *testing.T) {
	if _, ok := decodeAndValidate("not-base64!!"); ok {
		t.Fatalf("expected invalid base64 to fail decode")
	}
}

func TestDecodeAndValidate_AcceptsValidPayload(t *testing.T) {
	raw := validJPEGBytes(minValidJPEGBytes + 10)
	enc := base64.StdEncoding.EncodeToString(raw)
	pixels, ok := decodeAndValidate(enc)
	if !ok {
		t.Fatalf("expected a valid base64-encoded JPEG to decode")
	}
	if len(pixels) != len(raw) {
		t.Fatalf("expected decoded length %d, got %d", len(raw), len(pixels))
	}
}

func newTestEndpoint(t *testing.T, targetFPS float64) (*Endpoint, *sourcemgr.Manager) {
	t.Helper()
	inferSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success"}`))
	}))
	t.Cleanup(inferSrv.Close)
	client := inference.NewClient(inferSrv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	worker := inference.NewWorker(ctx, client)
	hub := viewerhub.New(true)
	mgr := sourcemgr.New(worker, hub, 10, true)
	t.Cleanup(mgr.Shutdown)
	return New(mgr, targetFPS), mgr
}

func dialPhoneWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEndpoint_AcceptsValidFrameAndTransitionsCamera(t *testing.T) {
	ep, mgr := newTestEndpoint(t, 12)
	srv := httptest.NewServer(http.HandlerFunc(ep.ServeHTTP))
	defer srv.Close()

	mgr.Switch("camera", "")
	conn := dialPhoneWS(t, srv)

	raw := validJPEGBytes(minValidJPEGBytes + 10)
	payload, _ := json.Marshal(inboundMsg{Frame: base64.StdEncoding.EncodeToString(raw)})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.GetStatus().State == sourcemgr.StateCameraActive {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected camera to transition to CAMERA_ACTIVE after a valid frame, got %s", mgr.GetStatus().State)
}

func TestEndpoint_ThrottlesFramesFasterThanTargetRate(t *testing.T) {
	ep, mgr := newTestEndpoint(t, 5) // 200ms interval, throttle below 100ms
	srv := httptest.NewServer(http.HandlerFunc(ep.ServeHTTP))
	defer srv.Close()

	mgr.Switch("camera", "")
	conn := dialPhoneWS(t, srv)

	raw := validJPEGBytes(minValidJPEGBytes + 10)
	payload, _ := json.Marshal(inboundMsg{Frame: base64.StdEncoding.EncodeToString(raw)})

	conn.WriteMessage(websocket.TextMessage, payload)
	conn.WriteMessage(websocket.TextMessage, payload) // sent immediately after, should be throttled

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected throttle feedback message, got error: %v", err)
	}
	var fb feedbackMsg
	if jsonErr := json.Unmarshal(data, &fb); jsonErr != nil {
		t.Fatalf("decode feedback: %v", jsonErr)
	}
	if fb.Status != "throttle" {
		t.Fatalf("expected status=throttle, got %q", fb.Status)
	}
}

func TestEndpoint_NewConnectionKicksPreviousPhone(t *testing.T) {
	ep, _ := newTestEndpoint(t, 12)
	srv := httptest.NewServer(http.HandlerFunc(ep.ServeHTTP))
	defer srv.Close()

	first := dialPhoneWS(t, srv)
	second := dialPhoneWS(t, srv)
	_ = second

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	if err == nil {
		t.Fatalf("expected the first connection to be closed once a second phone connects")
	}
}

func TestEndpoint_DisconnectNotifiesManager(t *testing.T) {
	ep, mgr := newTestEndpoint(t, 12)
	srv := httptest.NewServer(http.HandlerFunc(ep.ServeHTTP))
	defer srv.Close()

	mgr.Switch("camera", "")
	conn := dialPhoneWS(t, srv)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.GetStatus().State == sourcemgr.StateIdle {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected manager to detach to IDLE after phone disconnect, got %s", mgr.GetStatus().State)
}
