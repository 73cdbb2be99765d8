// Package phoneingress implements the phone upload endpoint: a WebSocket
// channel that accepts at most one bound phone connection, rate-limits
// inbound frames, validates JPEG payloads, and pushes accepted frames into
// the source manager's bound PhoneSource.
package phoneingress

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jaldrishti/videocore/internal/logging"
	"github.com/jaldrishti/videocore/internal/metrics"
	"github.com/jaldrishti/videocore/internal/sourcemgr"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// normalClosure is the WebSocket close code used when a new phone
// connection displaces the previously bound one.
const normalClosure = websocket.CloseNormalClosure

type inboundMsg struct {
	Frame string `json:"frame"`
}

type feedbackMsg struct {
	Status string `json:"status"`
	WaitMS int    `json:"wait_ms"`
}

// Endpoint serves the phone upload WebSocket and enforces the
// at-most-one-bound-phone invariant.
type Endpoint struct {
	mgr *sourcemgr.Manager

	targetFPS     float64
	frameInterval time.Duration

	mu     sync.Mutex
	active *websocket.Conn
}

// New builds an Endpoint bound to mgr. targetFPS sets the enforced
// minimum inter-frame interval.
func New(mgr *sourcemgr.Manager, targetFPS float64) *Endpoint {
	return &Endpoint{
		mgr:           mgr,
		targetFPS:     targetFPS,
		frameInterval: time.Duration(float64(time.Second) / targetFPS),
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs the upload
// session until disconnect.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.IncError(metrics.ErrPhoneUpgrade)
		logging.L().Warn("phone_ws_upgrade_failed", "error", err)
		return
	}

	e.bind(conn)
	defer e.unbind(conn)

	logging.L().Info("phone_connected")
	var lastFrameTime time.Time
	framesReceived := 0

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logging.L().Info("phone_disconnected", "frames_received", framesReceived)
			return
		}

		var msg inboundMsg
		if jsonErr := json.Unmarshal(data, &msg); jsonErr != nil || msg.Frame == "" {
			continue
		}

		now := time.Now()
		if !lastFrameTime.IsZero() && now.Sub(lastFrameTime) < e.frameInterval/2 {
			metrics.IncPhoneFramesThrottled()
			e.sendFeedback(conn, "throttle", e.frameInterval)
			continue
		}
		lastFrameTime = now

		pixels, ok := decodeAndValidate(msg.Frame)
		if !ok {
			metrics.IncError(metrics.ErrPhoneDecode)
			metrics.IncPhoneFramesRejected()
			continue
		}

		ps := e.mgr.PhoneSource()
		if ps == nil {
			// No camera source currently attached; drop silently.
			continue
		}
		accepted := ps.Inject(pixels)
		e.mgr.OnFrameReceived()
		framesReceived++
		if !accepted {
			metrics.IncPhoneFramesRejected()
			e.sendFeedback(conn, "slow_down", 2*e.frameInterval)
		}
	}
}

func (e *Endpoint) sendFeedback(conn *websocket.Conn, status string, wait time.Duration) {
	b, err := json.Marshal(feedbackMsg{Status: status, WaitMS: int(wait.Milliseconds())})
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

// bind displaces any previously bound phone connection before taking
// over; at most one phone upstream exists at a time.
func (e *Endpoint) bind(conn *websocket.Conn) {
	e.mu.Lock()
	prev := e.active
	e.active = conn
	e.mu.Unlock()
	if prev != nil {
		_ = prev.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(normalClosure, "new phone connected"),
			time.Now().Add(time.Second))
		_ = prev.Close()
		logging.L().Info("phone_kicked_for_new_connection")
	}
}

func (e *Endpoint) unbind(conn *websocket.Conn) {
	e.mu.Lock()
	wasActive := e.active == conn
	if wasActive {
		e.active = nil
	}
	e.mu.Unlock()
	_ = conn.Close()
	// Only notify disconnection if this connection was still the bound one;
	// a connection displaced by bind() must not tear down its successor.
	if wasActive {
		e.mgr.NotifyCameraDisconnected()
	}
}

// minValidJPEGBytes guards against truncated uploads: a real camera frame
// is never this small.
const minValidJPEGBytes = 1000

// decodeAndValidate base64-decodes payload and checks it is a plausible
// JPEG (SOI/EOI magic bytes, minimum size) before handing it to the
// source. Decode failures drop the frame silently.
func decodeAndValidate(payload string) ([]byte, bool) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	if !isValidJPEG(raw) {
		return nil, false
	}
	return raw, true
}

func isValidJPEG(data []byte) bool {
	if len(data) < minValidJPEGBytes {
		return false
	}
	if data[0] != 0xFF || data[1] != 0xD8 {
		return false
	}
	if data[len(data)-2] != 0xFF || data[len(data)-1] != 0xD9 {
		return false
	}
	return true
}
