package viewerhub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jaldrishti/videocore/internal/logging"
)

// handshakeTimeout bounds how long the server waits for the viewer's
// identification message after accepting the connection.
const handshakeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type identifyMsg struct {
	ViewerID string `json:"viewer_id"`
	Label    string `json:"label"`
}

type systemMsg struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	ViewerID string `json:"viewer_id,omitempty"`
	Allowed  *bool  `json:"allowed,omitempty"`
}

// ServeWS upgrades the HTTP request to a WebSocket and runs the viewer
// session (handshake, register, read/write pumps) until the connection
// closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.L().Warn("viewer_ws_upgrade_failed", "error", err)
		return
	}

	viewerID, label := h.identify(conn)
	c := h.Register(viewerID, label)
	if c == nil {
		msg := systemMsg{Type: "system", Status: "error", Message: "viewer capacity reached"}
		if b, merr := json.Marshal(msg); merr == nil {
			_ = conn.WriteMessage(websocket.TextMessage, b)
		}
		_ = conn.Close()
		return
	}
	defer h.remove(c)

	allowed := c.Allowed()
	announce := systemMsg{
		Type:     "system",
		Status:   "connected",
		Message:  "WebSocket connection established",
		ViewerID: viewerID,
		Allowed:  &allowed,
	}
	if b, err := json.Marshal(announce); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.writePump(ctx, conn, c)
	h.readPump(conn) // blocks until disconnect; passive subscriber
}

// identify waits up to handshakeTimeout for the client's {viewer_id,label}
// JSON object; on timeout or malformed input it assigns a fresh UUID and
// the "Unknown Device" label.
func (h *Hub) identify(conn *websocket.Conn) (viewerID, label string) {
	label = "Unknown Device"
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := conn.ReadMessage()
	_ = conn.SetReadDeadline(time.Time{})
	if err == nil {
		var m identifyMsg
		if jsonErr := json.Unmarshal(data, &m); jsonErr == nil && m.ViewerID != "" {
			viewerID = m.ViewerID
			if m.Label != "" {
				label = m.Label
			}
			return
		}
	}
	viewerID = uuid.NewString()
	return
}

func (h *Hub) readPump(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		// Passive subscriber: inbound messages other than the initial
		// handshake are ignored.
	}
}

func (h *Hub) writePump(ctx context.Context, conn *websocket.Conn, c *Client) {
	defer func() { _ = conn.Close() }()
	for {
		select {
		case payload := <-c.RawOut:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(c)
				return
			}
		case payload := <-c.DataOut:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(c)
				return
			}
		case payload := <-c.SystemOut:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(c)
				return
			}
		case <-c.Closed:
			return
		case <-ctx.Done():
			return
		}
	}
}
