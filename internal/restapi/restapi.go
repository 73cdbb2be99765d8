// Package restapi implements the control REST surface: source
// selection/upload/status, server connection info, and viewer
// allow/revoke/list. Handlers never await the inference collaborator,
// only the source manager's synchronous, non-blocking operations.
package restapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jaldrishti/videocore/internal/logging"
	"github.com/jaldrishti/videocore/internal/metrics"
	"github.com/jaldrishti/videocore/internal/sourcemgr"
	"github.com/jaldrishti/videocore/internal/viewerhub"
)

var allowedVideoExtensions = map[string]struct{}{
	".mp4":  {},
	".avi":  {},
	".mov":  {},
	".mkv":  {},
	".webm": {},
}

// API wires the Source Manager and Viewer Hub to an HTTP router.
type API struct {
	mgr       *sourcemgr.Manager
	hub       *viewerhub.Hub
	uploadDir string
}

// New builds an API. uploadDir is created (including parents) by the upload
// handler if it is missing when a file is uploaded.
func New(mgr *sourcemgr.Manager, hub *viewerhub.Hub, uploadDir string) *API {
	return &API{mgr: mgr, hub: hub, uploadDir: uploadDir}
}

// Router builds the router exposing the control endpoints.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/source/select", a.handleSourceSelect).Methods(http.MethodPost)
	r.HandleFunc("/api/source/upload", a.handleSourceUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/source/status", a.handleSourceStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/server/info", a.handleServerInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/viewers/connected", a.handleViewersConnected).Methods(http.MethodGet)
	r.HandleFunc("/api/viewers/allow", a.handleViewerAllow).Methods(http.MethodPost)
	r.HandleFunc("/api/viewers/revoke", a.handleViewerRevoke).Methods(http.MethodPost)
	return r
}

type sourceSelectRequest struct {
	Type      string `json:"type"`
	VideoPath string `json:"video_path"`
}

type sourceSelectResponse struct {
	Success bool   `json:"success"`
	State   string `json:"state,omitempty"`
	Source  string `json:"source,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleSourceSelect switches the active source. It never blocks on the
// inference collaborator; Manager.Switch returns within a sub-second
// budget.
func (a *API) handleSourceSelect(w http.ResponseWriter, r *http.Request) {
	var req sourceSelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sourceSelectResponse{Success: false, Error: "invalid request body"})
		return
	}
	result := a.mgr.Switch(req.Type, req.VideoPath)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, sourceSelectResponse{
		Success: result.Success,
		State:   string(result.State),
		Source:  result.Source,
		Error:   result.Error,
	})
}

type videoUploadResponse struct {
	Success  bool   `json:"success"`
	FilePath string `json:"file_path,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleSourceUpload accepts a multipart video container file and saves it
// under uploadDir, validating its extension against the allow-list.
func (a *API) handleSourceUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, videoUploadResponse{Success: false, Error: "missing file field"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := allowedVideoExtensions[ext]; !ok {
		writeJSON(w, http.StatusBadRequest, videoUploadResponse{
			Success: false,
			Error:   "invalid file type. Supported: mp4, avi, mov, mkv, webm",
		})
		return
	}

	if err := os.MkdirAll(a.uploadDir, 0o755); err != nil {
		metrics.IncError(metrics.ErrUploadWrite)
		writeJSON(w, http.StatusInternalServerError, videoUploadResponse{Success: false, Error: err.Error()})
		return
	}
	destPath := filepath.Join(a.uploadDir, filepath.Base(header.Filename))
	dest, err := os.Create(destPath)
	if err != nil {
		metrics.IncError(metrics.ErrUploadWrite)
		writeJSON(w, http.StatusInternalServerError, videoUploadResponse{Success: false, Error: err.Error()})
		return
	}
	defer dest.Close()

	if _, err := io.Copy(dest, file); err != nil {
		metrics.IncError(metrics.ErrUploadWrite)
		writeJSON(w, http.StatusInternalServerError, videoUploadResponse{Success: false, Error: err.Error()})
		return
	}

	logging.L().Info("video_uploaded", "path", destPath)
	writeJSON(w, http.StatusOK, videoUploadResponse{Success: true, FilePath: destPath})
}

type sourceStatusResponse struct {
	State       string  `json:"state"`
	Source      string  `json:"source"`
	LastFrameTS float64 `json:"last_frame_ts"`
}

func (a *API) handleSourceStatus(w http.ResponseWriter, r *http.Request) {
	st := a.mgr.GetStatus()
	var ts float64
	if !st.LastFrameTS.IsZero() {
		ts = float64(st.LastFrameTS.UnixNano()) / 1e9
	}
	writeJSON(w, http.StatusOK, sourceStatusResponse{
		State:       string(st.State),
		Source:      st.Source,
		LastFrameTS: ts,
	})
}

type serverInfoResponse struct {
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	CameraURL string `json:"camera_url"`
}

// handleServerInfo reports this machine's LAN-facing IP, derived from the
// outbound route of a UDP "connection" to a public address. No traffic is
// actually sent; dialing UDP only resolves the local route.
func (a *API) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	ip := lanIP()
	port := requestPort(r)
	writeJSON(w, http.StatusOK, serverInfoResponse{
		IP:        ip,
		Port:      port,
		CameraURL: fmt.Sprintf("ws://%s:%d/ws/phone", ip, port),
	})
}

func lanIP() string {
	conn, err := net.DialTimeout("udp", "8.8.8.8:80", 100*time.Millisecond)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

func requestPort(r *http.Request) int {
	if _, p, err := net.SplitHostPort(r.Host); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	return 9000
}

type viewerInfo struct {
	ViewerID    string  `json:"viewer_id"`
	Label       string  `json:"label"`
	Allowed     bool    `json:"allowed"`
	ConnectedAt float64 `json:"connected_at"`
}

type viewerListResponse struct {
	Viewers []viewerInfo `json:"viewers"`
	Total   int          `json:"total"`
	Allowed int          `json:"allowed"`
	Blocked int          `json:"blocked"`
}

func (a *API) handleViewersConnected(w http.ResponseWriter, r *http.Request) {
	infos, total, allowed, blocked := a.hub.List()
	out := make([]viewerInfo, 0, len(infos))
	for _, v := range infos {
		out = append(out, viewerInfo{
			ViewerID:    v.ViewerID,
			Label:       v.Label,
			Allowed:     v.Allowed,
			ConnectedAt: float64(v.ConnectedAt.UnixNano()) / 1e9,
		})
	}
	writeJSON(w, http.StatusOK, viewerListResponse{Viewers: out, Total: total, Allowed: allowed, Blocked: blocked})
}

type viewerActionRequest struct {
	ViewerID string `json:"viewer_id"`
}

type viewerActionResponse struct {
	Success  bool   `json:"success"`
	ViewerID string `json:"viewer_id"`
	Message  string `json:"message"`
}

func (a *API) handleViewerAllow(w http.ResponseWriter, r *http.Request) {
	a.handleViewerAction(w, r, a.hub.Allow, "Viewer allowed", "Viewer not found")
}

func (a *API) handleViewerRevoke(w http.ResponseWriter, r *http.Request) {
	a.handleViewerAction(w, r, a.hub.Revoke, "Viewer blocked", "Viewer not found")
}

func (a *API) handleViewerAction(w http.ResponseWriter, r *http.Request, action func(string) bool, okMsg, failMsg string) {
	var req viewerActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, viewerActionResponse{Success: false, Message: "invalid request body"})
		return
	}
	ok := action(req.ViewerID)
	msg := okMsg
	if !ok {
		msg = failMsg
	}
	writeJSON(w, http.StatusOK, viewerActionResponse{Success: ok, ViewerID: req.ViewerID, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
