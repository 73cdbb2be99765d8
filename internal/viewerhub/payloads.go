package viewerhub

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/jaldrishti/videocore/internal/frame"
)

// RawFrame is the outbound "RAW_FRAME" message shape.
type RawFrame struct {
	Type       string  `json:"type"`
	FrameID    uint64  `json:"frame_id"`
	Timestamp  float64 `json:"timestamp"`
	Image      string  `json:"image"`
	Resolution [2]int  `json:"resolution"`
}

// EncodeRawFrame builds the wire bytes for a raw frame emission.
func EncodeRawFrame(fr frame.Frame, resolution [2]int) []byte {
	b, _ := json.Marshal(RawFrame{
		Type:       "RAW_FRAME",
		FrameID:    fr.FrameID,
		Timestamp:  float64(fr.SourceTS.UnixNano()) / 1e9,
		Image:      base64.StdEncoding.EncodeToString(fr.Pixels),
		Resolution: resolution,
	})
	return b
}

type dataSystem struct {
	FPS         float64 `json:"fps"`
	LatencyMS   float64 `json:"latency_ms"`
	MLFPS       float64 `json:"ml_fps"`
	MLAvailable bool    `json:"ml_available"`
}

type dataPayload struct {
	FrameID       uint64             `json:"frame_id"`
	Timestamp     float64            `json:"timestamp"`
	Detections    []frame.Detection  `json:"detections"`
	MaxConfidence float64            `json:"max_confidence"`
	State         frame.State        `json:"state"`
	ImageData     string             `json:"image_data,omitempty"`
	System        dataSystem         `json:"system"`
	IsCached      bool               `json:"is_cached"`
}

type dataFrame struct {
	Type    string      `json:"type"`
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Payload dataPayload `json:"payload"`
}

// EmissionParams carries the values the paced scheduler computes each tick
// to build a cached-enhanced emission. FrameID and Timestamp come from the
// current tick, not from the cached result.
type EmissionParams struct {
	FrameID   uint64
	Timestamp time.Time
	Result    frame.InferenceResult
	TargetFPS float64
	IsCached  bool
}

// EncodeDataFrame builds the wire bytes for an enhanced/data emission.
func EncodeDataFrame(p EmissionParams) []byte {
	b, _ := json.Marshal(dataFrame{
		Type:    "data",
		Status:  "success",
		Message: "New frame data",
		Payload: dataPayload{
			FrameID:       p.FrameID,
			Timestamp:     float64(p.Timestamp.UnixNano()) / 1e9,
			Detections:    p.Result.Detections,
			MaxConfidence: p.Result.MaxConfidence,
			State:         p.Result.State,
			ImageData:     p.Result.EnhancedImage,
			System: dataSystem{
				FPS:         p.TargetFPS,
				LatencyMS:   p.Result.MLLatencyMS,
				MLFPS:       p.Result.MLFPS,
				MLAvailable: p.Result.MLAvailable,
			},
			IsCached: p.IsCached,
		},
	})
	return b
}

// EncodeSafeModeAnnouncement builds the system announcement broadcast on
// safe-mode entry.
func EncodeSafeModeAnnouncement() []byte {
	b, _ := json.Marshal(systemMsg{
		Type:    "system",
		Status:  "safe_mode",
		Message: "inference collaborator unavailable; serving safe-mode frames",
	})
	return b
}
