// Package frame holds the data types shared between the frame sources, the
// inference pipeline and the fan-out layer.
package frame

import "time"

// Frame is a single decoded image handed from a source to the scheduler.
// FrameID is monotonically increasing per source attach and resets to 0
// whenever the Source Manager attaches a new source.
type Frame struct {
	Pixels   []byte // JPEG-encoded bytes; sources decode/re-encode as needed
	FrameID  uint64
	SourceTS time.Time
}

// Detection is a single object detection reported by the inference
// collaborator.
type Detection struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"` // x, y, w, h
}

// State mirrors the inference collaborator's reported operating state.
type State string

const (
	StateNormal   State = "NORMAL"
	StateSafeMode State = "SAFE_MODE"
)

// InferenceResult is either a real response from the inference collaborator
// or a synthetic SAFE_MODE placeholder produced locally when the
// collaborator is unreachable or too slow.
type InferenceResult struct {
	FrameID       uint64
	Detections    []Detection
	MaxConfidence float64
	State         State
	EnhancedImage string // optional, base64-encoded JPEG
	MLAvailable   bool
	MLLatencyMS   float64
	MLFPS         float64
	CompletionTS  time.Time
}

// SafeModeResult builds the placeholder emitted whenever the inference
// collaborator is considered unavailable.
func SafeModeResult(frameID uint64) InferenceResult {
	return InferenceResult{
		FrameID:       frameID,
		Detections:    nil,
		MaxConfidence: 0,
		State:         StateSafeMode,
		MLAvailable:   false,
		CompletionTS:  time.Now(),
	}
}
