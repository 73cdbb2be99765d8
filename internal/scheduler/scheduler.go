// Package scheduler implements the pace-driven producer loop at the heart
// of the system. It pulls from a bound Source, fans raw frames out
// immediately, submits frames to the inference worker under the
// single-inflight admission rule, and emits a cached-enhanced payload every
// tick regardless of whether a new inference result has landed. Emitting
// from the cache decouples the output cadence from inference latency.
package scheduler

import (
	"bytes"
	"context"
	"image/jpeg"
	"sync/atomic"
	"time"

	"github.com/jaldrishti/videocore/internal/frame"
	"github.com/jaldrishti/videocore/internal/inference"
	"github.com/jaldrishti/videocore/internal/logging"
	"github.com/jaldrishti/videocore/internal/metrics"
	"github.com/jaldrishti/videocore/internal/sourceio"
	"github.com/jaldrishti/videocore/internal/viewerhub"
)

// Scheduler drives a single Source at a fixed cadence. One Scheduler exists
// per attached source; the Source Manager constructs and discards them
// across hot-swaps while the Worker and Hub persist.
type Scheduler struct {
	source    sourceio.Source
	worker    *inference.Worker
	hub       *viewerhub.Hub
	targetFPS float64

	done chan struct{}

	lastSafeMode atomic.Bool
}

// New constructs a Scheduler. It does not start running until Run is
// called on its own goroutine.
func New(source sourceio.Source, worker *inference.Worker, hub *viewerhub.Hub, targetFPS float64) *Scheduler {
	return &Scheduler{
		source:    source,
		worker:    worker,
		hub:       hub,
		targetFPS: targetFPS,
		done:      make(chan struct{}),
	}
}

// Done reports when Run has returned (source closed or ctx canceled).
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Run executes the paced loop until the source closes or ctx is canceled.
// It never blocks on the inference worker.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	interval := time.Duration(float64(time.Second) / s.targetFPS)

	for {
		fr, ok := s.source.Read(ctx)
		if !ok {
			return
		}
		now := time.Now()

		s.emitRaw(fr)
		s.worker.Submit(fr)
		s.emitEnhanced(fr, now)

		elapsed := time.Since(now)
		if sleep := interval - elapsed; sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Scheduler) emitRaw(fr frame.Frame) {
	w, h := jpegDimensions(fr.Pixels)
	s.hub.BroadcastRaw(viewerhub.EncodeRawFrame(fr, [2]int{h, w}))
	metrics.IncFramesRaw()
}

func (s *Scheduler) emitEnhanced(fr frame.Frame, now time.Time) {
	res := s.worker.LastResult()
	if res == nil {
		return
	}
	wasSafeMode := s.lastSafeMode.Load()
	nowSafeMode := res.State == frame.StateSafeMode
	if nowSafeMode && !wasSafeMode {
		s.hub.BroadcastSystem(viewerhub.EncodeSafeModeAnnouncement())
		metrics.IncSafeModeTransition()
		logging.L().Warn("inference_safe_mode_entered", "frame_id", fr.FrameID)
	}
	s.lastSafeMode.Store(nowSafeMode)

	payload := viewerhub.EncodeDataFrame(viewerhub.EmissionParams{
		FrameID:   fr.FrameID,
		Timestamp: now,
		Result:    *res,
		TargetFPS: s.targetFPS,
		IsCached:  s.worker.Busy(),
	})
	s.hub.BroadcastData(payload)
	metrics.IncFramesEnhanced()
}

// jpegDimensions reads only the JPEG header (not the full image) to report
// the resolution carried in the outbound RAW_FRAME message.
func jpegDimensions(payload []byte) (width, height int) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
