package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jaldrishti/videocore/internal/metrics"
)

// startMetricsLogger periodically logs the local metrics snapshot, for
// deployments without a Prometheus scraper.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frames_raw", snap.FramesRaw,
					"frames_enhanced", snap.FramesEnhanced,
					"inference_requests", snap.InferenceRequests,
					"safe_mode_transitions", snap.SafeModeTransitions,
					"viewer_broadcast_dropped", snap.ViewerBroadcastDropped,
					"viewers_active", snap.ViewersActive,
					"phone_frames_throttled", snap.PhoneFramesThrottled,
					"phone_frames_rejected", snap.PhoneFramesRejected,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
