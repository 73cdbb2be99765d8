package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/jaldrishti/videocore/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	FramesRawTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_raw_emitted_total",
		Help: "Total raw frames broadcast to viewers.",
	})
	FramesEnhancedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_enhanced_emitted_total",
		Help: "Total enhanced/data frames broadcast to viewers.",
	})
	InferenceRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inference_requests_total",
		Help: "Total inference calls to the collaborator service that completed successfully.",
	})
	InferenceLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inference_latency_ms",
		Help:    "Inference call round-trip latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
	SafeModeTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inference_safe_mode_transitions_total",
		Help: "Total transitions into inference safe mode.",
	})
	SafeModeFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inference_safe_mode_frames_total",
		Help: "Total frames answered with the safe-mode placeholder.",
	})
	ViewerBroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewer_broadcast_dropped_total",
		Help: "Total broadcast sends dropped after the per-viewer send deadline.",
	})
	ViewerActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "viewer_active_gauge",
		Help: "Current number of registered viewer connections.",
	})
	PhoneFramesThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phone_frames_throttled_total",
		Help: "Total phone-uploaded frames rejected by the ingress rate throttle.",
	})
	PhoneFramesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phone_frames_rejected_total",
		Help: "Total phone-uploaded frames rejected for reasons other than throttling.",
	})
	SourceStateTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "source_state_transitions_total",
		Help: "Total Source Manager state transitions.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrInferenceCall = "inference_call"
	ErrSourceOpen    = "source_open"
	ErrViewerUpgrade = "viewer_upgrade"
	ErrPhoneUpgrade  = "phone_upgrade"
	ErrPhoneDecode   = "phone_decode"
	ErrUploadWrite   = "upload_write"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap periodic logging without scraping
// Prometheus in-process.
var (
	localFramesRaw            uint64
	localFramesEnhanced       uint64
	localInferenceRequests    uint64
	localSafeModeTransitions  uint64
	localViewerBroadcastDrop  uint64
	localViewersActive        uint64
	localPhoneFramesThrottled uint64
	localPhoneFramesRejected  uint64
	localErrors               uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	FramesRaw              uint64
	FramesEnhanced         uint64
	InferenceRequests      uint64
	SafeModeTransitions    uint64
	ViewerBroadcastDropped uint64
	ViewersActive          uint64
	PhoneFramesThrottled   uint64
	PhoneFramesRejected    uint64
	Errors                 uint64
}

func Snap() Snapshot {
	return Snapshot{
		FramesRaw:              atomic.LoadUint64(&localFramesRaw),
		FramesEnhanced:         atomic.LoadUint64(&localFramesEnhanced),
		InferenceRequests:      atomic.LoadUint64(&localInferenceRequests),
		SafeModeTransitions:    atomic.LoadUint64(&localSafeModeTransitions),
		ViewerBroadcastDropped: atomic.LoadUint64(&localViewerBroadcastDrop),
		ViewersActive:          atomic.LoadUint64(&localViewersActive),
		PhoneFramesThrottled:   atomic.LoadUint64(&localPhoneFramesThrottled),
		PhoneFramesRejected:    atomic.LoadUint64(&localPhoneFramesRejected),
		Errors:                 atomic.LoadUint64(&localErrors),
	}
}

// IncFramesRaw records one raw-frame broadcast.
func IncFramesRaw() {
	FramesRawTotal.Inc()
	atomic.AddUint64(&localFramesRaw, 1)
}

// IncFramesEnhanced records one enhanced/data-frame broadcast.
func IncFramesEnhanced() {
	FramesEnhancedTotal.Inc()
	atomic.AddUint64(&localFramesEnhanced, 1)
}

// ObserveInferenceLatency records one completed inference call's latency
// in milliseconds.
func ObserveInferenceLatency(ms float64) {
	InferenceRequestsTotal.Inc()
	InferenceLatencyMS.Observe(ms)
	atomic.AddUint64(&localInferenceRequests, 1)
}

// IncInferenceSafeMode records a frame answered with the safe-mode
// placeholder. State-edge bookkeeping (the first frame of a safe-mode run)
// is the caller's responsibility via IncSafeModeTransition.
func IncInferenceSafeMode() {
	SafeModeFrames.Inc()
}

// IncSafeModeTransition records an edge transition into safe mode.
func IncSafeModeTransition() {
	SafeModeTransitions.Inc()
	atomic.AddUint64(&localSafeModeTransitions, 1)
}

// IncViewerDropped records a broadcast send dropped past its deadline.
func IncViewerDropped() {
	ViewerBroadcastDropped.Inc()
	atomic.AddUint64(&localViewerBroadcastDrop, 1)
}

// SetViewerActive sets the current registered-viewer gauge.
func SetViewerActive(n int) {
	ViewerActiveGauge.Set(float64(n))
	atomic.StoreUint64(&localViewersActive, uint64(n))
}

// IncPhoneFramesThrottled records a phone frame rejected by the rate throttle.
func IncPhoneFramesThrottled() {
	PhoneFramesThrottled.Inc()
	atomic.AddUint64(&localPhoneFramesThrottled, 1)
}

// IncPhoneFramesRejected records a phone frame rejected for any other
// reason (decode failure, slot already occupied).
func IncPhoneFramesRejected() {
	PhoneFramesRejected.Inc()
	atomic.AddUint64(&localPhoneFramesRejected, 1)
}

// IncSourceStateTransition records a Source Manager state transition.
func IncSourceStateTransition() {
	SourceStateTransitions.Inc()
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrInferenceCall, ErrSourceOpen, ErrViewerUpgrade, ErrPhoneUpgrade, ErrPhoneDecode, ErrUploadWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
