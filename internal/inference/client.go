// Package inference adapts the scheduler to the external inference
// collaborator's HTTP contract and hosts the single-inflight worker that
// drains the admission mailbox.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jaldrishti/videocore/internal/frame"
	"github.com/jaldrishti/videocore/internal/logging"
	"github.com/jaldrishti/videocore/internal/metrics"
)

const (
	defaultTimeoutCold     = 10 * time.Second
	defaultTimeoutWarm     = 500 * time.Millisecond
	defaultHealthInterval  = 5 * time.Second
	defaultMaxFailuresSafe = 2
)

// HealthStatus mirrors the inference collaborator's /health response.
type HealthStatus struct {
	Status        string  `json:"status"`
	Device        string  `json:"device"`
	FP16          bool    `json:"fp16"`
	Loaded        bool    `json:"loaded"`
	CUDAAvailable bool    `json:"cuda_available"`
	GPUName       string  `json:"gpu_name"`
	GPUMemoryGB   float64 `json:"gpu_memory_gb"`
}

type inferResponse struct {
	Status             string            `json:"status"`
	DeviceUsed         string            `json:"device_used"`
	InferenceLatencyMS float64           `json:"inference_latency_ms"`
	FrameID            uint64            `json:"frame_id"`
	Detections         []frame.Detection `json:"detections"`
	Confidence         float64           `json:"confidence"`
	ThreatState        string            `json:"threat_state"`
	EnhancedImage      string            `json:"enhanced_image"`
	ErrorMessage       string            `json:"error_message"`
}

// Client is a request/response adapter to the inference collaborator.
// It is safe for concurrent use, though in practice only the Worker calls
// Infer (single-inflight by construction).
type Client struct {
	http *resty.Client
	base string

	mu                  sync.Mutex
	available           bool
	lastHealthCheck     time.Time
	consecutiveFailures int
	warmedUp            bool
	device              atomic.Value // string

	healthInterval        time.Duration
	maxFailuresBeforeSafe int
	timeoutCold           time.Duration
	timeoutWarm           time.Duration
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithHealthInterval overrides the minimum interval between re-probes
// while the client believes the collaborator is unavailable.
func WithHealthInterval(d time.Duration) Option {
	return func(c *Client) { c.healthInterval = d }
}

// WithMaxFailuresBeforeSafeMode overrides the consecutive-failure count
// that trips the client into safe mode.
func WithMaxFailuresBeforeSafeMode(n int) Option {
	return func(c *Client) { c.maxFailuresBeforeSafe = n }
}

// WithTimeouts overrides the cold (pre-warm-up) and warm inference call
// timeouts.
func WithTimeouts(cold, warm time.Duration) Option {
	return func(c *Client) { c.timeoutCold = cold; c.timeoutWarm = warm }
}

// NewClient builds a Client pointed at baseURL (e.g. http://localhost:8001).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		http:                  resty.New(),
		base:                  baseURL,
		healthInterval:        defaultHealthInterval,
		maxFailuresBeforeSafe: defaultMaxFailuresSafe,
		timeoutCold:           defaultTimeoutCold,
		timeoutWarm:           defaultTimeoutWarm,
	}
	c.device.Store("")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Probe issues a synchronous health check. Resty carries per-call timeouts
// on the client, not the request, so the deadline rides on the context.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.currentTimeout())
	defer cancel()

	var hs HealthStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&hs).
		Get(c.base + "/health")

	c.mu.Lock()
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()

	if err != nil || resp.IsError() {
		c.setAvailable(false)
		if err == nil {
			err = fmt.Errorf("inference health check: status %d", resp.StatusCode())
		}
		return err
	}
	c.device.Store(hs.Device)
	c.setAvailable(true)
	return nil
}

func (c *Client) setAvailable(v bool) {
	c.mu.Lock()
	c.available = v
	c.mu.Unlock()
}

func (c *Client) currentTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warmedUp {
		return c.timeoutWarm
	}
	return c.timeoutCold
}

// Infer runs (or simulates) one inference call for fr.
func (c *Client) Infer(ctx context.Context, fr frame.Frame, sendEnhanced bool) frame.InferenceResult {
	c.mu.Lock()
	available := c.available
	stale := time.Since(c.lastHealthCheck) > c.healthInterval
	c.mu.Unlock()

	if !available {
		if stale {
			if err := c.Probe(ctx); err != nil {
				logging.L().Debug("inference_reprobe_failed", "error", err)
			}
		}
		c.mu.Lock()
		available = c.available
		c.mu.Unlock()
		if !available {
			metrics.IncInferenceSafeMode()
			return frame.SafeModeResult(fr.FrameID)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.currentTimeout())
	defer cancel()

	start := time.Now()
	sendFlag := "0"
	if sendEnhanced {
		sendFlag = "1"
	}
	var out inferResponse
	resp, err := c.http.R().
		SetContext(callCtx).
		SetFileReader("frame", "frame.jpg", bytes.NewReader(fr.Pixels)).
		SetFormData(map[string]string{
			"frame_id":      fmt.Sprintf("%d", fr.FrameID),
			"timestamp":     fmt.Sprintf("%f", float64(fr.SourceTS.UnixNano())/1e9),
			"send_enhanced": sendFlag,
		}).
		SetResult(&out).
		Post(c.base + "/infer")
	latency := time.Since(start)

	if err != nil {
		// A timeout counts toward the consecutive-failure threshold; a
		// refused or dropped connection marks the collaborator down at once.
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			c.onCallFailure()
		} else {
			c.onConnectionError()
		}
		metrics.IncInferenceSafeMode()
		return frame.SafeModeResult(fr.FrameID)
	}
	if resp.IsError() || out.Status != "success" {
		logging.L().Warn("inference_malformed_response",
			"http_status", resp.StatusCode(), "status", out.Status)
		c.onCallFailure()
		metrics.IncInferenceSafeMode()
		return frame.SafeModeResult(fr.FrameID)
	}

	c.onCallSuccess()
	metrics.ObserveInferenceLatency(latency.Seconds() * 1000)
	return frame.InferenceResult{
		FrameID:       fr.FrameID,
		Detections:    out.Detections,
		MaxConfidence: out.Confidence,
		State:         frame.StateNormal,
		EnhancedImage: out.EnhancedImage,
		MLAvailable:   true,
		MLLatencyMS:   latency.Seconds() * 1000,
		CompletionTS:  time.Now(),
	}
}

// onCallFailure increments the consecutive-failure counter; once it reaches
// maxFailuresBeforeSafe the client marks itself unavailable.
func (c *Client) onCallFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures++
	if c.consecutiveFailures >= c.maxFailuresBeforeSafe {
		c.available = false
	}
}

func (c *Client) onConnectionError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = false
	c.consecutiveFailures++
}

func (c *Client) onCallSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures = 0
	c.available = true
	if !c.warmedUp {
		c.warmedUp = true
	}
}

// Available reports the client's current availability belief.
func (c *Client) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// Device returns the last-probed device identifier, if any.
func (c *Client) Device() string {
	v, _ := c.device.Load().(string)
	return v
}
