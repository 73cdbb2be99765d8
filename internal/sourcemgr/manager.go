// Package sourcemgr implements the source manager: a singleton state
// machine that hot-swaps the active frame source while keeping the
// inference worker alive across swaps.
package sourcemgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jaldrishti/videocore/internal/inference"
	"github.com/jaldrishti/videocore/internal/logging"
	"github.com/jaldrishti/videocore/internal/metrics"
	"github.com/jaldrishti/videocore/internal/scheduler"
	"github.com/jaldrishti/videocore/internal/sourceio"
	"github.com/jaldrishti/videocore/internal/viewerhub"
)

// State is the source manager's current lifecycle state.
type State string

const (
	StateIdle          State = "IDLE"
	StateVideoActive   State = "VIDEO_ACTIVE"
	StateCameraWaiting State = "CAMERA_WAITING"
	StateCameraActive  State = "CAMERA_ACTIVE"
	StateError         State = "ERROR"
)

const (
	defaultWatchdogPollInterval = 2 * time.Second
	defaultCameraStallTimeout   = 15 * time.Second
	defaultDetachJoinTimeout    = 2 * time.Second
)

var (
	// ErrUnknownSourceType is returned by Switch for an unrecognized type.
	ErrUnknownSourceType = errors.New("sourcemgr: unknown source type")
	// ErrOpenFailed is returned by Switch when the requested source
	// cannot be opened.
	ErrOpenFailed = errors.New("sourcemgr: open failed")
)

// Manager is the process-wide singleton coordinating source lifecycle. It
// is constructed once at boot and passed by dependency injection.
type Manager struct {
	worker *inference.Worker
	hub    *viewerhub.Hub

	targetFPS           float64
	clearResultOnDetach bool

	watchdogPollInterval time.Duration
	cameraStallTimeout   time.Duration
	detachJoinTimeout    time.Duration

	mu          sync.Mutex
	state       State
	sourceLabel string
	source      sourceio.Source
	sched       *scheduler.Scheduler
	schedCancel context.CancelFunc
	lastFrameTS time.Time
	phoneSource *sourceio.PhoneSource

	watchdogStop chan struct{}
	watchdogWG   sync.WaitGroup
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithCameraStallTimeout overrides the watchdog's no-frame stall window
// (default 15s).
func WithCameraStallTimeout(d time.Duration) Option {
	return func(m *Manager) { m.cameraStallTimeout = d }
}

// WithWatchdogInterval overrides the watchdog's poll interval (default 2s).
func WithWatchdogInterval(d time.Duration) Option {
	return func(m *Manager) { m.watchdogPollInterval = d }
}

// WithDetachJoinTimeout overrides how long detach waits for the scheduler
// to exit before giving up (default 2s).
func WithDetachJoinTimeout(d time.Duration) Option {
	return func(m *Manager) { m.detachJoinTimeout = d }
}

// New constructs a Manager in the IDLE state and starts its watchdog.
// clearResultOnDetach controls whether the worker's cached result is
// dropped on detach, so a new attach never serves the old source's pixels.
func New(worker *inference.Worker, hub *viewerhub.Hub, targetFPS float64, clearResultOnDetach bool, opts ...Option) *Manager {
	m := &Manager{
		worker:               worker,
		hub:                  hub,
		targetFPS:            targetFPS,
		clearResultOnDetach:  clearResultOnDetach,
		state:                StateIdle,
		watchdogStop:         make(chan struct{}),
		watchdogPollInterval: defaultWatchdogPollInterval,
		cameraStallTimeout:   defaultCameraStallTimeout,
		detachJoinTimeout:    defaultDetachJoinTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.watchdogWG.Add(1)
	go m.watchdog()
	return m
}

// setStateLocked records a state transition. Caller must hold m.mu.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	logging.L().Info("source_state_transition", "from", string(m.state), "to", string(s))
	metrics.IncSourceStateTransition()
	m.state = s
}

// SwitchResult is returned by Switch.
type SwitchResult struct {
	Success bool
	State   State
	Source  string
	Error   string
}

// Switch attaches a new source, detaching the current one first if needed.
// It returns within a sub-second budget and never awaits the inference
// collaborator.
func (m *Manager) Switch(sourceType, videoPath string) SwitchResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.detachLocked()

	switch sourceType {
	case "video":
		fs, err := sourceio.NewFileSource(videoPath, true)
		if err != nil {
			metrics.IncError(metrics.ErrSourceOpen)
			m.setStateLocked(StateError)
			return SwitchResult{Success: false, State: m.state, Error: fmt.Errorf("%w: %v", ErrOpenFailed, err).Error()}
		}
		m.source = fs
		m.sourceLabel = videoPath
		m.setStateLocked(StateVideoActive)
		m.startSchedulerLocked(fs)
		return SwitchResult{Success: true, State: m.state, Source: videoPath}

	case "camera":
		ps := sourceio.NewPhoneSource()
		m.phoneSource = ps
		m.source = ps
		m.sourceLabel = "camera"
		m.setStateLocked(StateCameraWaiting)
		m.lastFrameTS = time.Now()
		m.startSchedulerLocked(ps)
		return SwitchResult{Success: true, State: m.state, Source: "camera"}

	default:
		m.setStateLocked(StateIdle)
		return SwitchResult{Success: false, State: m.state, Error: ErrUnknownSourceType.Error()}
	}
}

func (m *Manager) startSchedulerLocked(src sourceio.Source) {
	ctx, cancel := context.WithCancel(context.Background())
	sch := scheduler.New(src, m.worker, m.hub, m.targetFPS)
	m.sched = sch
	m.schedCancel = cancel
	go sch.Run(ctx)
}

// detachLocked stops the current source, joins the scheduler with a short
// timeout, and resets per-attach state. Caller must hold m.mu.
func (m *Manager) detachLocked() {
	if m.source == nil {
		return
	}
	m.source.Stop()
	if m.schedCancel != nil {
		m.schedCancel()
	}
	if m.sched != nil {
		select {
		case <-m.sched.Done():
		case <-time.After(m.detachJoinTimeout):
			logging.L().Warn("scheduler_detach_timeout")
		}
	}
	m.source = nil
	m.sched = nil
	m.schedCancel = nil
	m.phoneSource = nil
	m.lastFrameTS = time.Time{}
	if m.clearResultOnDetach {
		m.worker.ClearLastResult()
	}
	m.setStateLocked(StateIdle)
}

// detach is the lock-taking form of detachLocked, used by the watchdog, by
// NotifyCameraDisconnected and by Shutdown.
func (m *Manager) detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detachLocked()
}

// OnFrameReceived transitions CAMERA_WAITING -> CAMERA_ACTIVE and refreshes
// the watchdog's liveness timestamp. Called by the phone ingress endpoint
// on every accepted frame.
func (m *Manager) OnFrameReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFrameTS = time.Now()
	if m.state == StateCameraWaiting {
		m.setStateLocked(StateCameraActive)
	}
}

// NotifyCameraDisconnected detaches the current source without
// auto-fallback.
func (m *Manager) NotifyCameraDisconnected() {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state == StateCameraWaiting || state == StateCameraActive {
		m.detach()
	}
}

// PhoneSource returns the currently bound PhoneSource, or nil if the
// active source is not a camera.
func (m *Manager) PhoneSource() *sourceio.PhoneSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phoneSource
}

// Status is the response shape for GET /api/source/status.
type Status struct {
	State       State     `json:"state"`
	Source      string    `json:"source"`
	LastFrameTS time.Time `json:"last_frame_ts"`
}

// GetStatus returns the manager's current status.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Source: m.sourceLabel, LastFrameTS: m.lastFrameTS}
}

// Shutdown stops the watchdog and detaches any active source.
func (m *Manager) Shutdown() {
	close(m.watchdogStop)
	m.watchdogWG.Wait()
	m.detach()
}

// watchdog polls every watchdogPollInterval and detaches a stalled camera
// source. It is frame-driven, not wall-clock-from-start: the window resets
// whenever a frame is observed, tolerating legitimate startup latency.
func (m *Manager) watchdog() {
	defer m.watchdogWG.Done()
	t := time.NewTicker(m.watchdogPollInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.mu.Lock()
			state := m.state
			lastFrame := m.lastFrameTS
			m.mu.Unlock()
			if state != StateCameraWaiting && state != StateCameraActive {
				continue
			}
			if time.Since(lastFrame) > m.cameraStallTimeout {
				logging.L().Info("camera_stall_detach", "since_last_frame", time.Since(lastFrame))
				m.detach()
			}
		case <-m.watchdogStop:
			return
		}
	}
}
