package config

import (
	"flag"
	"time"
)

// flagSet bundles the parsed *flag.FlagSet with the pointers it populated
// so Parse can both build a Config and know which flags were explicitly
// set (for env-override precedence).
type flagSet struct {
	fs       *flag.FlagSet
	version  bool
	explicit map[string]struct{}

	listenAddr  *string
	metricsAddr *string

	targetFPS          *float64
	cameraStallTimeout *time.Duration
	watchdogInterval   *time.Duration
	phoneTargetFPS     *float64

	mlEngineURL      *string
	mlTimeoutCold    *time.Duration
	mlTimeoutWarm    *time.Duration
	mlHealthInterval *time.Duration
	mlMaxFailures    *int

	viewerSendDeadline *time.Duration
	maxViewers         *int

	uploadDir *string

	clearResultOnDetach *bool

	logFormat       *string
	logLevel        *string
	logMetricsEvery *time.Duration

	mdnsEnable *bool
	mdnsName   *string
}

func newFlagSet() *flagSet {
	fs := flag.NewFlagSet("videocore-server", flag.ContinueOnError)
	f := &flagSet{fs: fs}

	f.listenAddr = fs.String("listen", ":9000", "HTTP listen address (REST + viewer/phone WebSocket)")
	f.metricsAddr = fs.String("metrics-addr", "", "Metrics HTTP listen address (e.g. :9100); empty disables")

	f.targetFPS = fs.Float64("target-fps", 12, "Paced scheduler output cadence (frames/sec)")
	f.cameraStallTimeout = fs.Duration("camera-stall-timeout", 15*time.Second, "Max time without a camera frame before the watchdog detaches")
	f.watchdogInterval = fs.Duration("watchdog-interval", 2*time.Second, "Source Manager watchdog poll interval")
	f.phoneTargetFPS = fs.Float64("phone-target-fps", 12, "Target FPS enforced on the phone ingress throttle")

	f.mlEngineURL = fs.String("ml-engine-url", "http://localhost:8001", "Base URL of the inference collaborator")
	f.mlTimeoutCold = fs.Duration("ml-timeout-cold", 10*time.Second, "Inference call timeout before first successful response")
	f.mlTimeoutWarm = fs.Duration("ml-timeout-warm", 500*time.Millisecond, "Inference call timeout after warm-up")
	f.mlHealthInterval = fs.Duration("ml-health-interval", 5*time.Second, "Minimum interval between health re-probes while unavailable")
	f.mlMaxFailures = fs.Int("ml-max-failures", 2, "Consecutive inference failures before entering safe mode")

	f.viewerSendDeadline = fs.Duration("viewer-send-deadline", 100*time.Millisecond, "Per-subscriber broadcast send deadline")
	f.maxViewers = fs.Int("max-viewers", 0, "Maximum simultaneous viewer connections (0 = unlimited)")

	f.uploadDir = fs.String("upload-dir", "data/uploads", "Directory for uploaded video container files")

	f.clearResultOnDetach = fs.Bool("clear-result-on-detach", true, "Clear the cached inference result on source detach")

	f.logFormat = fs.String("log-format", "text", "Log format: text|json")
	f.logLevel = fs.String("log-level", "info", "Log level: debug|info|warn|error")
	f.logMetricsEvery = fs.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")

	f.mdnsEnable = fs.Bool("mdns-enable", false, "Enable mDNS advertisement of the phone ingress endpoint")
	f.mdnsName = fs.String("mdns-name", "", "mDNS instance name (default videocore-<hostname>)")

	fs.BoolVar(&f.version, "version", false, "Print version and exit")

	return f
}

func (f *flagSet) toConfig() *Config {
	f.explicit = map[string]struct{}{}
	f.fs.Visit(func(fl *flag.Flag) { f.explicit[fl.Name] = struct{}{} })

	return &Config{
		ListenAddr:                  *f.listenAddr,
		MetricsAddr:                 *f.metricsAddr,
		TargetFPS:                   *f.targetFPS,
		CameraStallTimeout:          *f.cameraStallTimeout,
		WatchdogInterval:            *f.watchdogInterval,
		PhoneTargetFPS:              *f.phoneTargetFPS,
		MLEngineURL:                 *f.mlEngineURL,
		MLTimeoutCold:               *f.mlTimeoutCold,
		MLTimeoutWarm:               *f.mlTimeoutWarm,
		MLHealthInterval:            *f.mlHealthInterval,
		MLMaxFailuresBeforeSafeMode: *f.mlMaxFailures,
		ViewerSendDeadline:          *f.viewerSendDeadline,
		MaxViewers:                  *f.maxViewers,
		UploadDir:                   *f.uploadDir,
		ClearResultOnDetach:         *f.clearResultOnDetach,
		LogFormat:                   *f.logFormat,
		LogLevel:                    *f.logLevel,
		LogMetricsEvery:             *f.logMetricsEvery,
		MDNSEnable:                  *f.mdnsEnable,
		MDNSName:                    *f.mdnsName,
	}
}
