// Package config parses process configuration from flags and environment
// variables: flag parsing first, then VIDEOCORE_* environment overrides
// applied only to flags that were not explicitly set on the command line,
// then a validate() pass.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of the process.
type Config struct {
	ListenAddr  string
	MetricsAddr string

	TargetFPS          float64
	CameraStallTimeout time.Duration
	WatchdogInterval   time.Duration
	PhoneTargetFPS     float64

	MLEngineURL                 string
	MLTimeoutCold               time.Duration
	MLTimeoutWarm               time.Duration
	MLHealthInterval            time.Duration
	MLMaxFailuresBeforeSafeMode int

	ViewerSendDeadline time.Duration
	MaxViewers         int

	UploadDir string

	ClearResultOnDetach bool

	LogFormat       string
	LogLevel        string
	LogMetricsEvery time.Duration

	MDNSEnable bool
	MDNSName   string
}

// Parse reads os.Args-style flags via the standard flag package and
// applies VIDEOCORE_* environment overrides. showVersion is true if -version
// was passed.
func Parse(args []string) (cfg *Config, showVersion bool, err error) {
	fs := newFlagSet()
	if perr := fs.fs.Parse(args); perr != nil {
		return nil, false, perr
	}

	c := fs.toConfig()
	if everr := applyEnvOverrides(c, fs.explicit); everr != nil {
		return nil, fs.version, everr
	}
	if verr := c.validate(); verr != nil {
		return nil, fs.version, verr
	}
	return c, fs.version, nil
}

func (c *Config) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.LogLevel)
	}
	if c.TargetFPS <= 0 {
		return fmt.Errorf("target-fps must be > 0 (got %v)", c.TargetFPS)
	}
	if c.PhoneTargetFPS <= 0 {
		return fmt.Errorf("phone-target-fps must be > 0 (got %v)", c.PhoneTargetFPS)
	}
	if c.CameraStallTimeout <= 0 {
		return errors.New("camera-stall-timeout must be > 0")
	}
	if c.WatchdogInterval <= 0 {
		return errors.New("watchdog-interval must be > 0")
	}
	if c.MLTimeoutCold <= 0 || c.MLTimeoutWarm <= 0 {
		return errors.New("ml-timeout-cold and ml-timeout-warm must be > 0")
	}
	if c.MLHealthInterval <= 0 {
		return errors.New("ml-health-interval must be > 0")
	}
	if c.MLMaxFailuresBeforeSafeMode <= 0 {
		return errors.New("ml-max-failures must be > 0")
	}
	if c.ViewerSendDeadline <= 0 {
		return errors.New("viewer-send-deadline must be > 0")
	}
	if c.MaxViewers < 0 {
		return errors.New("max-viewers must be >= 0")
	}
	if c.UploadDir == "" {
		return errors.New("upload-dir must not be empty")
	}
	return nil
}

// applyEnvOverrides maps VIDEOCORE_* environment variables onto c, skipping
// any field whose flag was explicitly set (flag wins over env).
func applyEnvOverrides(c *Config, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) {
		v, ok := os.LookupEnv(k)
		return strings.TrimSpace(v), ok
	}
	setIfUnset := func(flagName, envName string, apply func(string) error) {
		if _, ok := set[flagName]; ok {
			return
		}
		v, ok := get(envName)
		if !ok || v == "" {
			return
		}
		if err := apply(v); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", envName, err)
		}
	}

	setIfUnset("listen", "VIDEOCORE_LISTEN", func(v string) error { c.ListenAddr = v; return nil })
	setIfUnset("metrics-addr", "VIDEOCORE_METRICS", func(v string) error { c.MetricsAddr = v; return nil })
	setIfUnset("target-fps", "VIDEOCORE_TARGET_FPS", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			c.TargetFPS = f
		}
		return err
	})
	setIfUnset("camera-stall-timeout", "VIDEOCORE_CAMERA_STALL_TIMEOUT", func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			c.CameraStallTimeout = d
		}
		return err
	})
	setIfUnset("watchdog-interval", "VIDEOCORE_WATCHDOG_INTERVAL", func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			c.WatchdogInterval = d
		}
		return err
	})
	setIfUnset("phone-target-fps", "VIDEOCORE_PHONE_TARGET_FPS", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			c.PhoneTargetFPS = f
		}
		return err
	})
	setIfUnset("ml-engine-url", "VIDEOCORE_ML_ENGINE_URL", func(v string) error { c.MLEngineURL = v; return nil })
	setIfUnset("ml-timeout-cold", "VIDEOCORE_ML_TIMEOUT_COLD", func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			c.MLTimeoutCold = d
		}
		return err
	})
	setIfUnset("ml-timeout-warm", "VIDEOCORE_ML_TIMEOUT_WARM", func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			c.MLTimeoutWarm = d
		}
		return err
	})
	setIfUnset("ml-health-interval", "VIDEOCORE_ML_HEALTH_INTERVAL", func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			c.MLHealthInterval = d
		}
		return err
	})
	setIfUnset("ml-max-failures", "VIDEOCORE_ML_MAX_FAILURES", func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			c.MLMaxFailuresBeforeSafeMode = n
		}
		return err
	})
	setIfUnset("viewer-send-deadline", "VIDEOCORE_VIEWER_SEND_DEADLINE", func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			c.ViewerSendDeadline = d
		}
		return err
	})
	setIfUnset("max-viewers", "VIDEOCORE_MAX_VIEWERS", func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			c.MaxViewers = n
		}
		return err
	})
	setIfUnset("upload-dir", "VIDEOCORE_UPLOAD_DIR", func(v string) error { c.UploadDir = v; return nil })
	setIfUnset("clear-result-on-detach", "VIDEOCORE_CLEAR_RESULT_ON_DETACH", func(v string) error {
		b, err := strconv.ParseBool(v)
		if err == nil {
			c.ClearResultOnDetach = b
		}
		return err
	})
	setIfUnset("log-format", "VIDEOCORE_LOG_FORMAT", func(v string) error { c.LogFormat = v; return nil })
	setIfUnset("log-level", "VIDEOCORE_LOG_LEVEL", func(v string) error { c.LogLevel = v; return nil })
	setIfUnset("log-metrics-interval", "VIDEOCORE_LOG_METRICS_INTERVAL", func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			c.LogMetricsEvery = d
		}
		return err
	})
	setIfUnset("mdns-enable", "VIDEOCORE_MDNS_ENABLE", func(v string) error {
		b, err := strconv.ParseBool(v)
		if err == nil {
			c.MDNSEnable = b
		}
		return err
	})
	setIfUnset("mdns-name", "VIDEOCORE_MDNS_NAME", func(v string) error { c.MDNSName = v; return nil })

	return firstErr
}
