package config

import "testing"

func TestParse_DefaultsValidate(t *testing.T) {
	cfg, showVersion, err := Parse(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if showVersion {
		t.Fatalf("expected showVersion=false with no args")
	}
	if cfg.ListenAddr != ":9000" {
		t.Fatalf("expected default listen addr :9000, got %s", cfg.ListenAddr)
	}
	if cfg.TargetFPS != 12 {
		t.Fatalf("expected default target-fps 12, got %v", cfg.TargetFPS)
	}
}

func TestParse_VersionFlagShortCircuits(t *testing.T) {
	cfg, showVersion, err := Parse([]string{"-version"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !showVersion {
		t.Fatalf("expected showVersion=true for -version")
	}
	_ = cfg
}

func TestParse_ExplicitFlagOverridesDefault(t *testing.T) {
	cfg, _, err := Parse([]string{"-target-fps", "30", "-listen", ":8080"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TargetFPS != 30 {
		t.Fatalf("expected target-fps 30, got %v", cfg.TargetFPS)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected listen :8080, got %s", cfg.ListenAddr)
	}
}

func TestParse_InvalidFlagValueFails(t *testing.T) {
	if _, _, err := Parse([]string{"-target-fps", "not-a-float"}); err == nil {
		t.Fatalf("expected an error for a malformed -target-fps value")
	}
}

func TestParse_ValidationFailureSurfacesError(t *testing.T) {
	if _, _, err := Parse([]string{"-log-format", "xml"}); err == nil {
		t.Fatalf("expected an error for an invalid log-format")
	}
}
