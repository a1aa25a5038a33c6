package fcconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("load from file: %v", err)
	}
	if cfg.VM.DefaultVcpuCount != 1 {
		t.Errorf("expected default vcpu count 1, got %d", cfg.VM.DefaultVcpuCount)
	}
}

func TestLoadFromFileParsesToml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[installation]
firecracker_binary = "/opt/bin/firecracker"

[vm]
default_vcpu_count = 4
default_mem_size_mib = 1024

[log]
level = "debug"
format = "json"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load from file: %v", err)
	}
	if cfg.Installation.FirecrackerBinary != "/opt/bin/firecracker" {
		t.Errorf("unexpected firecracker binary: %s", cfg.Installation.FirecrackerBinary)
	}
	if cfg.VM.DefaultVcpuCount != 4 {
		t.Errorf("expected vcpu count 4, got %d", cfg.VM.DefaultVcpuCount)
	}
	if cfg.VM.DefaultMemSizeMib != 1024 {
		t.Errorf("expected mem size 1024, got %d", cfg.VM.DefaultMemSizeMib)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
}

func TestValidateRejectsZeroVcpuCount(t *testing.T) {
	cfg := Default()
	cfg.VM.DefaultVcpuCount = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validate to reject zero vcpu count")
	}
}

func TestValidateRejectsJailerWithoutChrootDir(t *testing.T) {
	cfg := Default()
	cfg.Jailer.Enabled = true
	cfg.Jailer.ChrootBaseDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validate to reject jailer enabled without chroot base dir")
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("VMMCORE_VM_DEFAULT_MEM_SIZE_MIB", "2048")
	t.Setenv("VMMCORE_LOG_LEVEL", "warn")

	cfg := Default()
	LoadFromEnv(cfg)

	if cfg.VM.DefaultMemSizeMib != 2048 {
		t.Errorf("expected mem size 2048, got %d", cfg.VM.DefaultMemSizeMib)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Log.Level)
	}
}
