// Package fcconfig provides centralized configuration loading for vmmctl
// and any other consumer of vmmcore that wants file-based defaults instead
// of wiring every option through flags.
//
// Configuration can be loaded from:
//   - a TOML configuration file (default: /etc/vmmcore/config.toml)
//   - environment variables (prefixed with VMMCORE_)
//   - command-line flags (applied on top by the caller)
package fcconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
)

// Config holds every section of vmmctl's configuration.
type Config struct {
	Installation InstallationConfig `toml:"installation"`
	Jailer       JailerConfig       `toml:"jailer"`
	VM           VMConfig           `toml:"vm"`
	Log          LogConfig          `toml:"log"`
}

// InstallationConfig locates the Firecracker release binaries.
type InstallationConfig struct {
	FirecrackerBinary   string `toml:"firecracker_binary"`
	JailerBinary        string `toml:"jailer_binary"`
	SnapshotEditorBinary string `toml:"snapshot_editor_binary"`
}

// JailerConfig holds defaults for the jailed executor.
type JailerConfig struct {
	Enabled     bool   `toml:"enabled"`
	ChrootBaseDir string `toml:"chroot_base_dir"`
	UID         uint32 `toml:"uid"`
	GID         uint32 `toml:"gid"`
	NumaNode    uint32 `toml:"numa_node"`
}

// VMConfig holds default VM sizing and boot parameters.
type VMConfig struct {
	KernelPath          string        `toml:"kernel_path"`
	KernelArgs          string        `toml:"kernel_args"`
	InitrdPath          string        `toml:"initrd_path"`
	DefaultVcpuCount    uint8         `toml:"default_vcpu_count"`
	DefaultMemSizeMib   int           `toml:"default_mem_size_mib"`
	EnableSMT           bool          `toml:"enable_smt"`
	ApiSocketWaitTimeout time.Duration `toml:"api_socket_wait_timeout"`
}

// LogConfig holds logging configuration applied through logrus.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Installation: InstallationConfig{
			FirecrackerBinary: "/usr/bin/firecracker",
			JailerBinary:      "/usr/bin/jailer",
		},
		Jailer: JailerConfig{
			Enabled:       false,
			ChrootBaseDir: "/srv/jailer",
		},
		VM: VMConfig{
			KernelArgs:           "console=ttyS0 reboot=k panic=1 pci=off",
			DefaultVcpuCount:     1,
			DefaultMemSizeMib:    128,
			ApiSocketWaitTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file, falling back to
// Default() if the file does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("fcconfig: reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("fcconfig: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv overlays environment variables, prefixed with VMMCORE_, onto
// an already-loaded Config.
func LoadFromEnv(cfg *Config) {
	loadEnvString(&cfg.Installation.FirecrackerBinary, "VMMCORE_FIRECRACKER_BINARY")
	loadEnvString(&cfg.Installation.JailerBinary, "VMMCORE_JAILER_BINARY")
	loadEnvString(&cfg.Installation.SnapshotEditorBinary, "VMMCORE_SNAPSHOT_EDITOR_BINARY")

	loadEnvBool(&cfg.Jailer.Enabled, "VMMCORE_JAILER_ENABLED")
	loadEnvString(&cfg.Jailer.ChrootBaseDir, "VMMCORE_JAILER_CHROOT_BASE_DIR")

	loadEnvString(&cfg.VM.KernelPath, "VMMCORE_VM_KERNEL_PATH")
	loadEnvString(&cfg.VM.KernelArgs, "VMMCORE_VM_KERNEL_ARGS")
	loadEnvInt(&cfg.VM.DefaultMemSizeMib, "VMMCORE_VM_DEFAULT_MEM_SIZE_MIB")
	loadEnvBool(&cfg.VM.EnableSMT, "VMMCORE_VM_ENABLE_SMT")

	loadEnvString(&cfg.Log.Level, "VMMCORE_LOG_LEVEL")
	loadEnvString(&cfg.Log.Format, "VMMCORE_LOG_FORMAT")
}

// Validate checks the configuration for internal consistency; it does not
// verify the Firecracker binaries themselves (installation.Verify does
// that, and needs a context for its parallel checks).
func (c *Config) Validate() error {
	if c.VM.DefaultVcpuCount == 0 {
		return fmt.Errorf("fcconfig: vm.default_vcpu_count must be at least 1")
	}
	if c.VM.DefaultMemSizeMib <= 0 {
		return fmt.Errorf("fcconfig: vm.default_mem_size_mib must be positive")
	}
	if c.Jailer.Enabled && c.Jailer.ChrootBaseDir == "" {
		return fmt.Errorf("fcconfig: jailer.chroot_base_dir is required when jailer.enabled is true")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("fcconfig: invalid log.level: %s", c.Log.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("fcconfig: invalid log.format: %s", c.Log.Format)
	}
	return nil
}

// ApplyToLogger configures log's level, formatter and output according to
// this configuration's Log section.
func (c *Config) ApplyToLogger(log *logrus.Logger) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if c.Log.File != "" {
		f, err := os.OpenFile(c.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			log.SetOutput(f)
		}
	}
}

func loadEnvString(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

func loadEnvBool(target *bool, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val == "true" || val == "1" || val == "yes"
	}
}

func loadEnvInt(target *int, key string) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*target = i
		}
	}
}
