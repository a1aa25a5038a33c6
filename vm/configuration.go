package vm

import (
	"encoding/json"
	"fmt"

	"github.com/pipeops/vmmcore/resource"
)

// BootSourceConfig describes the kernel (and optional initrd) a VM boots
// from. KernelImage and InitrdImage are resource handles so the VM layer
// can schedule their preparation before the VMM ever sees them.
type BootSourceConfig struct {
	KernelImage *resource.Resource
	InitrdImage *resource.Resource
	BootArgs    string
}

// DriveConfig describes a block device. Resource is nil for devices that
// have no backing host file at prepare time (e.g. a vhost-user socket
// supplied externally).
type DriveConfig struct {
	DriveID      string
	IsRootDevice bool
	Resource     *resource.Resource
	CacheType    *DriveCacheType
	Partuuid     *string
	IsReadOnly   *bool
	RateLimiter  *RateLimiter
	IoEngine     *IoEngine
	Socket       *string
}

// LoggerConfig configures the VMM's log sink, backed by a Created resource.
type LoggerConfig struct {
	Resource      *resource.Resource
	Level         *LogLevel
	ShowLevel     *bool
	ShowLogOrigin *bool
	Module        *string
}

// MetricsConfig configures the VMM's metrics sink, backed by a Created
// resource.
type MetricsConfig struct {
	Resource *resource.Resource
}

// Applier selects how a New configuration is delivered to the VMM: either
// through the management API after the socket exists, or via a single
// config file the VMM reads on startup (skipping the API calls entirely).
type Applier int

const (
	ViaApiCalls Applier = iota
	ViaJsonConfiguration
)

// NewConfiguration describes a VM configured from scratch, either by
// issuing the canonical PUT sequence over the API or by writing a single
// JSON config file.
type NewConfiguration struct {
	Applier              Applier
	ConfigFileResource    *resource.Resource // meaningful only when Applier == ViaJsonConfiguration
	BootSource            BootSourceConfig
	Drives                []DriveConfig
	MachineConfiguration  MachineConfiguration
	CPUTemplate           *CPUTemplate
	NetworkInterfaces     []NetworkInterface
	Balloon               *Balloon
	Vsock                 *Vsock
	Logger                *LoggerConfig
	Metrics               *MetricsConfig
	MmdsConfiguration     *MmdsConfiguration
	Entropy               *Entropy
}

// NewNewConfiguration builds a NewConfiguration defaulting to the
// via-API-calls applier.
func NewNewConfiguration(bootSource BootSourceConfig, machineConfig MachineConfiguration) *NewConfiguration {
	return &NewConfiguration{
		Applier:              ViaApiCalls,
		BootSource:           bootSource,
		MachineConfiguration: machineConfig,
	}
}

// WithApplier sets the delivery method.
func (c *NewConfiguration) WithApplier(applier Applier, configFileResource *resource.Resource) *NewConfiguration {
	c.Applier = applier
	c.ConfigFileResource = configFileResource
	return c
}

// WithDrive appends a drive.
func (c *NewConfiguration) WithDrive(d DriveConfig) *NewConfiguration {
	c.Drives = append(c.Drives, d)
	return c
}

// WithNetworkInterface appends a network interface.
func (c *NewConfiguration) WithNetworkInterface(n NetworkInterface) *NewConfiguration {
	c.NetworkInterfaces = append(c.NetworkInterfaces, n)
	return c
}

// WithCPUTemplate sets the CPU template.
func (c *NewConfiguration) WithCPUTemplate(t CPUTemplate) *NewConfiguration {
	c.CPUTemplate = &t
	return c
}

// WithBalloon sets the balloon device.
func (c *NewConfiguration) WithBalloon(b Balloon) *NewConfiguration {
	c.Balloon = &b
	return c
}

// WithVsock sets the vsock device.
func (c *NewConfiguration) WithVsock(v Vsock) *NewConfiguration {
	c.Vsock = &v
	return c
}

// WithLogger sets the logger.
func (c *NewConfiguration) WithLogger(l LoggerConfig) *NewConfiguration {
	c.Logger = &l
	return c
}

// WithMetrics sets the metrics sink.
func (c *NewConfiguration) WithMetrics(m MetricsConfig) *NewConfiguration {
	c.Metrics = &m
	return c
}

// WithMmdsConfiguration sets the MMDS configuration.
func (c *NewConfiguration) WithMmdsConfiguration(m MmdsConfiguration) *NewConfiguration {
	c.MmdsConfiguration = &m
	return c
}

// WithEntropy sets the entropy device.
func (c *NewConfiguration) WithEntropy(e Entropy) *NewConfiguration {
	c.Entropy = &e
	return c
}

// resources returns every resource handle embedded in this configuration,
// so the VM layer can ensure each is prepared before use.
func (c *NewConfiguration) resources() []*resource.Resource {
	var out []*resource.Resource
	if c.BootSource.KernelImage != nil {
		out = append(out, c.BootSource.KernelImage)
	}
	if c.BootSource.InitrdImage != nil {
		out = append(out, c.BootSource.InitrdImage)
	}
	for _, d := range c.Drives {
		if d.Resource != nil {
			out = append(out, d.Resource)
		}
	}
	if c.Logger != nil && c.Logger.Resource != nil {
		out = append(out, c.Logger.Resource)
	}
	if c.Metrics != nil && c.Metrics.Resource != nil {
		out = append(out, c.Metrics.Resource)
	}
	if c.Applier == ViaJsonConfiguration && c.ConfigFileResource != nil {
		out = append(out, c.ConfigFileResource)
	}
	return out
}

func resourceVirtualPath(r *resource.Resource) (string, error) {
	path, ok := r.GetVirtualPath()
	if !ok {
		return "", fmt.Errorf("resource is not initialized")
	}
	return path, nil
}

func (c *BootSourceConfig) render() (BootSource, error) {
	kernelPath, err := resourceVirtualPath(c.KernelImage)
	if err != nil {
		return BootSource{}, fmt.Errorf("boot source kernel image: %w", err)
	}
	out := BootSource{KernelImagePath: kernelPath}
	if c.BootArgs != "" {
		out.BootArgs = &c.BootArgs
	}
	if c.InitrdImage != nil {
		initrdPath, err := resourceVirtualPath(c.InitrdImage)
		if err != nil {
			return BootSource{}, fmt.Errorf("boot source initrd image: %w", err)
		}
		out.InitrdPath = &initrdPath
	}
	return out, nil
}

func (d *DriveConfig) render() (Drive, error) {
	out := Drive{
		DriveID:      d.DriveID,
		IsRootDevice: d.IsRootDevice,
		CacheType:    d.CacheType,
		Partuuid:     d.Partuuid,
		IsReadOnly:   d.IsReadOnly,
		RateLimiter:  d.RateLimiter,
		IoEngine:     d.IoEngine,
		Socket:       d.Socket,
	}
	if d.Resource != nil {
		path, err := resourceVirtualPath(d.Resource)
		if err != nil {
			return Drive{}, fmt.Errorf("drive %s: %w", d.DriveID, err)
		}
		out.PathOnHost = &path
	}
	return out, nil
}

func (l *LoggerConfig) render() (Logger, error) {
	out := Logger{Level: l.Level, ShowLevel: l.ShowLevel, ShowLogOrigin: l.ShowLogOrigin, Module: l.Module}
	if l.Resource != nil {
		path, err := resourceVirtualPath(l.Resource)
		if err != nil {
			return Logger{}, fmt.Errorf("logger: %w", err)
		}
		out.LogPath = &path
	}
	return out, nil
}

func (m *MetricsConfig) render() (MetricsSystem, error) {
	path, err := resourceVirtualPath(m.Resource)
	if err != nil {
		return MetricsSystem{}, fmt.Errorf("metrics: %w", err)
	}
	return MetricsSystem{MetricsPath: path}, nil
}

// newConfigurationJSON mirrors the field shape and naming the VMM expects
// when this configuration is delivered as a single JSON config file.
type newConfigurationJSON struct {
	BootSource           BootSource            `json:"boot-source"`
	Drives               []Drive               `json:"drives"`
	MachineConfiguration MachineConfiguration  `json:"machine-config"`
	CPUTemplate          *CPUTemplate          `json:"cpu-config,omitempty"`
	NetworkInterfaces    []NetworkInterface    `json:"network-interfaces"`
	Balloon              *Balloon              `json:"balloon,omitempty"`
	Vsock                *Vsock                `json:"vsock,omitempty"`
	Logger               *Logger               `json:"logger,omitempty"`
	Metrics              *MetricsSystem        `json:"metrics,omitempty"`
	MmdsConfiguration    *MmdsConfiguration    `json:"mmds-config,omitempty"`
	Entropy              *Entropy              `json:"entropy,omitempty"`
}

// marshalJSON renders this configuration into the JSON document the VMM
// expects from its --config-file flag, resolving every embedded resource
// to its virtual (VMM-visible) path.
func (c *NewConfiguration) marshalJSON() ([]byte, error) {
	bootSource, err := c.BootSource.render()
	if err != nil {
		return nil, err
	}

	doc := newConfigurationJSON{
		BootSource:           bootSource,
		MachineConfiguration: c.MachineConfiguration,
		CPUTemplate:          c.CPUTemplate,
		NetworkInterfaces:    c.NetworkInterfaces,
		Balloon:              c.Balloon,
		Vsock:                c.Vsock,
		MmdsConfiguration:    c.MmdsConfiguration,
		Entropy:              c.Entropy,
	}

	for _, d := range c.Drives {
		rendered, err := d.render()
		if err != nil {
			return nil, err
		}
		doc.Drives = append(doc.Drives, rendered)
	}

	if c.Logger != nil {
		rendered, err := c.Logger.render()
		if err != nil {
			return nil, err
		}
		doc.Logger = &rendered
	}
	if c.Metrics != nil {
		rendered, err := c.Metrics.render()
		if err != nil {
			return nil, err
		}
		doc.Metrics = &rendered
	}

	return json.Marshal(doc)
}

// FromSnapshotConfiguration describes a VM restored from a previously
// created snapshot.
type FromSnapshotConfiguration struct {
	SnapshotResource     *resource.Resource
	MemBackendResource   *resource.Resource
	MemBackendType       MemoryBackendType
	EnableDiffSnapshots  *bool
	ResumeVM             bool
	Logger               *LoggerConfig
	Metrics              *MetricsConfig
}

// NewFromSnapshotConfiguration builds a FromSnapshotConfiguration.
func NewFromSnapshotConfiguration(snapshotResource, memBackendResource *resource.Resource, memBackendType MemoryBackendType) *FromSnapshotConfiguration {
	return &FromSnapshotConfiguration{
		SnapshotResource:   snapshotResource,
		MemBackendResource: memBackendResource,
		MemBackendType:     memBackendType,
	}
}

// WithResumeVM sets whether the restored VM resumes execution immediately.
func (c *FromSnapshotConfiguration) WithResumeVM(resume bool) *FromSnapshotConfiguration {
	c.ResumeVM = resume
	return c
}

// WithLogger sets the logger.
func (c *FromSnapshotConfiguration) WithLogger(l LoggerConfig) *FromSnapshotConfiguration {
	c.Logger = &l
	return c
}

// WithMetrics sets the metrics sink.
func (c *FromSnapshotConfiguration) WithMetrics(m MetricsConfig) *FromSnapshotConfiguration {
	c.Metrics = &m
	return c
}

func (c *FromSnapshotConfiguration) resources() []*resource.Resource {
	out := []*resource.Resource{c.SnapshotResource, c.MemBackendResource}
	if c.Logger != nil && c.Logger.Resource != nil {
		out = append(out, c.Logger.Resource)
	}
	if c.Metrics != nil && c.Metrics.Resource != nil {
		out = append(out, c.Metrics.Resource)
	}
	return out
}

// Configuration is a sealed union of NewConfiguration and
// FromSnapshotConfiguration. Exactly one of New and FromSnapshot is set.
type Configuration struct {
	New          *NewConfiguration
	FromSnapshot *FromSnapshotConfiguration
}

// resources returns every resource handle embedded in whichever variant is
// set.
func (c Configuration) resources() []*resource.Resource {
	if c.New != nil {
		return c.New.resources()
	}
	if c.FromSnapshot != nil {
		return c.FromSnapshot.resources()
	}
	return nil
}
