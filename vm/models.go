// Package vm implements the VM state machine layered on top of a VMM
// process: configuration application, the management API bindings, the
// shutdown pipeline, and snapshot handling.
package vm

// TokenBucket describes a rate limiter's token bucket.
type TokenBucket struct {
	Size         uint64 `json:"size"`
	OneTimeBurst *uint64 `json:"one_time_burst,omitempty"`
	RefillTime   uint64 `json:"refill_time"`
}

// RateLimiter pairs a bandwidth and an operations-count token bucket.
type RateLimiter struct {
	Bandwidth TokenBucket `json:"bandwidth"`
	Ops       TokenBucket `json:"ops"`
}

// BootSource describes the kernel image, optional initrd, and boot
// arguments a VM starts from.
type BootSource struct {
	KernelImagePath string  `json:"kernel_image_path"`
	BootArgs        *string `json:"boot_args,omitempty"`
	InitrdPath      *string `json:"initrd_path,omitempty"`
}

// DriveCacheType selects the page-cache behavior of a block device.
type DriveCacheType string

const (
	DriveCacheUnsafe    DriveCacheType = "Unsafe"
	DriveCacheWriteback DriveCacheType = "Writeback"
)

// IoEngine selects a block device's I/O backend.
type IoEngine string

const (
	IoEngineSync  IoEngine = "Sync"
	IoEngineAsync IoEngine = "Async"
)

// Drive describes a single block device attached to the VM.
type Drive struct {
	DriveID      string          `json:"drive_id"`
	IsRootDevice bool            `json:"is_root_device"`
	CacheType    *DriveCacheType `json:"cache_type,omitempty"`
	Partuuid     *string         `json:"partuuid,omitempty"`
	IsReadOnly   *bool           `json:"is_read_only,omitempty"`
	PathOnHost   *string         `json:"path_on_host,omitempty"`
	RateLimiter  *RateLimiter    `json:"rate_limiter,omitempty"`
	IoEngine     *IoEngine       `json:"io_engine,omitempty"`
	Socket       *string         `json:"socket,omitempty"`
}

// UpdateDrive is the payload for PATCH /drives/{id}.
type UpdateDrive struct {
	DriveID     string       `json:"drive_id"`
	PathOnHost  *string      `json:"path_on_host,omitempty"`
	RateLimiter *RateLimiter `json:"rate_limiter,omitempty"`
}

// CPUTemplate names a Firecracker-defined CPU feature masking template.
type CPUTemplate string

const (
	CPUTemplateC3   CPUTemplate = "C3"
	CPUTemplateT2   CPUTemplate = "T2"
	CPUTemplateT2S  CPUTemplate = "T2S"
	CPUTemplateT2CL CPUTemplate = "T2CL"
	CPUTemplateT2A  CPUTemplate = "T2A"
	CPUTemplateNone CPUTemplate = "None"
)

// HugePages selects the VM's huge-pages backing.
type HugePages string

const (
	HugePagesNone HugePages = "None"
	HugePages2M   HugePages = "2M"
)

// MachineConfiguration describes the VM's vCPU count, memory size, and
// optional SMT/dirty-page-tracking/huge-pages settings.
type MachineConfiguration struct {
	VcpuCount       uint8      `json:"vcpu_count"`
	MemSizeMib      int        `json:"mem_size_mib"`
	SMT             *bool      `json:"smt,omitempty"`
	TrackDirtyPages *bool      `json:"track_dirty_pages,omitempty"`
	HugePages       *HugePages `json:"huge_pages,omitempty"`
}

// Balloon describes the memory balloon device at VM creation time.
type Balloon struct {
	AmountMib             int32 `json:"amount_mib"`
	DeflateOnOom          bool  `json:"deflate_on_oom"`
	StatsPollingIntervalS int32 `json:"stats_polling_interval_s"`
}

// UpdateBalloonDevice is the PATCH /balloon payload to resize the balloon.
type UpdateBalloonDevice struct {
	AmountMib uint16 `json:"amount_mib"`
}

// UpdateBalloonStatistics is the PATCH /balloon/statistics payload changing
// the statistics polling interval.
type UpdateBalloonStatistics struct {
	StatsPollingIntervalS uint16 `json:"stats_polling_interval_s"`
}

// BalloonStatistics is the GET /balloon/statistics response body.
type BalloonStatistics struct {
	TargetPages         uint32  `json:"target_pages"`
	ActualPages         uint32  `json:"actual_pages"`
	TargetMib           uint32  `json:"target_mib"`
	ActualMib           uint32  `json:"actual_mib"`
	SwapIn              *uint64 `json:"swap_in,omitempty"`
	SwapOut             *uint64 `json:"swap_out,omitempty"`
	MajorFaults         *uint64 `json:"major_faults,omitempty"`
	MinorFaults         *uint64 `json:"minor_faults,omitempty"`
	FreeMemory          *uint64 `json:"free_memory,omitempty"`
	AvailableMemory     *uint64 `json:"available_memory,omitempty"`
	DiskCaches          *uint64 `json:"disk_caches,omitempty"`
	HugetlbAllocations  *uint64 `json:"hugetlb_allocations,omitempty"`
	HugetlbFailures     *uint64 `json:"hugetlb_failures,omitempty"`
}

// LogLevel is the VM logger's verbosity.
type LogLevel string

const (
	LogLevelOff   LogLevel = "Off"
	LogLevelTrace LogLevel = "Trace"
	LogLevelDebug LogLevel = "Debug"
	LogLevelInfo  LogLevel = "Info"
	LogLevelWarn  LogLevel = "Warn"
	LogLevelError LogLevel = "Error"
)

// Logger configures the VMM's structured logging sink.
type Logger struct {
	LogPath      *string   `json:"log_path,omitempty"`
	Level        *LogLevel `json:"level,omitempty"`
	ShowLevel    *bool     `json:"show_level,omitempty"`
	ShowLogOrigin *bool    `json:"show_log_origin,omitempty"`
	Module       *string   `json:"module,omitempty"`
}

// MetricsSystem configures the VMM's metrics sink.
type MetricsSystem struct {
	MetricsPath string `json:"metrics_path"`
}

// NetworkInterface describes one virtio-net device.
type NetworkInterface struct {
	IfaceID       string       `json:"iface_id"`
	HostDevName   string       `json:"host_dev_name"`
	GuestMac      *string      `json:"guest_mac,omitempty"`
	RxRateLimiter *RateLimiter `json:"rx_rate_limiter,omitempty"`
	TxRateLimiter *RateLimiter `json:"tx_rate_limiter,omitempty"`
}

// UpdateNetworkInterface is the PATCH /network-interfaces/{id} payload.
type UpdateNetworkInterface struct {
	IfaceID       string       `json:"iface_id"`
	RxRateLimiter *RateLimiter `json:"rx_rate_limiter,omitempty"`
	TxRateLimiter *RateLimiter `json:"tx_rate_limiter,omitempty"`
}

// MmdsVersion selects the MMDS protocol version exposed to the guest.
type MmdsVersion string

const (
	MmdsV1 MmdsVersion = "V1"
	MmdsV2 MmdsVersion = "V2"
)

// MmdsConfiguration binds the metadata service to network interfaces.
type MmdsConfiguration struct {
	Version            MmdsVersion `json:"version"`
	NetworkInterfaces  []string    `json:"network_interfaces"`
	IPv4Address        *string     `json:"ipv4_address,omitempty"`
}

// Entropy describes the virtio-rng device.
type Entropy struct {
	RateLimiter *RateLimiter `json:"rate_limiter,omitempty"`
}

// Vsock describes the virtio-vsock device.
type Vsock struct {
	GuestCID uint32 `json:"guest_cid"`
	UdsPath  string `json:"uds_path"`
}

// SnapshotType selects between a full and a differential memory snapshot.
type SnapshotType string

const (
	SnapshotFull SnapshotType = "Full"
	SnapshotDiff SnapshotType = "Diff"
)

// CreateSnapshot is the PUT /snapshot/create request body.
type CreateSnapshot struct {
	SnapshotType *SnapshotType `json:"snapshot_type,omitempty"`
	SnapshotPath string        `json:"snapshot_path"`
	MemFilePath  string        `json:"mem_file_path"`
}

// MemoryBackendType selects how a snapshot's memory file is loaded.
type MemoryBackendType string

const (
	MemoryBackendFile MemoryBackendType = "File"
	MemoryBackendUffd MemoryBackendType = "Uffd"
)

// MemoryBackend describes the source of a restored VM's guest memory.
type MemoryBackend struct {
	BackendType MemoryBackendType `json:"backend_type"`
	BackendPath string            `json:"backend_path"`
}

// LoadSnapshot is the PUT /snapshot/load request body.
type LoadSnapshot struct {
	EnableDiffSnapshots *bool         `json:"enable_diff_snapshots,omitempty"`
	MemBackend          MemoryBackend `json:"mem_backend"`
	SnapshotPath        string        `json:"snapshot_path"`
	ResumeVM            *bool         `json:"resume_vm,omitempty"`
}

// FirecrackerVersion is the GET /version response body.
type FirecrackerVersion struct {
	FirecrackerVersion string `json:"firecracker_version"`
}

// InfoState is the VMM's own self-reported Running/Paused state, distinct
// from vmmcore's own VM.State, which additionally distinguishes NotStarted,
// Exited, and Crashed from outside the VMM's knowledge.
type InfoState string

const (
	InfoRunning InfoState = "Running"
	InfoPaused  InfoState = "Paused"
)

// Info is the GET / response body.
type Info struct {
	ID          string    `json:"id"`
	State       InfoState `json:"state"`
	VmmVersion  string    `json:"vmm_version"`
	AppName     string    `json:"app_name"`
}

// EffectiveConfiguration is the GET /vm/config response body: the full
// device tree Firecracker currently holds.
type EffectiveConfiguration struct {
	Balloon              *Balloon              `json:"balloon,omitempty"`
	Drives               []Drive               `json:"drives"`
	BootSource           *BootSource           `json:"boot-source,omitempty"`
	Logger               *Logger               `json:"logger,omitempty"`
	MachineConfiguration *MachineConfiguration `json:"machine-config,omitempty"`
	Metrics              *MetricsSystem        `json:"metrics,omitempty"`
	MmdsConfiguration    *MmdsConfiguration    `json:"mmds-config,omitempty"`
	NetworkInterfaces    []NetworkInterface    `json:"network-interfaces"`
	Vsock                *Vsock                `json:"vsock,omitempty"`
}

type vmAction struct {
	ActionType string `json:"action_type"`
}

type vmUpdateState struct {
	State string `json:"state"`
}

// ApiFaultBody is the shape of a non-2xx response body.
type ApiFaultBody struct {
	FaultMessage string `json:"fault_message"`
}
