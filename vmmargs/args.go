// Package vmmargs provides typed builders for the command-line arguments
// passed to the "firecracker" VMM binary and to the "jailer" binary that
// wraps it, plus the command-modifier chain applied after joining.
package vmmargs

import (
	"fmt"

	"github.com/pipeops/vmmcore/resource"
)

// ApiSocketMode selects whether the VMM's API is exposed over a Unix
// socket or disabled entirely.
type ApiSocketMode int

const (
	ApiSocketDisabled ApiSocketMode = iota
	ApiSocketEnabled
)

// ApiSocket configures the VMM's API Unix socket.
type ApiSocket struct {
	Mode ApiSocketMode
	// Path is meaningful only when Mode is ApiSocketEnabled.
	Path string
}

// DisabledApiSocket disables the VMM's API, emitting --no-api.
func DisabledApiSocket() ApiSocket { return ApiSocket{Mode: ApiSocketDisabled} }

// EnabledApiSocket enables the VMM's API at path, emitting --api-sock PATH.
func EnabledApiSocket(path string) ApiSocket {
	return ApiSocket{Mode: ApiSocketEnabled, Path: path}
}

// SeccompFilterMode selects the VMM's seccomp filtering behavior.
type SeccompFilterMode int

const (
	// SeccompDefault uses Firecracker's own default filter; no arguments are passed.
	SeccompDefault SeccompFilterMode = iota
	// SeccompDisabled disables filtering entirely via --no-seccomp.
	SeccompDisabled
	// SeccompCustom uses a custom filter file via --seccomp-filter.
	SeccompCustom
)

// SeccompFilter configures the VMM's seccomp filter.
type SeccompFilter struct {
	Mode SeccompFilterMode
	// Resource is meaningful only when Mode is SeccompCustom.
	Resource *resource.Resource
}

// LogLevel is a level of logging accepted by the VMM's --level flag.
type LogLevel int

const (
	LogOff LogLevel = iota
	LogTrace
	LogDebug
	LogInfo
	LogWarn
	LogError
)

func (l LogLevel) String() string {
	switch l {
	case LogOff:
		return "Off"
	case LogTrace:
		return "Trace"
	case LogDebug:
		return "Debug"
	case LogInfo:
		return "Info"
	case LogWarn:
		return "Warn"
	case LogError:
		return "Error"
	default:
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
}

// Arguments is a typed builder for the arguments passed to the VMM
// binary. Zero value is a valid starting point with the API socket
// disabled; use NewArguments to start from a chosen socket mode.
type Arguments struct {
	apiSocket ApiSocket

	logLevel         *LogLevel
	showLogOrigin    bool
	logModule        string
	showLogLevel     bool
	enableBootTimer  bool
	apiMaxPayload    *uint32
	mmdsSizeLimit    *uint32
	seccompFilter    SeccompFilter
	enablePCISupport bool

	logResource      *resource.Resource
	metadataResource *resource.Resource
	metricsResource  *resource.Resource
	vmmID            string
}

// NewArguments starts a builder with the given API socket configuration.
func NewArguments(apiSocket ApiSocket) *Arguments {
	return &Arguments{apiSocket: apiSocket}
}

// LogLevel sets the VMM's log level.
func (a *Arguments) LogLevel(level LogLevel) *Arguments {
	a.logLevel = &level
	return a
}

// ShowLogOrigin enables --show-log-origin.
func (a *Arguments) ShowLogOrigin() *Arguments {
	a.showLogOrigin = true
	return a
}

// LogModule sets the --module log filter.
func (a *Arguments) LogModule(module string) *Arguments {
	a.logModule = module
	return a
}

// ShowLogLevel enables --show-level.
func (a *Arguments) ShowLogLevel() *Arguments {
	a.showLogLevel = true
	return a
}

// EnableBootTimer enables --boot-timer.
func (a *Arguments) EnableBootTimer() *Arguments {
	a.enableBootTimer = true
	return a
}

// ApiMaxPayloadBytes sets --http-api-max-payload-size.
func (a *Arguments) ApiMaxPayloadBytes(amount uint32) *Arguments {
	a.apiMaxPayload = &amount
	return a
}

// MmdsSizeLimit sets --mmds-size-limit.
func (a *Arguments) MmdsSizeLimit(limit uint32) *Arguments {
	a.mmdsSizeLimit = &limit
	return a
}

// SeccompFilter customizes, disables, or restores the default seccomp filter.
func (a *Arguments) SeccompFilter(filter SeccompFilter) *Arguments {
	a.seccompFilter = filter
	return a
}

// Logs attaches the resource backing the VMM's log file.
func (a *Arguments) Logs(r *resource.Resource) *Arguments {
	a.logResource = r
	return a
}

// Metadata attaches the resource backing the VMM's metadata file.
func (a *Arguments) Metadata(r *resource.Resource) *Arguments {
	a.metadataResource = r
	return a
}

// Metrics attaches the resource backing the VMM's metrics file.
func (a *Arguments) Metrics(r *resource.Resource) *Arguments {
	a.metricsResource = r
	return a
}

// EnablePCISupport enables --enable-pci.
func (a *Arguments) EnablePCISupport() *Arguments {
	a.enablePCISupport = true
	return a
}

// VmmID sets the --id flag identifying this VMM instance.
func (a *Arguments) VmmID(id string) *Arguments {
	a.vmmID = id
	return a
}

// ApiSocket returns the API socket configuration these arguments were
// built with, so an executor can locate or clean up the socket file.
func (a *Arguments) ApiSocket() ApiSocket { return a.apiSocket }

// Resources returns every resource handle embedded in these arguments,
// so a caller can ensure each is initialized before Join is called.
func (a *Arguments) Resources() []*resource.Resource {
	var out []*resource.Resource
	if a.logResource != nil {
		out = append(out, a.logResource)
	}
	if a.metadataResource != nil {
		out = append(out, a.metadataResource)
	}
	if a.metricsResource != nil {
		out = append(out, a.metricsResource)
	}
	if a.seccompFilter.Mode == SeccompCustom && a.seccompFilter.Resource != nil {
		out = append(out, a.seccompFilter.Resource)
	}
	return out
}

// Join emits the argument vector for these Arguments. If configPath is
// non-empty, --config-file is emitted right after the API socket flags.
// Every embedded resource must already be Initialized: resolving its
// virtual path panics otherwise, since the executor guarantees
// initialization happens before Join is ever called.
func (a *Arguments) Join(configPath string) []string {
	args := make([]string, 0, 8)

	switch a.apiSocket.Mode {
	case ApiSocketDisabled:
		args = append(args, "--no-api")
	case ApiSocketEnabled:
		args = append(args, "--api-sock", a.apiSocket.Path)
	}

	if configPath != "" {
		args = append(args, "--config-file", configPath)
	}

	if a.logLevel != nil {
		args = append(args, "--level", a.logLevel.String())
	}

	if a.showLogOrigin {
		args = append(args, "--show-log-origin")
	}

	if a.logModule != "" {
		args = append(args, "--module", a.logModule)
	}

	if a.showLogLevel {
		args = append(args, "--show-level")
	}

	if a.enableBootTimer {
		args = append(args, "--boot-timer")
	}

	if a.apiMaxPayload != nil {
		args = append(args, "--http-api-max-payload-size", fmt.Sprint(*a.apiMaxPayload))
	}

	if a.mmdsSizeLimit != nil {
		args = append(args, "--mmds-size-limit", fmt.Sprint(*a.mmdsSizeLimit))
	}

	switch a.seccompFilter.Mode {
	case SeccompDisabled:
		args = append(args, "--no-seccomp")
	case SeccompCustom:
		args = append(args, "--seccomp-filter", resourceVirtualPath(a.seccompFilter.Resource))
	}

	if a.logResource != nil {
		args = append(args, "--log-path", resourceVirtualPath(a.logResource))
	}

	if a.metadataResource != nil {
		args = append(args, "--metadata", resourceVirtualPath(a.metadataResource))
	}

	if a.metricsResource != nil {
		args = append(args, "--metrics-path", resourceVirtualPath(a.metricsResource))
	}

	if a.enablePCISupport {
		args = append(args, "--enable-pci")
	}

	if a.vmmID != "" {
		args = append(args, "--id", a.vmmID)
	}

	return args
}

func resourceVirtualPath(r *resource.Resource) string {
	path, ok := r.GetVirtualPath()
	if !ok {
		panic("vmmargs: resource is uninitialized at the time of argument join")
	}
	return path
}
