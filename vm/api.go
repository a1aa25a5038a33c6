package vm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pipeops/vmmcore/resource"
)

func (v *VM) sendApiRequest(ctx context.Context, route, method string, requestBody interface{}) (string, error) {
	var body io.Reader
	if requestBody != nil {
		data, err := json.Marshal(requestBody)
		if err != nil {
			return "", fmt.Errorf("vm: api: marshaling request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix-socket"+route, body)
	if err != nil {
		return "", fmt.Errorf("vm: api: constructing request: %w", err)
	}
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.process.SendApiRequest(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vm: api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("vm: api: reading response: %w", err)
	}
	return string(data), nil
}

// apiCall issues a request expected to return an empty body.
func (v *VM) apiCall(ctx context.Context, route, method string, requestBody interface{}) error {
	responseJSON, err := v.sendApiRequest(ctx, route, method, requestBody)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(responseJSON)) != 0 {
		return fmt.Errorf("vm: api: %s %s: expected an empty response, got %q", method, route, responseJSON)
	}
	return nil
}

// apiCallWithResponse issues a request and decodes the JSON response body
// into out.
func (v *VM) apiCallWithResponse(ctx context.Context, route, method string, requestBody interface{}, out interface{}) error {
	responseJSON, err := v.sendApiRequest(ctx, route, method, requestBody)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(responseJSON), out); err != nil {
		return fmt.Errorf("vm: api: decoding response from %s %s: %w", method, route, err)
	}
	return nil
}

// applyNewConfigurationViaApi issues the canonical PUT sequence building up
// the device tree, finishing with InstanceStart.
func (v *VM) applyNewConfigurationViaApi(ctx context.Context, c *NewConfiguration) error {
	bootSource, err := c.BootSource.render()
	if err != nil {
		return err
	}
	if err := v.apiCall(ctx, "/boot-source", http.MethodPut, bootSource); err != nil {
		return err
	}

	for _, d := range c.Drives {
		rendered, err := d.render()
		if err != nil {
			return err
		}
		if err := v.apiCall(ctx, "/drives/"+rendered.DriveID, http.MethodPut, rendered); err != nil {
			return err
		}
	}

	if err := v.apiCall(ctx, "/machine-config", http.MethodPut, c.MachineConfiguration); err != nil {
		return err
	}

	if c.CPUTemplate != nil {
		if err := v.apiCall(ctx, "/cpu-config", http.MethodPut, c.CPUTemplate); err != nil {
			return err
		}
	}

	for _, n := range c.NetworkInterfaces {
		if err := v.apiCall(ctx, "/network-interfaces/"+n.IfaceID, http.MethodPut, n); err != nil {
			return err
		}
	}

	if c.Balloon != nil {
		if err := v.apiCall(ctx, "/balloon", http.MethodPut, c.Balloon); err != nil {
			return err
		}
	}

	if c.Vsock != nil {
		if err := v.apiCall(ctx, "/vsock", http.MethodPut, c.Vsock); err != nil {
			return err
		}
	}

	if c.Logger != nil {
		rendered, err := c.Logger.render()
		if err != nil {
			return err
		}
		if err := v.apiCall(ctx, "/logger", http.MethodPut, rendered); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		rendered, err := c.Metrics.render()
		if err != nil {
			return err
		}
		if err := v.apiCall(ctx, "/metrics", http.MethodPut, rendered); err != nil {
			return err
		}
	}

	if c.MmdsConfiguration != nil {
		if err := v.apiCall(ctx, "/mmds/config", http.MethodPut, c.MmdsConfiguration); err != nil {
			return err
		}
	}

	if c.Entropy != nil {
		if err := v.apiCall(ctx, "/entropy", http.MethodPut, c.Entropy); err != nil {
			return err
		}
	}

	return v.apiCall(ctx, "/actions", http.MethodPut, vmAction{ActionType: "InstanceStart"})
}

// applyFromSnapshotConfiguration configures the optional logger/metrics
// sinks and then loads the snapshot, resuming it if requested.
func (v *VM) applyFromSnapshotConfiguration(ctx context.Context, c *FromSnapshotConfiguration) error {
	if c.Logger != nil {
		rendered, err := c.Logger.render()
		if err != nil {
			return err
		}
		if err := v.apiCall(ctx, "/logger", http.MethodPut, rendered); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		rendered, err := c.Metrics.render()
		if err != nil {
			return err
		}
		if err := v.apiCall(ctx, "/metrics", http.MethodPut, rendered); err != nil {
			return err
		}
	}

	snapshotPath, err := resourceVirtualPath(c.SnapshotResource)
	if err != nil {
		return fmt.Errorf("snapshot resource: %w", err)
	}
	memBackendPath, err := resourceVirtualPath(c.MemBackendResource)
	if err != nil {
		return fmt.Errorf("memory backend resource: %w", err)
	}

	load := LoadSnapshot{
		MemBackend: MemoryBackend{
			BackendType: c.MemBackendType,
			BackendPath: memBackendPath,
		},
		SnapshotPath: snapshotPath,
	}
	if c.EnableDiffSnapshots != nil {
		load.EnableDiffSnapshots = c.EnableDiffSnapshots
	}
	if c.ResumeVM {
		resume := true
		load.ResumeVM = &resume
	}

	if err := v.apiCall(ctx, "/snapshot/load", http.MethodPut, load); err != nil {
		return err
	}
	if c.ResumeVM {
		v.isPaused = false
	} else {
		v.isPaused = true
	}
	return nil
}

// GetInfo returns the VMM's self-reported identity and state.
func (v *VM) GetInfo(ctx context.Context) (Info, error) {
	if err := v.ensureState("get_info", Running, Paused); err != nil {
		return Info{}, err
	}
	var info Info
	err := v.apiCallWithResponse(ctx, "/", http.MethodGet, nil, &info)
	return info, err
}

// FlushMetrics requests an immediate metrics flush.
func (v *VM) FlushMetrics(ctx context.Context) error {
	if err := v.ensureState("flush_metrics", Running, Paused); err != nil {
		return err
	}
	return v.apiCall(ctx, "/actions", http.MethodPut, vmAction{ActionType: "FlushMetrics"})
}

// GetBalloonDevice returns the current balloon device configuration.
func (v *VM) GetBalloonDevice(ctx context.Context) (Balloon, error) {
	if err := v.ensureState("get_balloon_device", Running, Paused); err != nil {
		return Balloon{}, err
	}
	var balloon Balloon
	err := v.apiCallWithResponse(ctx, "/balloon", http.MethodGet, nil, &balloon)
	return balloon, err
}

// UpdateBalloonDevice resizes the balloon device.
func (v *VM) UpdateBalloonDevice(ctx context.Context, update UpdateBalloonDevice) error {
	if err := v.ensureState("update_balloon_device", Running, Paused); err != nil {
		return err
	}
	return v.apiCall(ctx, "/balloon", http.MethodPatch, update)
}

// GetBalloonStatistics returns the balloon device's latest statistics.
// Requires Running, since Firecracker does not serve this endpoint while
// paused.
func (v *VM) GetBalloonStatistics(ctx context.Context) (BalloonStatistics, error) {
	if err := v.ensureState("get_balloon_statistics", Running); err != nil {
		return BalloonStatistics{}, err
	}
	var stats BalloonStatistics
	err := v.apiCallWithResponse(ctx, "/balloon/statistics", http.MethodGet, nil, &stats)
	return stats, err
}

// UpdateBalloonStatistics changes the balloon statistics polling interval.
func (v *VM) UpdateBalloonStatistics(ctx context.Context, update UpdateBalloonStatistics) error {
	if err := v.ensureState("update_balloon_statistics", Running, Paused); err != nil {
		return err
	}
	return v.apiCall(ctx, "/balloon/statistics", http.MethodPatch, update)
}

// UpdateDrive applies a live drive update (path swap and/or rate limiter).
func (v *VM) UpdateDrive(ctx context.Context, update UpdateDrive) error {
	if err := v.ensureState("update_drive", Running, Paused); err != nil {
		return err
	}
	return v.apiCall(ctx, "/drives/"+update.DriveID, http.MethodPatch, update)
}

// UpdateNetworkInterface applies a live network interface rate limiter
// update.
func (v *VM) UpdateNetworkInterface(ctx context.Context, update UpdateNetworkInterface) error {
	if err := v.ensureState("update_network_interface", Running, Paused); err != nil {
		return err
	}
	return v.apiCall(ctx, "/network-interfaces/"+update.IfaceID, http.MethodPatch, update)
}

// GetMachineConfiguration returns the current vCPU/memory configuration.
func (v *VM) GetMachineConfiguration(ctx context.Context) (MachineConfiguration, error) {
	if err := v.ensureState("get_machine_configuration", Running, Paused); err != nil {
		return MachineConfiguration{}, err
	}
	var mc MachineConfiguration
	err := v.apiCallWithResponse(ctx, "/machine-config", http.MethodGet, nil, &mc)
	return mc, err
}

// CreateSnapshot requires Paused. create.SnapshotPath and create.MemFilePath
// are paths as seen by the VMM (inside its jail, if jailed); the returned
// Snapshot carries the same locations translated back to host paths so the
// caller can act on them directly (copy them elsewhere, open them, or feed
// them into PrepareFromSnapshot).
//
// Both files are also registered as Produced resources on the process's
// resource system and marked Initialized, so a later Cleanup disposes of
// them like any other resource it owns unless the caller calls
// Snapshot.Unlink first to let them outlive the VMM. Unlink has no effect
// under the jailed executor, whose Cleanup removes the whole jail.
func (v *VM) CreateSnapshot(ctx context.Context, create CreateSnapshot) (Snapshot, error) {
	if err := v.ensureState("create_snapshot", Paused); err != nil {
		return Snapshot{}, err
	}
	if err := v.apiCall(ctx, "/snapshot/create", http.MethodPut, create); err != nil {
		return Snapshot{}, err
	}

	snapshotPath := v.GetEffectivePathFromLocal(create.SnapshotPath)
	memFilePath := v.GetEffectivePathFromLocal(create.MemFilePath)

	system := v.process.System()
	snapshotResource := system.NewResource(snapshotPath, resource.Produced())
	memResource := system.NewResource(memFilePath, resource.Produced())

	if err := snapshotResource.StartInitialization(snapshotPath, nil); err != nil {
		return Snapshot{}, fmt.Errorf("vm: create_snapshot: tracking snapshot file: %w", err)
	}
	if err := memResource.StartInitialization(memFilePath, nil); err != nil {
		return Snapshot{}, fmt.Errorf("vm: create_snapshot: tracking memory file: %w", err)
	}
	if err := system.Synchronize(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("vm: create_snapshot: tracking produced files: %w", err)
	}

	return Snapshot{
		SnapshotPath:     snapshotPath,
		MemFilePath:      memFilePath,
		snapshotResource: snapshotResource,
		memResource:      memResource,
	}, nil
}

// GetFirecrackerVersion returns the running VMM's version string.
func (v *VM) GetFirecrackerVersion(ctx context.Context) (string, error) {
	if err := v.ensureState("get_firecracker_version", Running, Paused); err != nil {
		return "", err
	}
	var version FirecrackerVersion
	if err := v.apiCallWithResponse(ctx, "/version", http.MethodGet, nil, &version); err != nil {
		return "", err
	}
	return version.FirecrackerVersion, nil
}

// GetEffectiveConfiguration returns the full device tree the VMM currently
// holds.
func (v *VM) GetEffectiveConfiguration(ctx context.Context) (EffectiveConfiguration, error) {
	if err := v.ensureState("get_effective_configuration", Running, Paused); err != nil {
		return EffectiveConfiguration{}, err
	}
	var ec EffectiveConfiguration
	err := v.apiCallWithResponse(ctx, "/vm/config", http.MethodGet, nil, &ec)
	return ec, err
}

// Pause suspends the VM's vCPUs. Requires Running.
func (v *VM) Pause(ctx context.Context) error {
	if err := v.ensureState("pause", Running); err != nil {
		return err
	}
	if err := v.apiCall(ctx, "/vm", http.MethodPatch, vmUpdateState{State: "Paused"}); err != nil {
		return err
	}
	v.isPaused = true
	return nil
}

// Resume resumes a paused VM's vCPUs. Requires Paused.
func (v *VM) Resume(ctx context.Context) error {
	if err := v.ensureState("resume", Paused); err != nil {
		return err
	}
	if err := v.apiCall(ctx, "/vm", http.MethodPatch, vmUpdateState{State: "Resumed"}); err != nil {
		return err
	}
	v.isPaused = false
	return nil
}

// CreateMmds seeds the metadata service with value, marshaled to JSON.
func (v *VM) CreateMmds(ctx context.Context, value interface{}) error {
	if err := v.ensureState("create_mmds", Running, Paused); err != nil {
		return err
	}
	return v.apiCall(ctx, "/mmds", http.MethodPut, value)
}

// UpdateMmds replaces the metadata service's contents with value.
func (v *VM) UpdateMmds(ctx context.Context, value interface{}) error {
	if err := v.ensureState("update_mmds", Running, Paused); err != nil {
		return err
	}
	return v.apiCall(ctx, "/mmds", http.MethodPatch, value)
}

// GetMmds decodes the metadata service's current contents into out.
func (v *VM) GetMmds(ctx context.Context, out interface{}) error {
	if err := v.ensureState("get_mmds", Running, Paused); err != nil {
		return err
	}
	return v.apiCallWithResponse(ctx, "/mmds", http.MethodGet, nil, out)
}

// ApiCustomRequest sends an arbitrary request to the management API,
// bypassing the typed bindings above. If newIsPaused is non-nil, it
// overrides the locally-tracked pause bit after a successful call, for
// requests (such as a custom pause/resume route) that change it.
func (v *VM) ApiCustomRequest(ctx context.Context, req *http.Request, newIsPaused *bool) (*http.Response, error) {
	if err := v.ensureState("api_custom_request", Running, Paused); err != nil {
		return nil, err
	}
	resp, err := v.process.SendApiRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vm: api: %w", err)
	}
	if newIsPaused != nil {
		v.isPaused = *newIsPaused
	}
	return resp, nil
}
