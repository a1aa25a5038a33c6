package vm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pipeops/vmmcore/executor"
	"github.com/pipeops/vmmcore/procutil"
	"github.com/pipeops/vmmcore/vmmprocess"
	"github.com/sirupsen/logrus"
)

// State is the VM's externally-observed lifecycle state, derived from the
// underlying VMM process state plus the pause bit the API layer tracks.
type State int

const (
	NotStarted State = iota
	Running
	Paused
	Exited
	Crashed
	// CleanedUp is terminal: Cleanup has already run once, and every
	// further operation on the VM, including a second Cleanup, is rejected.
	CleanedUp
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Exited:
		return "Exited"
	case Crashed:
		return "Crashed"
	case CleanedUp:
		return "CleanedUp"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateError reports an operation attempted while the VM was in a state
// that does not permit it.
type StateError struct {
	Op       string
	Expected []State
	Actual   State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("vm: %s requires state in %v, got %s", e.Op, e.Expected, e.Actual)
}

func requireState(op string, actual State, allowed ...State) error {
	for _, s := range allowed {
		if actual == s {
			return nil
		}
	}
	return &StateError{Op: op, Expected: allowed, Actual: actual}
}

// VM wraps a vmmprocess.Process and adds configuration, API, and shutdown
// semantics on top of it.
type VM struct {
	process       *vmmprocess.Process
	configuration Configuration
	isPaused      bool
	log           *logrus.Entry
}

// Prepare asserts the executor's API socket is enabled (the VM layer
// always requires the management API), prepares the underlying VMM
// process (which schedules resource initialization through the executor),
// and returns a VM in the NotStarted state.
func Prepare(ctx context.Context, exec executor.VmmExecutor, ectx executor.Context, configuration Configuration, log *logrus.Entry) (*VM, error) {
	if _, ok := exec.GetSocketPath(ectx.Installation); !ok {
		return nil, fmt.Errorf("vm: prepare: executor's API socket is disabled, which the VM layer does not support")
	}

	process := vmmprocess.New(exec, ectx, log)
	if err := process.Prepare(ctx); err != nil {
		return nil, fmt.Errorf("vm: prepare: %w", err)
	}

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &VM{
		process:       process,
		configuration: configuration,
		isPaused:      false,
		log:           log.WithField("component", "vm"),
	}, nil
}

// State derives the VM's externally-observed state from the underlying
// VMM process state and the pause bit.
func (v *VM) State() State {
	switch v.process.State() {
	case vmmprocess.Started:
		if v.isPaused {
			return Paused
		}
		return Running
	case vmmprocess.Exited:
		return Exited
	case vmmprocess.Crashed:
		return Crashed
	case vmmprocess.CleanedUp:
		return CleanedUp
	default:
		return NotStarted
	}
}

func (v *VM) ensureState(op string, allowed ...State) error {
	return requireState(op, v.State(), allowed...)
}

// Start invokes the VMM process (writing a JSON config file first if the
// configuration requests that delivery method), waits for the API socket
// to appear, and then applies the configuration either via the API PUT
// sequence or, for a JSON-delivered configuration, via nothing at all
// (the VMM reads the file itself).
func (v *VM) Start(ctx context.Context, apiSocketWaitTimeout time.Duration) error {
	if err := v.ensureState("start", NotStarted); err != nil {
		return err
	}

	configPath := ""
	skipApiCalls := false
	if v.configuration.New != nil && v.configuration.New.Applier == ViaJsonConfiguration {
		r := v.configuration.New.ConfigFileResource
		path, ok := r.GetEffectivePath()
		if !ok {
			return fmt.Errorf("vm: start: config file resource is not initialized")
		}
		data, err := v.configuration.New.marshalJSON()
		if err != nil {
			return fmt.Errorf("vm: start: marshaling configuration: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("vm: start: writing configuration file: %w", err)
		}
		configPath = path
		skipApiCalls = true
	}

	if err := v.process.Invoke(ctx, configPath); err != nil {
		return fmt.Errorf("vm: start: %w", err)
	}

	socketPath, ok := v.process.GetSocketPath()
	if !ok {
		return fmt.Errorf("vm: start: API socket unexpectedly disabled")
	}
	if err := waitForFile(ctx, socketPath, apiSocketWaitTimeout); err != nil {
		return fmt.Errorf("vm: start: waiting for API socket: %w", err)
	}

	switch {
	case v.configuration.New != nil && !skipApiCalls:
		if err := v.applyNewConfigurationViaApi(ctx, v.configuration.New); err != nil {
			return fmt.Errorf("vm: start: %w", err)
		}
	case v.configuration.New != nil && skipApiCalls:
		// Nothing further to do: the VMM read the whole configuration
		// from the config file at startup.
	case v.configuration.FromSnapshot != nil:
		if err := v.applyFromSnapshotConfiguration(ctx, v.configuration.FromSnapshot); err != nil {
			return fmt.Errorf("vm: start: %w", err)
		}
	}

	return nil
}

func waitForFile(ctx context.Context, path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cleanup requires Exited or Crashed. It delegates to the underlying VMM
// process's cleanup, which in turn tears down the executor's environment
// and disposes transient resources, then moves the VM to the terminal
// CleanedUp state. A second call is rejected by ensureState rather than
// silently repeating (and no-op-ing) the teardown.
func (v *VM) Cleanup(ctx context.Context) error {
	if err := v.ensureState("cleanup", Exited, Crashed); err != nil {
		return err
	}
	return v.process.Cleanup(ctx)
}

// TakePipes requires Running or Paused. It transfers ownership of the
// VMM's stdio pipes to the caller, one-shot.
func (v *VM) TakePipes() (*procutil.Pipes, error) {
	if err := v.ensureState("take_pipes", Running, Paused); err != nil {
		return nil, err
	}
	return v.process.TakePipes()
}

// GetEffectivePathFromLocal delegates to the underlying executor's
// path-resolution logic.
func (v *VM) GetEffectivePathFromLocal(localPath string) string {
	return v.process.GetEffectivePathFromLocal(localPath)
}
