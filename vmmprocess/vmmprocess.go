// Package vmmprocess drives a VMM executor and resource system through the
// prepare/invoke/running/exited/cleanup lifecycle, and exposes the VMM's
// Unix-socket management API to callers once it is running.
package vmmprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/pipeops/vmmcore/executor"
	"github.com/pipeops/vmmcore/installation"
	"github.com/pipeops/vmmcore/ownership"
	"github.com/pipeops/vmmcore/procutil"
	"github.com/pipeops/vmmcore/resource"
	"github.com/sirupsen/logrus"
)

// State is the VMM process's lifecycle state. Transitions are strictly
// linear; every operation asserts the state it requires.
type State int

const (
	AwaitingPrepare State = iota
	AwaitingStart
	Started
	Exited
	Crashed
	// CleanedUp is terminal: Cleanup has already run once, and every
	// operation including a second Cleanup is rejected from here on.
	CleanedUp
)

func (s State) String() string {
	switch s {
	case AwaitingPrepare:
		return "AwaitingPrepare"
	case AwaitingStart:
		return "AwaitingStart"
	case Started:
		return "Started"
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

// StateError reports that an operation was attempted while the process was
// in a state that does not permit it.
type StateError struct {
	Op       string
	Expected []State
	Actual   State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("vmmprocess: %s requires state in %v, got %s", e.Op, e.Expected, e.Actual)
}

func requireState(op string, actual State, allowed ...State) error {
	for _, s := range allowed {
		if actual == s {
			return nil
		}
	}
	return &StateError{Op: op, Expected: allowed, Actual: actual}
}

// Process glues an executor, a resource system and an installation into the
// VMM process state machine, lazily exposing the VMM's management API over
// its Unix domain socket once it is running.
type Process struct {
	mu sync.Mutex

	executor     executor.VmmExecutor
	system       *resource.System
	installation installation.Installation
	ectx         executor.Context
	log          *logrus.Entry

	state  State
	handle *procutil.Handle

	clientOnce sync.Once
	client     *http.Client
	clientErr  error
}

// New builds a VMM process in the AwaitingPrepare state.
func New(exec executor.VmmExecutor, ectx executor.Context, log *logrus.Entry) *Process {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Process{
		executor:     exec,
		system:       ectx.System,
		installation: ectx.Installation,
		ectx:         ectx,
		log:          log.WithField("component", "vmmprocess"),
		state:        AwaitingPrepare,
	}
}

// State returns the process's current lifecycle state, first polling the
// underlying process handle (if started) for a fresh exit observation.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshState()
	return p.state
}

// refreshState must be called with mu held.
func (p *Process) refreshState() {
	if p.state != Started || p.handle == nil {
		return
	}
	status, err := p.handle.TryWait()
	if err != nil {
		p.log.WithError(err).Warn("try_wait failed while polling VMM process")
		return
	}
	if status == nil {
		return
	}
	if status.Success() {
		p.state = Exited
		p.log.Debug("VMM process exited cleanly")
	} else {
		p.state = Crashed
		p.log.WithField("exit_code", status.ExitCode()).Warn("VMM process crashed")
	}
}

// Prepare requires AwaitingPrepare. It runs the executor's prepare step and
// synchronizes the resource system, transitioning to AwaitingStart.
func (p *Process) Prepare(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := requireState("prepare", p.state, AwaitingPrepare); err != nil {
		return err
	}

	if err := p.executor.Prepare(ctx, p.ectx); err != nil {
		return fmt.Errorf("vmmprocess: prepare: %w", err)
	}
	if err := p.system.Synchronize(ctx); err != nil {
		return fmt.Errorf("vmmprocess: prepare: synchronize: %w", err)
	}

	p.state = AwaitingStart
	p.log.Debug("VMM process prepared")
	return nil
}

// Invoke requires AwaitingStart. It invokes the executor to obtain a process
// handle, then synchronizes the resource system again before transitioning
// to Started.
func (p *Process) Invoke(ctx context.Context, configPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := requireState("invoke", p.state, AwaitingStart); err != nil {
		return err
	}

	handle, err := p.executor.Invoke(ctx, p.ectx, configPath)
	if err != nil {
		return fmt.Errorf("vmmprocess: invoke: %w", err)
	}
	p.handle = handle

	if err := p.system.Synchronize(ctx); err != nil {
		return fmt.Errorf("vmmprocess: invoke: synchronize: %w", err)
	}

	p.state = Started
	p.log.Debug("VMM process started")
	return nil
}

// GetSocketPath delegates to the executor's GetSocketPath for this process's
// installation.
func (p *Process) GetSocketPath() (string, bool) {
	return p.executor.GetSocketPath(p.installation)
}

// GetEffectivePathFromLocal delegates to the executor's ResolveEffectivePath.
func (p *Process) GetEffectivePathFromLocal(localPath string) string {
	return p.executor.ResolveEffectivePath(p.installation, localPath)
}

// Installation returns the Firecracker installation this process was built
// against, so that a new process (e.g. one restored from a snapshot) can
// reuse the same verified binaries.
func (p *Process) Installation() installation.Installation {
	return p.installation
}

// System returns the resource system backing this process, so that
// resources discovered only after the VMM is running (e.g. snapshot files
// named by the caller) can be registered on it.
func (p *Process) System() *resource.System {
	return p.system
}

// httpClient lazily constructs the Unix-socket HTTP/1 client used for API
// requests, upgrading ownership of the socket path exactly once so the
// controller can dial it even under a Downgraded ownership model.
func (p *Process) httpClient(ctx context.Context) (*http.Client, error) {
	socketPath, ok := p.GetSocketPath()
	if !ok {
		return nil, fmt.Errorf("vmmprocess: API socket is disabled for this executor")
	}

	p.clientOnce.Do(func() {
		if err := ownership.Upgrade(ctx, socketPath, p.ectx.Model, p.ectx.Spawner); err != nil {
			p.clientErr = fmt.Errorf("vmmprocess: upgrading socket ownership: %w", err)
			return
		}
		dialer := &net.Dialer{}
		p.client = &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return dialer.DialContext(ctx, "unix", socketPath)
				},
			},
		}
	})
	return p.client, p.clientErr
}

// ApiFault is the error shape returned by SendApiRequest when the VMM
// responds with a non-2xx status carrying a JSON fault body.
type ApiFault struct {
	StatusCode int
	Message    string
}

func (e *ApiFault) Error() string {
	return fmt.Sprintf("vmmprocess: API request failed with status %d: %s", e.StatusCode, e.Message)
}

type apiFaultBody struct {
	FaultMessage string `json:"fault_message"`
}

// SendApiRequest requires Started. It rewrites req's URL to point at the
// lazily-initialized Unix-socket client and issues it, returning the raw
// *http.Response for the caller to decode. A non-2xx response is decoded as
// an ApiFault rather than returned as a bare *http.Response.
func (p *Process) SendApiRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	p.mu.Lock()
	if err := requireState("send_api_request", p.state, Started); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Unlock()

	client, err := p.httpClient(ctx)
	if err != nil {
		return nil, err
	}

	req = req.Clone(ctx)
	req.URL.Scheme = "http"
	req.URL.Host = "unix-socket"

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vmmprocess: API request: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	var body apiFaultBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return nil, &ApiFault{StatusCode: resp.StatusCode, Message: body.FaultMessage}
}

// SendCtrlAltDel requires Started. It sends the VMM's graceful-shutdown
// action over the management API.
func (p *Process) SendCtrlAltDel(ctx context.Context) error {
	body := `{"action_type":"SendCtrlAltDel"}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, "http://unix-socket/actions", strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.SendApiRequest(ctx, req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// SendSigkill requires Started. It forcibly kills the VMM process.
func (p *Process) SendSigkill() error {
	p.mu.Lock()
	if err := requireState("send_sigkill", p.state, Started); err != nil {
		p.mu.Unlock()
		return err
	}
	handle := p.handle
	p.mu.Unlock()

	return handle.SendSigkill()
}

// TakePipes requires Started. It transfers ownership of the process's stdio
// pipes to the caller, one-shot.
func (p *Process) TakePipes() (*procutil.Pipes, error) {
	p.mu.Lock()
	if err := requireState("take_pipes", p.state, Started); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	handle := p.handle
	p.mu.Unlock()

	return handle.GetPipes()
}

// WaitForExit requires Started. It blocks until the process has exited and
// updates the recorded state accordingly.
func (p *Process) WaitForExit() (procutil.ExitStatus, error) {
	p.mu.Lock()
	if err := requireState("wait_for_exit", p.state, Started); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	handle := p.handle
	p.mu.Unlock()

	status, err := handle.Wait()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if status.Success() {
		p.state = Exited
	} else {
		p.state = Crashed
	}
	p.mu.Unlock()

	return status, nil
}

// Cleanup requires Exited or Crashed. It calls the executor's cleanup and
// synchronizes the resource system once more, then transitions to the
// terminal CleanedUp state so a second call is rejected by requireState
// instead of silently repeating (and no-op-ing) the teardown.
func (p *Process) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := requireState("cleanup", p.state, Exited, Crashed); err != nil {
		return err
	}

	if err := p.executor.Cleanup(ctx, p.ectx); err != nil {
		return fmt.Errorf("vmmprocess: cleanup: %w", err)
	}
	if err := p.system.Synchronize(ctx); err != nil {
		return fmt.Errorf("vmmprocess: cleanup: synchronize: %w", err)
	}

	p.state = CleanedUp
	p.log.Debug("VMM process cleaned up")
	return nil
}
