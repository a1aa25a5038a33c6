package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/pipeops/vmmcore/procutil"
)

// ShutdownMethod selects how a single shutdown action signals the VMM.
type ShutdownMethod struct {
	kind          shutdownKind
	serialPayload []byte
}

type shutdownKind int

const (
	shutdownKill shutdownKind = iota
	shutdownPauseThenKill
	shutdownCtrlAltDel
	shutdownWriteToSerial
)

// ShutdownKill sends SIGKILL directly.
func ShutdownKill() ShutdownMethod { return ShutdownMethod{kind: shutdownKill} }

// ShutdownPauseThenKill pauses the VM over the API before sending SIGKILL,
// avoiding a race between a vCPU mid-instruction and the kill signal.
func ShutdownPauseThenKill() ShutdownMethod { return ShutdownMethod{kind: shutdownPauseThenKill} }

// ShutdownCtrlAltDel sends the guest a Ctrl-Alt-Del, which most init systems
// treat as a graceful power-off request.
func ShutdownCtrlAltDel() ShutdownMethod { return ShutdownMethod{kind: shutdownCtrlAltDel} }

// ShutdownWriteToSerial writes payload to the VM's stdin pipe, for guests
// that watch their serial console for a shutdown command.
func ShutdownWriteToSerial(payload []byte) ShutdownMethod {
	return ShutdownMethod{kind: shutdownWriteToSerial, serialPayload: payload}
}

func (m ShutdownMethod) run(ctx context.Context, v *VM) (procutil.ExitStatus, error) {
	switch m.kind {
	case shutdownKill:
		if err := v.process.SendSigkill(); err != nil {
			return nil, fmt.Errorf("sending sigkill: %w", err)
		}
	case shutdownPauseThenKill:
		if err := v.Pause(ctx); err != nil {
			return nil, fmt.Errorf("pausing before kill: %w", err)
		}
		if err := v.process.SendSigkill(); err != nil {
			return nil, fmt.Errorf("sending sigkill: %w", err)
		}
	case shutdownCtrlAltDel:
		if err := v.process.SendCtrlAltDel(ctx); err != nil {
			return nil, fmt.Errorf("sending ctrl-alt-del: %w", err)
		}
	case shutdownWriteToSerial:
		pipes, err := v.process.TakePipes()
		if err != nil {
			return nil, fmt.Errorf("taking pipes: %w", err)
		}
		if _, err := pipes.Stdin.Write(m.serialPayload); err != nil {
			return nil, fmt.Errorf("writing to serial: %w", err)
		}
	}

	return v.process.WaitForExit()
}

// ShutdownAction is one attempt in a shutdown sequence: a method, an
// optional timeout, and whether a successful exit via this method counts
// as graceful.
type ShutdownAction struct {
	method   ShutdownMethod
	timeout  time.Duration
	graceful bool
}

// NewShutdownAction builds a ShutdownAction defaulting to graceful and
// without a timeout.
func NewShutdownAction(method ShutdownMethod) ShutdownAction {
	return ShutdownAction{method: method, graceful: true}
}

// WithGraceful overrides whether a successful exit via this action is
// considered graceful.
func (a ShutdownAction) WithGraceful(graceful bool) ShutdownAction {
	a.graceful = graceful
	return a
}

// WithTimeout bounds how long this action is allowed to take before it is
// abandoned in favor of the next action in the sequence.
func (a ShutdownAction) WithTimeout(timeout time.Duration) ShutdownAction {
	a.timeout = timeout
	return a
}

// ShutdownOutcome reports the result of whichever action in a Shutdown
// sequence succeeded, along with the errors accumulated from the actions
// that preceded it.
type ShutdownOutcome struct {
	ExitStatus procutil.ExitStatus
	Graceful   bool
	Errors     []error
}

// FullyGraceful reports whether the successful action was graceful and the
// VMM itself exited with a success status.
func (o ShutdownOutcome) FullyGraceful() bool {
	return o.Graceful && o.ExitStatus.Success()
}

// Shutdown requires Running or Paused. It tries each action in order and
// returns at the first one that observes the VMM exit within its timeout,
// whatever the exit status; an action that errors or times out is recorded
// in Errors and the next action is tried. If every action errors, the last
// error is returned.
func (v *VM) Shutdown(ctx context.Context, actions ...ShutdownAction) (ShutdownOutcome, error) {
	if err := v.ensureState("shutdown", Running, Paused); err != nil {
		return ShutdownOutcome{}, err
	}
	if len(actions) == 0 {
		return ShutdownOutcome{}, fmt.Errorf("vm: shutdown: no actions specified")
	}

	var errs []error
	for _, action := range actions {
		status, err := v.runShutdownAction(ctx, action)
		if err == nil {
			return ShutdownOutcome{ExitStatus: status, Graceful: action.graceful, Errors: errs}, nil
		}
		errs = append(errs, err)
	}

	return ShutdownOutcome{}, errs[len(errs)-1]
}

func (v *VM) runShutdownAction(ctx context.Context, action ShutdownAction) (procutil.ExitStatus, error) {
	if action.timeout <= 0 {
		return action.method.run(ctx, v)
	}

	actionCtx, cancel := context.WithTimeout(ctx, action.timeout)
	defer cancel()

	type result struct {
		status procutil.ExitStatus
		err    error
	}
	done := make(chan result, 1)
	go func() {
		status, err := action.method.run(actionCtx, v)
		done <- result{status, err}
	}()

	select {
	case r := <-done:
		return r.status, r.err
	case <-actionCtx.Done():
		return nil, fmt.Errorf("timed out after %s", action.timeout)
	}
}
