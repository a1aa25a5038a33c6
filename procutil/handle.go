// Package procutil wraps a spawned VMM or jailer process behind a single
// handle type, whether that process is a direct child of this program or
// a detached process reached only through a PID recovered from a file
// (as happens once the jailer daemonizes and re-execs into a new PID
// namespace).
package procutil

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/pipeops/vmmcore/procspawn"
)

// Pipes are the stdio streams of an attached process. They can only be
// obtained once, and only for a process that was spawned with piped
// stdio.
type Pipes struct {
	Stdout io.ReadCloser
	Stderr io.ReadCloser
	Stdin  io.WriteCloser
}

var (
	// ErrProcessIsDetached is returned by GetPipes when the handle points
	// to a detached process reached via pidfd, which never carries pipes.
	ErrProcessIsDetached = errors.New("procutil: handle points to a detached process")
	// ErrPipesWereDropped is returned when the process was spawned with
	// its stdio redirected to /dev/null.
	ErrPipesWereDropped = errors.New("procutil: pipes of the process were dropped")
	// ErrPipesAlreadyTaken is returned on a second call to GetPipes.
	ErrPipesAlreadyTaken = errors.New("procutil: pipes were already taken")
	// ErrAlreadyExited is returned by SendSigkill on a process already
	// known to have exited.
	ErrAlreadyExited = errors.New("procutil: process has already exited")
)

// ExitStatus reports how a wrapped process exited. For an attached
// process this is backed by the real *os.ProcessState. For a detached
// process, reached only through a pidfd, the kernel gives no way to
// recover the real exit status from outside its process tree, so a
// synthesized, always-successful status is reported once the pidfd
// becomes readable.
type ExitStatus interface {
	Success() bool
	ExitCode() int
}

type syntheticExitStatus struct{}

func (syntheticExitStatus) Success() bool { return true }
func (syntheticExitStatus) ExitCode() int { return 0 }

// Handle is a thin abstraction over either an attached child process, or
// a detached process outside of this program's process tree that is only
// observable through a pidfd.
type Handle struct {
	mu sync.Mutex

	attached *attachedState
	detached *detachedState
}

type attachedState struct {
	proc         *procspawn.Process
	pipesDropped bool
	pipesTaken   bool

	reapOnce  sync.Once
	reaped    chan struct{}
	waitState *os.ProcessState
	waitErr   error
}

func (s *attachedState) exitStatus() ExitStatus {
	if s.waitState == nil {
		return nil
	}
	return s.waitState
}

// reap starts, at most once, a goroutine that blocks on Cmd.Wait and
// records the result. Wait and TryWait both call this before consulting
// reaped, so whichever of them is called first owns the actual wait.
// A non-zero exit is reported through the exit status, not as an error.
func (a *attachedState) reap() {
	a.reapOnce.Do(func() {
		a.reaped = make(chan struct{})
		go func() {
			err := a.proc.Cmd.Wait()
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				err = nil
			}
			a.waitErr = err
			a.waitState = a.proc.Cmd.ProcessState
			close(a.reaped)
		}()
	})
}

// Attached wraps a process spawned in-tree by a procspawn.Spawner.
// pipesDropped must be true when the process was spawned with stdio
// redirected rather than piped.
func Attached(proc *procspawn.Process, pipesDropped bool) *Handle {
	return &Handle{attached: &attachedState{proc: proc, pipesDropped: pipesDropped}}
}

// SendSigkill sends SIGKILL to the underlying process.
func (h *Handle) SendSigkill() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.attached != nil {
		return h.attached.proc.Cmd.Process.Kill()
	}
	return h.detached.sendSigkill()
}

// Wait blocks until the process has exited and returns its exit status.
// h's lock is not held while blocking, so SendSigkill and TryWait remain
// usable from another goroutine while Wait is in flight.
func (h *Handle) Wait() (ExitStatus, error) {
	h.mu.Lock()
	if h.attached != nil {
		a := h.attached
		h.mu.Unlock()

		a.reap()
		<-a.reaped
		return a.exitStatus(), a.waitErr
	}
	d := h.detached
	h.mu.Unlock()
	return d.wait()
}

// TryWait checks, without blocking, whether the process has exited. It
// returns (nil, nil) if the process is still running.
func (h *Handle) TryWait() (ExitStatus, error) {
	h.mu.Lock()
	if h.attached != nil {
		a := h.attached
		h.mu.Unlock()

		a.reap()
		select {
		case <-a.reaped:
			return a.exitStatus(), a.waitErr
		default:
			return nil, nil
		}
	}
	d := h.detached
	h.mu.Unlock()
	return d.tryWait()
}

// GetPipes returns the stdio pipes of an attached process. It fails for
// detached processes, processes spawned with stdio dropped, or on a
// second call.
func (h *Handle) GetPipes() (*Pipes, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.attached == nil {
		return nil, ErrProcessIsDetached
	}
	a := h.attached
	if a.pipesDropped {
		return nil, ErrPipesWereDropped
	}
	if a.pipesTaken {
		return nil, ErrPipesAlreadyTaken
	}
	if a.proc.Stdout == nil || a.proc.Stderr == nil || a.proc.Stdin == nil {
		return nil, ErrPipesAlreadyTaken
	}

	a.pipesTaken = true
	return &Pipes{Stdout: a.proc.Stdout, Stderr: a.proc.Stderr, Stdin: a.proc.Stdin}, nil
}

// IsDetached reports whether this handle wraps a detached process
// reached via pidfd rather than a direct child.
func (h *Handle) IsDetached() bool {
	return h.detached != nil
}
