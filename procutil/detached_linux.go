//go:build linux

package procutil

import (
	"sync"

	"golang.org/x/sys/unix"
)

// detachedState wraps a process that is not a child of this program and
// is only reachable through a pidfd obtained from its PID. This is the
// shape a jailed, daemonized VMM takes once it re-execs into a fresh PID
// namespace: the jailer itself has already exited, and the VMM's real
// PID is recovered from a pidfile inside the jail.
type detachedState struct {
	pidfd int

	waitOnce  sync.Once
	reaped    chan struct{}
	waitState ExitStatus
	waitErr   error
}

// Detached opens a pidfd for pid and returns a Handle that tracks it.
func Detached(pid int) (*Handle, error) {
	pidfd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		return nil, err
	}
	return &Handle{detached: &detachedState{pidfd: pidfd, reaped: make(chan struct{})}}, nil
}

func (d *detachedState) sendSigkill() error {
	select {
	case <-d.reaped:
		return ErrAlreadyExited
	default:
	}
	return unix.PidfdSendSignal(d.pidfd, unix.SIGKILL, nil, 0)
}

// waitForReadable blocks, at most once across the handle's lifetime,
// until the pidfd becomes readable (the kernel's signal that the target
// process has exited), recording a synthesized ExitStatus.
func (d *detachedState) waitForReadable() {
	d.waitOnce.Do(func() {
		defer close(d.reaped)

		fds := []unix.PollFd{{Fd: int32(d.pidfd), Events: unix.POLLIN}}
		for {
			n, err := unix.Poll(fds, -1)
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				d.waitErr = err
				return
			}
			if n > 0 {
				break
			}
		}

		d.waitState = syntheticExitStatus{}
		_ = unix.Close(d.pidfd)
	})
}

func (d *detachedState) wait() (ExitStatus, error) {
	d.waitForReadable()
	return d.waitState, d.waitErr
}

func (d *detachedState) tryWait() (ExitStatus, error) {
	select {
	case <-d.reaped:
		return d.waitState, d.waitErr
	default:
	}

	fds := []unix.PollFd{{Fd: int32(d.pidfd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil && err != unix.EINTR {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	d.waitForReadable()
	return d.waitState, d.waitErr
}
