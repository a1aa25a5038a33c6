//go:build !linux

package procutil

import "errors"

// detachedState is unsupported outside Linux: pidfd is a Linux-only
// kernel facility, and a jailed, daemonizing executor is itself a
// Linux-only concept.
type detachedState struct{}

// Detached is unavailable on non-Linux platforms.
func Detached(pid int) (*Handle, error) {
	return nil, errors.New("procutil: detached process handles require Linux (pidfd)")
}

func (d *detachedState) sendSigkill() error {
	return errors.New("procutil: detached process handles require Linux (pidfd)")
}

func (d *detachedState) wait() (ExitStatus, error) {
	return nil, errors.New("procutil: detached process handles require Linux (pidfd)")
}

func (d *detachedState) tryWait() (ExitStatus, error) {
	return nil, errors.New("procutil: detached process handles require Linux (pidfd)")
}
