// Package executor implements the two strategies for running the
// "firecracker" VMM binary: directly (Unrestricted), or wrapped in the
// "jailer" binary for chroot/cgroup/namespace isolation (Jailed). Both
// manage the lifecycle of a VMM's transient resources and hand back a
// unified process handle regardless of how the underlying process was
// started.
package executor

import (
	"context"
	"fmt"

	"github.com/pipeops/vmmcore/installation"
	"github.com/pipeops/vmmcore/ownership"
	"github.com/pipeops/vmmcore/procspawn"
	"github.com/pipeops/vmmcore/procutil"
	"github.com/pipeops/vmmcore/resource"
)

// Error wraps a failure from one of VmmExecutor's operations with the
// operation name it occurred in.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("executor: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Context carries everything a VmmExecutor needs to prepare, invoke, and
// clean up a VMM invocation: where the binaries live, how to spawn
// processes, what privilege boundary applies, and which resources belong
// to this VMM.
type Context struct {
	Installation installation.Installation
	Spawner      procspawn.Spawner
	Model        ownership.Model
	System       *resource.System
}

// resourcesByKind returns every resource registered on the context's
// System whose type has the given Kind, in registration order.
func (c Context) resourcesByKind(kind resource.Kind) []*resource.Resource {
	var out []*resource.Resource
	for _, r := range c.System.GetResources() {
		if r.GetType().Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// VmmExecutor manages the environment a VMM process runs in: locating
// its API socket, preparing resources before launch, invoking the
// process, and cleaning up afterward.
type VmmExecutor interface {
	// GetSocketPath returns the host-visible path to the VMM's API
	// socket under the given installation, or ok=false if the API is
	// disabled.
	GetSocketPath(inst installation.Installation) (path string, ok bool)

	// ResolveEffectivePath maps a resource's virtual (VMM-visible) path
	// to the effective host path it corresponds to under this executor
	// and installation.
	ResolveEffectivePath(inst installation.Installation, virtualPath string) string

	// Prepare schedules initialization of every Moved, Created and
	// Produced resource on ctx.System and blocks until it completes.
	Prepare(ctx context.Context, ectx Context) error

	// Invoke starts the VMM process and returns a handle to it.
	Invoke(ctx context.Context, ectx Context, configPath string) (*procutil.Handle, error)

	// Cleanup schedules disposal of transient resources and/or removes
	// the environment the VMM ran in, blocking until it completes.
	Cleanup(ctx context.Context, ectx Context) error
}
