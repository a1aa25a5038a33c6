package executor

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/pipeops/vmmcore/installation"
	"github.com/pipeops/vmmcore/ownership"
	"github.com/pipeops/vmmcore/procspawn"
	"github.com/pipeops/vmmcore/procutil"
	"github.com/pipeops/vmmcore/resource"
	"github.com/pipeops/vmmcore/vmmargs"
)

// Unrestricted runs "firecracker" directly, with no chroot, cgroup, or
// namespace isolation. Rootless execution is possible given access to
// /dev/kvm, but Firecracker's own developers discourage this mode in
// production.
type Unrestricted struct {
	Arguments        *vmmargs.Arguments
	CommandModifiers []vmmargs.CommandModifier
	PipesToNull      bool
	ID               string
}

var _ VmmExecutor = (*Unrestricted)(nil)

// NewUnrestricted builds an Unrestricted executor around the given VMM
// arguments.
func NewUnrestricted(args *vmmargs.Arguments) *Unrestricted {
	return &Unrestricted{Arguments: args}
}

// WithCommandModifier appends a single command modifier to the chain
// applied before spawning.
func (u *Unrestricted) WithCommandModifier(m vmmargs.CommandModifier) *Unrestricted {
	u.CommandModifiers = append(u.CommandModifiers, m)
	return u
}

// WithPipesToNull redirects the VMM's stdio to /dev/null instead of
// piping it.
func (u *Unrestricted) WithPipesToNull() *Unrestricted {
	u.PipesToNull = true
	return u
}

// WithID attaches a --id flag identifying this VMM instance.
func (u *Unrestricted) WithID(id string) *Unrestricted {
	u.ID = id
	return u
}

// GetSocketPath implements VmmExecutor.
func (u *Unrestricted) GetSocketPath(_ installation.Installation) (string, bool) {
	sock := u.Arguments.ApiSocket()
	if sock.Mode != vmmargs.ApiSocketEnabled {
		return "", false
	}
	return sock.Path, true
}

// ResolveEffectivePath implements VmmExecutor. The unrestricted executor
// never relocates files, so virtual and effective paths coincide.
func (u *Unrestricted) ResolveEffectivePath(_ installation.Installation, virtualPath string) string {
	return virtualPath
}

// Prepare implements VmmExecutor.
func (u *Unrestricted) Prepare(ctx context.Context, ectx Context) error {
	for _, r := range ectx.resourcesByKind(resource.KindMoved) {
		if err := r.StartInitializationWithSamePath(); err != nil {
			return &Error{Op: "prepare", Err: err}
		}
	}
	for _, r := range ectx.resourcesByKind(resource.KindCreated) {
		if err := r.StartInitializationWithSamePath(); err != nil {
			return &Error{Op: "prepare", Err: err}
		}
	}
	for _, r := range ectx.resourcesByKind(resource.KindProduced) {
		if err := r.StartInitializationWithSamePath(); err != nil {
			return &Error{Op: "prepare", Err: err}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ectx.System.Synchronize(gctx) })

	if sock := u.Arguments.ApiSocket(); sock.Mode == vmmargs.ApiSocketEnabled {
		g.Go(func() error { return clearStaleSocket(gctx, sock.Path, ectx.Model, ectx.Spawner) })
	}

	if err := g.Wait(); err != nil {
		return &Error{Op: "prepare", Err: err}
	}
	return nil
}

// Invoke implements VmmExecutor.
func (u *Unrestricted) Invoke(ctx context.Context, ectx Context, configPath string) (*procutil.Handle, error) {
	args := u.Arguments.Join(configPath)
	binaryPath := ectx.Installation.FirecrackerPath

	binaryPath, args = vmmargs.ApplyCommandModifierChain(binaryPath, args, u.CommandModifiers)

	if u.ID != "" {
		args = append(args, "--id", u.ID)
	}

	stdio := procspawn.StdioPiped
	if u.PipesToNull {
		stdio = procspawn.StdioNull
	}

	proc, err := ectx.Spawner.Spawn(ctx, binaryPath, args, stdio)
	if err != nil {
		return nil, &Error{Op: "invoke", Err: err}
	}
	return procutil.Attached(proc, u.PipesToNull), nil
}

// Cleanup implements VmmExecutor.
func (u *Unrestricted) Cleanup(ctx context.Context, ectx Context) error {
	for _, r := range ectx.resourcesByKind(resource.KindCreated) {
		if r.GetState() == resource.Initialized {
			if err := r.StartDisposal(); err != nil {
				return &Error{Op: "cleanup", Err: err}
			}
		}
	}
	for _, r := range ectx.resourcesByKind(resource.KindProduced) {
		if r.GetState() == resource.Initialized {
			if err := r.StartDisposal(); err != nil {
				return &Error{Op: "cleanup", Err: err}
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ectx.System.Synchronize(gctx) })

	if sock := u.Arguments.ApiSocket(); sock.Mode == vmmargs.ApiSocketEnabled {
		g.Go(func() error { return clearStaleSocket(gctx, sock.Path, ectx.Model, ectx.Spawner) })
	}

	if err := g.Wait(); err != nil {
		return &Error{Op: "cleanup", Err: err}
	}
	return nil
}

// clearStaleSocket upgrades ownership of a VMM API socket path (needed
// when a previous, downgraded VMM left it behind) and removes it if
// still present, so the VMM can bind a fresh socket at the same path.
func clearStaleSocket(ctx context.Context, path string, model ownership.Model, spawner procspawn.Spawner) error {
	if err := ownership.Upgrade(ctx, path, model, spawner); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
