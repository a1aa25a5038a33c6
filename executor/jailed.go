package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pipeops/vmmcore/installation"
	"github.com/pipeops/vmmcore/ownership"
	"github.com/pipeops/vmmcore/procspawn"
	"github.com/pipeops/vmmcore/procutil"
	"github.com/pipeops/vmmcore/resource"
	"github.com/pipeops/vmmcore/vmmargs"
)

const defaultChrootBaseDir = "/srv/jailer"

// JailRenamerError describes why a JailRenamer could not produce an
// inside-jail path for a given outside path.
type JailRenamerError struct {
	Path   string
	Reason string
}

func (e *JailRenamerError) Error() string {
	return fmt.Sprintf("jail renamer: %s: %s", e.Path, e.Reason)
}

// JailRenamer converts a host path outside the jail into the path it
// should be moved to inside the jail. The same outside path must always
// produce the same result.
type JailRenamer interface {
	RenameForJail(outsidePath string) (string, error)
}

// FlatJailRenamer drops every directory component and places the file
// directly at the jail root, keyed only by filename. This is sufficient
// as long as every moved resource has a distinct filename.
type FlatJailRenamer struct{}

var _ JailRenamer = FlatJailRenamer{}

// RenameForJail implements JailRenamer.
func (FlatJailRenamer) RenameForJail(outsidePath string) (string, error) {
	base := filepath.Base(outsidePath)
	if base == "/" || base == "." {
		return "", &JailRenamerError{Path: outsidePath, Reason: "path has no filename"}
	}
	return "/" + base, nil
}

// MappingJailRenamer resolves inside-jail paths from an explicit,
// caller-supplied table, for callers that need control over the jail
// layout beyond FlatJailRenamer's flattening.
type MappingJailRenamer struct {
	mappings map[string]string
}

var _ JailRenamer = (*MappingJailRenamer)(nil)

// NewMappingJailRenamer builds an empty MappingJailRenamer; use Map to
// populate it.
func NewMappingJailRenamer() *MappingJailRenamer {
	return &MappingJailRenamer{mappings: make(map[string]string)}
}

// Map registers the inside-jail path an outside path should resolve to.
func (m *MappingJailRenamer) Map(outsidePath, insidePath string) *MappingJailRenamer {
	m.mappings[outsidePath] = insidePath
	return m
}

// RenameForJail implements JailRenamer.
func (m *MappingJailRenamer) RenameForJail(outsidePath string) (string, error) {
	inside, ok := m.mappings[outsidePath]
	if !ok {
		return "", &JailRenamerError{Path: outsidePath, Reason: "unmapped"}
	}
	return inside, nil
}

// jailJoin joins a jail-relative path onto a jail root, treating other as
// absolute from the jail's perspective regardless of how many leading
// slashes it carries.
func jailJoin(jailPath, other string) string {
	return filepath.Join(jailPath, strings.TrimLeft(other, "/"))
}

// Jailed runs "firecracker" wrapped in the "jailer" binary, which chroots
// it, optionally joins cgroups, and can drop it into a fresh PID
// namespace. The jailer itself must run as root, though the firecracker
// process it launches need not.
type Jailed struct {
	Arguments        *vmmargs.Arguments
	JailerArguments  *vmmargs.JailerArguments
	JailRenamer      JailRenamer
	CommandModifiers []vmmargs.CommandModifier
}

var _ VmmExecutor = (*Jailed)(nil)

// NewJailed builds a Jailed executor. jailRenamer must not be nil; pass
// FlatJailRenamer{} for the common case.
func NewJailed(args *vmmargs.Arguments, jailerArgs *vmmargs.JailerArguments, jailRenamer JailRenamer) *Jailed {
	return &Jailed{Arguments: args, JailerArguments: jailerArgs, JailRenamer: jailRenamer}
}

// WithCommandModifier appends a single command modifier to the chain
// applied to the jailer invocation before spawning.
func (j *Jailed) WithCommandModifier(m vmmargs.CommandModifier) *Jailed {
	j.CommandModifiers = append(j.CommandModifiers, m)
	return j
}

// getPaths returns the chroot base directory and the full jail root path
// (chroot_base_dir/firecracker_basename/jail_id/root) for inst.
func (j *Jailed) getPaths(inst installation.Installation) (chrootBaseDir, jailPath string) {
	chrootBaseDir = j.JailerArguments.GetChrootBaseDir()
	if chrootBaseDir == "" {
		chrootBaseDir = defaultChrootBaseDir
	}

	base := filepath.Base(inst.FirecrackerPath)
	if base == "." || base == "/" || base == "" {
		base = "firecracker"
	}

	jailPath = filepath.Join(chrootBaseDir, base, string(j.JailerArguments.JailID()), "root")
	return chrootBaseDir, jailPath
}

// GetSocketPath implements VmmExecutor.
func (j *Jailed) GetSocketPath(inst installation.Installation) (string, bool) {
	sock := j.Arguments.ApiSocket()
	if sock.Mode != vmmargs.ApiSocketEnabled {
		return "", false
	}
	_, jailPath := j.getPaths(inst)
	return jailJoin(jailPath, sock.Path), true
}

// ResolveEffectivePath implements VmmExecutor.
func (j *Jailed) ResolveEffectivePath(inst installation.Installation, virtualPath string) string {
	_, jailPath := j.getPaths(inst)
	return jailJoin(jailPath, virtualPath)
}

// Prepare implements VmmExecutor: it recreates the jail directory tree,
// relocates every Moved, Created and Produced resource into it, and hands the
// whole tree to the VMM's UID/GID.
func (j *Jailed) Prepare(ctx context.Context, ectx Context) error {
	chrootBaseDir, jailPath := j.getPaths(ectx.Installation)

	if err := ownership.Upgrade(ctx, chrootBaseDir, ectx.Model, ectx.Spawner); err != nil {
		return &Error{Op: "prepare", Err: err}
	}

	if _, err := os.Stat(jailPath); err == nil {
		if err := os.RemoveAll(jailPath); err != nil {
			return &Error{Op: "prepare", Err: err}
		}
	} else if !os.IsNotExist(err) {
		return &Error{Op: "prepare", Err: err}
	}
	if err := os.MkdirAll(jailPath, 0o755); err != nil {
		return &Error{Op: "prepare", Err: err}
	}

	if sock := j.Arguments.ApiSocket(); sock.Mode == vmmargs.ApiSocketEnabled {
		if parent := filepath.Dir(sock.Path); parent != "." && parent != "/" {
			if err := os.MkdirAll(jailJoin(jailPath, parent), 0o755); err != nil {
				return &Error{Op: "prepare", Err: err}
			}
		}
	}

	for _, r := range ectx.resourcesByKind(resource.KindCreated) {
		effectivePath := jailJoin(jailPath, r.GetInitialPath())
		if err := r.StartInitialization(effectivePath, nil); err != nil {
			return &Error{Op: "prepare", Err: err}
		}
	}

	for _, r := range ectx.resourcesByKind(resource.KindMoved) {
		localPath, err := j.JailRenamer.RenameForJail(r.GetInitialPath())
		if err != nil {
			return &Error{Op: "prepare", Err: err}
		}
		effectivePath := jailJoin(jailPath, localPath)
		if err := r.StartInitialization(effectivePath, &localPath); err != nil {
			return &Error{Op: "prepare", Err: err}
		}
	}

	for _, r := range ectx.resourcesByKind(resource.KindProduced) {
		localPath, err := j.JailRenamer.RenameForJail(r.GetInitialPath())
		if err != nil {
			return &Error{Op: "prepare", Err: err}
		}
		effectivePath := jailJoin(jailPath, localPath)
		if err := r.StartInitialization(effectivePath, &localPath); err != nil {
			return &Error{Op: "prepare", Err: err}
		}
	}

	if err := ectx.System.Synchronize(ctx); err != nil {
		return &Error{Op: "prepare", Err: err}
	}

	if err := ownership.DowngradeRecursive(jailPath, ectx.Model); err != nil {
		return &Error{Op: "prepare", Err: err}
	}
	return nil
}

// Invoke implements VmmExecutor. When the jailer arguments request
// daemonization or a new PID namespace, the jailer process is awaited to
// completion and the real firecracker PID is recovered from a pidfile it
// writes inside the jail, yielding a detached handle; otherwise the
// jailer's own child process is returned directly, since it execs into
// firecracker in place.
func (j *Jailed) Invoke(ctx context.Context, ectx Context, configPath string) (*procutil.Handle, error) {
	args := j.JailerArguments.Join(ectx.Installation.FirecrackerPath)
	binaryPath := ectx.Installation.JailerPath

	args = append(args, "--")
	args = append(args, j.Arguments.Join(configPath)...)

	binaryPath, args = vmmargs.ApplyCommandModifierChain(binaryPath, args, j.CommandModifiers)

	// Stdio is always piped here: nulling it would be redundant, since
	// the jailer handles that itself when daemonizing.
	proc, err := ectx.Spawner.Spawn(ctx, binaryPath, args, procspawn.StdioPiped)
	if err != nil {
		return nil, &Error{Op: "invoke", Err: err}
	}

	if !j.JailerArguments.Daemonized() && !j.JailerArguments.NewPidNS() {
		return procutil.Attached(proc, false), nil
	}

	_, jailPath := j.getPaths(ectx.Installation)
	base := filepath.Base(ectx.Installation.FirecrackerPath)
	if base == "." || base == "/" || base == "" {
		base = "firecracker"
	}
	pidFilePath := filepath.Join(jailPath, base+".pid")

	waitErr := proc.Cmd.Wait()
	state := proc.Cmd.ProcessState
	if waitErr != nil && state == nil {
		return nil, &Error{Op: "invoke", Err: waitErr}
	}
	if state == nil || !state.Success() {
		return nil, &Error{Op: "invoke", Err: fmt.Errorf("jailer exited with status %v", state)}
	}

	if err := ownership.Upgrade(ctx, pidFilePath, ectx.Model, ectx.Spawner); err != nil {
		return nil, &Error{Op: "invoke", Err: err}
	}

	pid, err := pollPidFile(ctx, pidFilePath)
	if err != nil {
		return nil, &Error{Op: "invoke", Err: err}
	}

	handle, err := procutil.Detached(pid)
	if err != nil {
		return nil, &Error{Op: "invoke", Err: err}
	}
	return handle, nil
}

// pollPidFile polls path until it contains a parseable integer PID or
// ctx is done.
func pollPidFile(ctx context.Context, path string) (int, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if data, err := os.ReadFile(path); err == nil {
			if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
				return pid, nil
			}
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cleanup implements VmmExecutor: it hands the whole jail directory back
// to the controller's UID/GID, then removes it in its entirety. Unlike
// the unrestricted executor, created resources are never disposed
// individually, since deleting the jail already removes them.
func (j *Jailed) Cleanup(ctx context.Context, ectx Context) error {
	_, jailPath := j.getPaths(ectx.Installation)

	if err := ownership.Upgrade(ctx, jailPath, ectx.Model, ectx.Spawner); err != nil {
		return &Error{Op: "cleanup", Err: err}
	}

	parent := filepath.Dir(jailPath)
	if parent == jailPath {
		return &Error{Op: "cleanup", Err: fmt.Errorf("jail path %s has no parent directory", jailPath)}
	}

	if err := os.RemoveAll(parent); err != nil {
		return &Error{Op: "cleanup", Err: err}
	}
	return nil
}
