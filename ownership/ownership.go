// Package ownership implements the chown operations needed to move files
// across the controller/VMM privilege boundary: upgrading a path back to
// the controller's own UID/GID, and downgrading a path to the UID/GID the
// VMM will run under.
package ownership

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/pipeops/vmmcore/procspawn"
)

// Model describes whether a privilege boundary exists between the
// controller and the VMM it manages.
type Model struct {
	// Downgraded is false for the Shared model, true for Downgraded.
	Downgraded bool
	UID        int
	GID        int
}

// Shared is the ownership model with no privilege boundary: the VMM runs
// as the controlling process's own UID/GID.
func Shared() Model { return Model{} }

// Downgraded returns the ownership model under which the VMM runs as the
// given uid/gid, distinct from the controller's.
func Downgraded(uid, gid int) Model {
	return Model{Downgraded: true, UID: uid, GID: gid}
}

// Error is returned by Upgrade and Downgrade.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ownership: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	processUID = os.Geteuid()
	processGID = os.Getegid()
)

// Upgrade changes ownership of path (and everything under it) back to the
// controller's effective UID/GID. Under Shared this is a no-op. Under
// Downgraded, the controller may lack the privilege to chown files
// currently owned by the VMM's UID, so the change is performed by an
// external "chown -f -R" process spawned through spawner, which is
// expected to escalate privilege as needed. Exit status 256 indicates a
// racing concurrent chown and is accepted as success, since the chown
// will still be applied by the other invocation; every other non-zero
// status is a failure.
func Upgrade(ctx context.Context, path string, model Model, spawner procspawn.Spawner) error {
	if !model.Downgraded {
		return nil
	}

	args := []string{
		"-f", "-R",
		fmt.Sprintf("%d:%d", processUID, processGID),
		path,
	}
	proc, err := spawner.Spawn(ctx, "chown", args, procspawn.StdioNull)
	if err != nil {
		return &Error{Op: "upgrade (spawn chown)", Path: path, Err: err}
	}

	err = proc.Cmd.Wait()
	if err == nil {
		return nil
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return &Error{Op: "upgrade (wait chown)", Path: path, Err: err}
	}

	raw := exitErr.ExitCode()
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		raw = int(ws)
	}
	// exit status 256 means a concurrent chown raced this one; the change
	// will still be applied by it, so treat this as success rather than
	// pay for global locking around chown paths.
	if raw == 256 {
		return nil
	}
	return &Error{Op: "upgrade (chown exited)", Path: path, Err: exitErr}
}

// Downgrade changes ownership of path to the VMM's UID/GID. Under Shared
// this is a no-op. Under Downgraded, this is always safe to perform
// in-process via chown(2): the target UID/GID is by construction never
// more privileged than the controller's, so no escalation is required.
// Downgrade touches only path itself; callers that need a recursive
// downgrade walk the tree themselves (see DowngradeRecursive).
func Downgrade(path string, model Model) error {
	if !model.Downgraded {
		return nil
	}
	if err := os.Chown(path, model.UID, model.GID); err != nil {
		return &Error{Op: "downgrade", Path: path, Err: err}
	}
	return nil
}

// DowngradeRecursive downgrades path and every entry beneath it. It is
// used when an entire jail subtree must be handed over to the VMM's
// UID/GID in one step, such as right before invoking the jailer.
func DowngradeRecursive(root string, model Model) error {
	if !model.Downgraded {
		return nil
	}
	err := filepath.WalkDir(root, func(path string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chown(path, model.UID, model.GID)
	})
	if err != nil {
		return &Error{Op: "downgrade recursive", Path: root, Err: err}
	}
	return nil
}
