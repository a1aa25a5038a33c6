package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pipeops/vmmcore/installation"
	"github.com/pipeops/vmmcore/ownership"
	"github.com/pipeops/vmmcore/procspawn"
	"github.com/pipeops/vmmcore/resource"
	"github.com/pipeops/vmmcore/vmmargs"
)

func newTestContext(t *testing.T) (Context, *resource.System) {
	t.Helper()
	sys := resource.New(procspawn.Direct{}, ownership.Shared())
	return Context{
		Installation: installation.Installation{FirecrackerPath: "/bin/true", JailerPath: "/bin/true"},
		Spawner:      procspawn.Direct{},
		Model:        ownership.Shared(),
		System:       sys,
	}, sys
}

func TestUnrestrictedGetSocketPath(t *testing.T) {
	u := NewUnrestricted(vmmargs.NewArguments(vmmargs.EnabledApiSocket("/tmp/api.sock")))
	path, ok := u.GetSocketPath(installation.Installation{})
	if !ok || path != "/tmp/api.sock" {
		t.Errorf("expected enabled socket path, got %s ok=%v", path, ok)
	}

	disabled := NewUnrestricted(vmmargs.NewArguments(vmmargs.DisabledApiSocket()))
	if _, ok := disabled.GetSocketPath(installation.Installation{}); ok {
		t.Error("expected disabled socket to report ok=false")
	}
}

func TestUnrestrictedResolveEffectivePathIsIdentity(t *testing.T) {
	u := NewUnrestricted(vmmargs.NewArguments(vmmargs.DisabledApiSocket()))
	if got := u.ResolveEffectivePath(installation.Installation{}, "/some/path"); got != "/some/path" {
		t.Errorf("expected identity mapping, got %s", got)
	}
}

func TestUnrestrictedPrepareLeavesMovedResourceInPlace(t *testing.T) {
	ectx, sys := newTestContext(t)
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "kernel.bin")
	if err := os.WriteFile(srcPath, []byte("kernel"), 0o644); err != nil {
		t.Fatal(err)
	}

	moved := sys.NewResource(srcPath, resource.Moved(resource.MovedCopy))

	u := NewUnrestricted(vmmargs.NewArguments(vmmargs.DisabledApiSocket()))
	if err := u.Prepare(context.Background(), ectx); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	if moved.GetState() != resource.Initialized {
		t.Errorf("expected moved resource initialized, got %v", moved.GetState())
	}
	effective, ok := moved.GetEffectivePath()
	if !ok || effective != srcPath {
		t.Errorf("expected effective path %s, got %s ok=%v", srcPath, effective, ok)
	}
}

func TestUnrestrictedPrepareInitializesCreatedResource(t *testing.T) {
	ectx, sys := newTestContext(t)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "firecracker.log")

	created := sys.NewResource(logPath, resource.Created(resource.CreatedFile))

	u := NewUnrestricted(vmmargs.NewArguments(vmmargs.DisabledApiSocket()))
	if err := u.Prepare(context.Background(), ectx); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	if created.GetState() != resource.Initialized {
		t.Errorf("expected created resource initialized, got %v", created.GetState())
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("expected log file to exist: %v", err)
	}
}

func TestUnrestrictedCleanupDisposesCreatedResource(t *testing.T) {
	ectx, sys := newTestContext(t)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "firecracker.log")

	sys.NewResource(logPath, resource.Created(resource.CreatedFile))

	u := NewUnrestricted(vmmargs.NewArguments(vmmargs.DisabledApiSocket()))
	if err := u.Prepare(context.Background(), ectx); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := u.Cleanup(context.Background(), ectx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Errorf("expected log file removed, stat err=%v", err)
	}
}

func TestUnrestrictedInvokeSpawnsConfiguredBinary(t *testing.T) {
	ectx, _ := newTestContext(t)
	u := NewUnrestricted(vmmargs.NewArguments(vmmargs.DisabledApiSocket()))

	handle, err := u.Invoke(context.Background(), ectx, "")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if handle.IsDetached() {
		t.Error("expected attached handle")
	}
	if _, err := handle.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
}
