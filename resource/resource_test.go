package resource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pipeops/vmmcore/ownership"
	"github.com/pipeops/vmmcore/procspawn"
)

func newTestSystem() *System {
	return New(procspawn.Direct{}, ownership.Shared())
}

func TestNewResourceStartsUninitialized(t *testing.T) {
	sys := newTestSystem()
	r := sys.NewResource("/tmp/source", Moved(MovedCopy))

	if r.GetState() != Uninitialized {
		t.Fatalf("expected Uninitialized, got %s", r.GetState())
	}
	if _, ok := r.GetEffectivePath(); ok {
		t.Error("effective path should be unavailable before initialization")
	}
}

func TestMovedResourceCopyLifecycle(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "nested", "dst")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	sys := newTestSystem()
	r := sys.NewResource(src, Moved(MovedCopy))

	if err := r.StartInitialization(dst, nil); err != nil {
		t.Fatalf("start_initialization: %v", err)
	}
	if err := sys.Synchronize(context.Background()); err != nil {
		t.Fatalf("synchronize: %v", err)
	}

	if r.GetState() != Initialized {
		t.Fatalf("expected Initialized, got %s", r.GetState())
	}
	effective, ok := r.GetEffectivePath()
	if !ok || effective != dst {
		t.Fatalf("effective path = %q, %v", effective, ok)
	}
	// With no explicit virtual path supplied, it falls back to the initial
	// (source) path rather than the effective path - the two coincide only
	// when an executor also chose effective == initial, as the unrestricted
	// executor does.
	virtual, ok := r.GetVirtualPath()
	if !ok || virtual != src {
		t.Fatalf("virtual path should default to the initial path, got %q", virtual)
	}

	contents, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading copied file: %v", err)
	}
	if string(contents) != "payload" {
		t.Errorf("copied content mismatch: %q", contents)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("copy should preserve the source file")
	}

	if err := r.StartDisposal(); err != nil {
		t.Fatalf("start_disposal: %v", err)
	}
	if err := sys.Synchronize(context.Background()); err != nil {
		t.Fatalf("synchronize after disposal: %v", err)
	}
	if r.GetState() != Disposed {
		t.Fatalf("expected Disposed, got %s", r.GetState())
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("disposal should have removed the effective path")
	}
}

func TestMovedResourceMissingSourceFails(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "dst")

	sys := newTestSystem()
	r := sys.NewResource(filepath.Join(dir, "missing"), Moved(MovedRename))

	if err := r.StartInitialization(dst, nil); err != nil {
		t.Fatalf("start_initialization: %v", err)
	}
	err := sys.Synchronize(context.Background())
	if err == nil {
		t.Fatal("expected an error for a missing source path")
	}
	if r.GetState() != Uninitialized {
		t.Errorf("resource should revert to Uninitialized on init failure, got %s", r.GetState())
	}
}

func TestCreatedFileResourceLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log")

	sys := newTestSystem()
	r := sys.NewResource(path, Created(CreatedFile))

	if err := r.StartInitializationWithSamePath(); err != nil {
		t.Fatalf("start_initialization_with_same_path: %v", err)
	}
	if err := sys.Synchronize(context.Background()); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("created file should exist: %v", err)
	}
}

func TestProducedResourceSkipsDisposalWhenUnlinked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot")

	sys := newTestSystem()
	r := sys.NewResource(path, Produced())

	if err := r.StartInitializationWithSamePath(); err != nil {
		t.Fatalf("start_initialization_with_same_path: %v", err)
	}
	if err := sys.Synchronize(context.Background()); err != nil {
		t.Fatalf("synchronize: %v", err)
	}

	if err := os.WriteFile(path, []byte("snapshot-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	r.Unlink()
	if err := r.StartDisposal(); err != nil {
		t.Fatalf("start_disposal: %v", err)
	}
	if err := sys.Synchronize(context.Background()); err != nil {
		t.Fatalf("synchronize after disposal: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Error("unlinked produced resource should survive disposal")
	}
}

func TestStartInitializationRequiresUninitialized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")

	sys := newTestSystem()
	r := sys.NewResource(path, Created(CreatedFile))
	if err := r.StartInitializationWithSamePath(); err != nil {
		t.Fatal(err)
	}
	if err := sys.Synchronize(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := r.StartInitialization(path, nil)
	if !IsIncorrectState(err) {
		t.Errorf("expected IncorrectState error, got %v", err)
	}
}

func TestSameAs(t *testing.T) {
	sys := newTestSystem()
	a := sys.NewResource("/tmp/a", Created(CreatedFile))
	b := sys.NewResource("/tmp/b", Created(CreatedFile))

	resources := sys.GetResources()
	aAgain := resources[0]

	if !a.SameAs(aAgain) {
		t.Error("handles from the same NewResource call should be SameAs")
	}
	if a.SameAs(b) {
		t.Error("handles from different NewResource calls should not be SameAs")
	}
}

func TestSynchronizeWithNoPendingWorkReturnsImmediately(t *testing.T) {
	sys := newTestSystem()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sys.Synchronize(ctx); err != nil {
		t.Errorf("synchronize with nothing pending should succeed: %v", err)
	}
}

func TestShutdownRejectsFurtherScheduling(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")

	sys := newTestSystem()
	r := sys.NewResource(path, Created(CreatedFile))

	if err := sys.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	err := r.StartInitializationWithSamePath()
	if err == nil {
		t.Error("scheduling after shutdown should fail")
	}
}
