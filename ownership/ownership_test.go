package ownership

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pipeops/vmmcore/procspawn"
)

func TestSharedIsNoop(t *testing.T) {
	if err := Upgrade(context.Background(), "/nonexistent", Shared(), procspawn.Direct{}); err != nil {
		t.Errorf("upgrade under Shared should be a no-op: %v", err)
	}
	if err := Downgrade("/nonexistent", Shared()); err != nil {
		t.Errorf("downgrade under Shared should be a no-op: %v", err)
	}
	if err := DowngradeRecursive("/nonexistent", Shared()); err != nil {
		t.Errorf("recursive downgrade under Shared should be a no-op: %v", err)
	}
}

func TestUpgradeSpawnsChown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	model := Downgraded(os.Geteuid(), os.Getegid())
	if err := Upgrade(context.Background(), path, model, procspawn.Direct{}); err != nil {
		t.Errorf("upgrade to own uid/gid should succeed: %v", err)
	}
}

func TestUpgradeSpawnFailure(t *testing.T) {
	model := Downgraded(os.Geteuid(), os.Getegid())
	if err := Upgrade(context.Background(), "/x", model, failingSpawner{}); err == nil {
		t.Error("expected spawn failure to propagate")
	}
}

func TestDowngradeToOwnIDsSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	model := Downgraded(os.Geteuid(), os.Getegid())
	if err := Downgrade(path, model); err != nil {
		t.Errorf("downgrade to own uid/gid should succeed: %v", err)
	}
}

func TestDowngradeRecursiveWalksTree(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(nested, "f")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	model := Downgraded(os.Geteuid(), os.Getegid())
	if err := DowngradeRecursive(dir, model); err != nil {
		t.Errorf("recursive downgrade over own uid/gid should succeed: %v", err)
	}
}

type failingSpawner struct{}

func (failingSpawner) Spawn(ctx context.Context, binaryPath string, args []string, stdio procspawn.StdioMode) (*procspawn.Process, error) {
	return nil, os.ErrNotExist
}
