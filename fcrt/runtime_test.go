package fcrt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultFileExists(t *testing.T) {
	rt := NewDefault()
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")

	exists, err := rt.FileExists(path)
	if err != nil {
		t.Fatalf("file exists: %v", err)
	}
	if exists {
		t.Error("expected file to not exist yet")
	}

	if err := rt.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	exists, err = rt.FileExists(path)
	if err != nil {
		t.Fatalf("file exists: %v", err)
	}
	if !exists {
		t.Error("expected file to exist after write")
	}
}

func TestDefaultCopy(t *testing.T) {
	rt := NewDefault()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	if err := rt.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := rt.Copy(src, dst); err != nil {
		t.Fatalf("copy: %v", err)
	}

	content, err := rt.ReadFile(dst)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(content) != "payload" {
		t.Errorf("expected payload, got %q", content)
	}
}

func TestDefaultSpawnJoin(t *testing.T) {
	rt := NewDefault()
	handle := rt.Spawn(func() error { return nil })
	if err := handle.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	sentinel := errors.New("boom")
	handle = rt.Spawn(func() error { return sentinel })
	if err := handle.Join(context.Background()); !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel error, got %v", err)
	}
}

func TestDefaultSleepRespectsContextCancellation(t *testing.T) {
	rt := NewDefault()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rt.Sleep(ctx, time.Hour); err == nil {
		t.Error("expected sleep to return an error after cancellation")
	}
}
