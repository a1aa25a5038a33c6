package installation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeVersionScript(t *testing.T, dir, name, stdout string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\ncat <<'EOF'\n" + stdout + "\nEOF\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVerifySucceeds(t *testing.T) {
	dir := t.TempDir()
	inst := Installation{
		FirecrackerPath:    writeVersionScript(t, dir, "firecracker", "Firecracker v1.7.0"),
		JailerPath:         writeVersionScript(t, dir, "jailer", "Jailer v1.7.0"),
		SnapshotEditorPath: writeVersionScript(t, dir, "snapshot-editor", "snapshot-editor v1.7.0"),
	}

	if err := inst.Verify(context.Background(), "1.7.0"); err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}
}

func TestVerifyMissingBinary(t *testing.T) {
	dir := t.TempDir()
	inst := Installation{
		FirecrackerPath:    filepath.Join(dir, "does-not-exist"),
		JailerPath:         writeVersionScript(t, dir, "jailer", "Jailer v1.7.0"),
		SnapshotEditorPath: writeVersionScript(t, dir, "snapshot-editor", "snapshot-editor v1.7.0"),
	}

	err := inst.Verify(context.Background(), "1.7.0")
	if err == nil {
		t.Fatal("expected an error for a missing binary")
	}
	verr, ok := err.(*Error)
	if !ok || verr.Kind != ErrBinaryMissing {
		t.Errorf("expected ErrBinaryMissing, got %v", err)
	}
}

func TestVerifyWrongBinaryType(t *testing.T) {
	dir := t.TempDir()
	inst := Installation{
		FirecrackerPath:    writeVersionScript(t, dir, "firecracker", "Jailer v1.7.0"),
		JailerPath:         writeVersionScript(t, dir, "jailer", "Jailer v1.7.0"),
		SnapshotEditorPath: writeVersionScript(t, dir, "snapshot-editor", "snapshot-editor v1.7.0"),
	}

	err := inst.Verify(context.Background(), "1.7.0")
	if err == nil {
		t.Fatal("expected an error for a mislabeled binary")
	}
	verr, ok := err.(*Error)
	if !ok || verr.Kind != ErrBinaryIsOfIncorrectType {
		t.Errorf("expected ErrBinaryIsOfIncorrectType, got %v", err)
	}
}

func TestVerifyWrongVersion(t *testing.T) {
	dir := t.TempDir()
	inst := Installation{
		FirecrackerPath:    writeVersionScript(t, dir, "firecracker", "Firecracker v1.6.0"),
		JailerPath:         writeVersionScript(t, dir, "jailer", "Jailer v1.7.0"),
		SnapshotEditorPath: writeVersionScript(t, dir, "snapshot-editor", "snapshot-editor v1.7.0"),
	}

	err := inst.Verify(context.Background(), "1.7.0")
	if err == nil {
		t.Fatal("expected an error for a version mismatch")
	}
	verr, ok := err.(*Error)
	if !ok || verr.Kind != ErrBinaryDoesNotMatchExpectedVersion {
		t.Errorf("expected ErrBinaryDoesNotMatchExpectedVersion, got %v", err)
	}
}

func TestVerifyNotExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "firecracker")
	if err := os.WriteFile(path, []byte("not a script"), 0o644); err != nil {
		t.Fatal(err)
	}

	inst := Installation{
		FirecrackerPath:    path,
		JailerPath:         writeVersionScript(t, dir, "jailer", "Jailer v1.7.0"),
		SnapshotEditorPath: writeVersionScript(t, dir, "snapshot-editor", "snapshot-editor v1.7.0"),
	}

	err := inst.Verify(context.Background(), "1.7.0")
	if err == nil {
		t.Fatal("expected an error for a non-executable binary")
	}
	verr, ok := err.(*Error)
	if !ok || verr.Kind != ErrBinaryNotExecutable {
		t.Errorf("expected ErrBinaryNotExecutable, got %v", err)
	}
}
