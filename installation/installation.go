// Package installation represents and verifies a triple of Firecracker
// release binaries: the VMM itself, the jailer, and the snapshot editor.
package installation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Installation is an immutable set of paths to the three binaries that
// make up an automatable Firecracker release. Using a partial
// installation with only some of them populated is neither recommended
// nor supported.
type Installation struct {
	FirecrackerPath    string
	JailerPath         string
	SnapshotEditorPath string
}

// Error describes why an Installation failed verification.
type Error struct {
	Path string
	Kind ErrorKind
	Err  error
}

// ErrorKind enumerates the ways verification can fail for one binary.
type ErrorKind int

const (
	// ErrFilesystem wraps an I/O error while probing the binary.
	ErrFilesystem ErrorKind = iota
	// ErrBinaryMissing means the path does not exist.
	ErrBinaryMissing
	// ErrBinaryNotExecutable means the binary could not be spawned.
	ErrBinaryNotExecutable
	// ErrBinaryIsOfIncorrectType means --version's output has the wrong name prefix.
	ErrBinaryIsOfIncorrectType
	// ErrBinaryDoesNotMatchExpectedVersion means --version's output lacks the expected version substring.
	ErrBinaryDoesNotMatchExpectedVersion
)

func (e *Error) Error() string {
	switch e.Kind {
	case ErrFilesystem:
		return fmt.Sprintf("installation: filesystem error probing %s: %v", e.Path, e.Err)
	case ErrBinaryMissing:
		return fmt.Sprintf("installation: binary missing at %s", e.Path)
	case ErrBinaryNotExecutable:
		return fmt.Sprintf("installation: binary at %s could not be executed: %v", e.Path, e.Err)
	case ErrBinaryIsOfIncorrectType:
		return fmt.Sprintf("installation: binary at %s is not the expected binary", e.Path)
	case ErrBinaryDoesNotMatchExpectedVersion:
		return fmt.Sprintf("installation: binary at %s does not match the expected version", e.Path)
	default:
		return fmt.Sprintf("installation: unknown verification error at %s", e.Path)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Verify checks all three binaries in parallel: each must exist, must be
// spawnable with "--version", and must print output starting with its
// expected name ("Firecracker", "Jailer", "snapshot-editor") and
// containing expectedVersion.
func (i Installation) Verify(ctx context.Context, expectedVersion string) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return verifyBinary(ctx, i.FirecrackerPath, "Firecracker", expectedVersion) })
	g.Go(func() error { return verifyBinary(ctx, i.JailerPath, "Jailer", expectedVersion) })
	g.Go(func() error {
		return verifyBinary(ctx, i.SnapshotEditorPath, "snapshot-editor", expectedVersion)
	})

	return g.Wait()
}

func verifyBinary(ctx context.Context, path, expectedName, expectedVersion string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Error{Path: path, Kind: ErrBinaryMissing}
		}
		return &Error{Path: path, Kind: ErrFilesystem, Err: err}
	}

	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Stderr = nil
	cmd.Stdin = nil

	output, err := cmd.Output()
	if err != nil {
		return &Error{Path: path, Kind: ErrBinaryNotExecutable, Err: err}
	}

	stdout := string(output)
	if !strings.HasPrefix(stdout, expectedName) {
		return &Error{Path: path, Kind: ErrBinaryIsOfIncorrectType}
	}
	if !strings.Contains(stdout, expectedVersion) {
		return &Error{Path: path, Kind: ErrBinaryDoesNotMatchExpectedVersion}
	}

	return nil
}
