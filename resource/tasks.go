package resource

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/containerd/fifo"
	"github.com/pipeops/vmmcore/ownership"
)

// runInit performs the initialisation algorithm for obj's resource type,
// dispatching on Kind exactly as the resource system's scheduler promises
// to. It runs on its own goroutine per scheduled request.
func (s *System) runInit(obj *object, effectivePath string, virtualPath *string) error {
	ctx := context.Background()

	switch obj.resType.Kind {
	case KindMoved:
		return s.runInitMoved(ctx, obj, effectivePath)
	case KindCreated:
		return s.runInitCreated(ctx, obj, effectivePath)
	case KindProduced:
		return s.runInitProduced(ctx, obj, effectivePath)
	default:
		return nil
	}
}

func (s *System) runInitMoved(ctx context.Context, obj *object, effectivePath string) error {
	if obj.initialPath == effectivePath {
		return nil
	}

	if err := ownership.Upgrade(ctx, obj.initialPath, s.model, s.spawner); err != nil {
		return errWrapped("initialize moved resource (upgrade source)", err)
	}

	if _, err := os.Stat(obj.initialPath); err != nil {
		if os.IsNotExist(err) {
			return errSourcePathMissing()
		}
		return errWrapped("initialize moved resource (stat source)", err)
	}

	if parent := filepath.Dir(effectivePath); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return errWrapped("initialize moved resource (mkdir parents)", err)
		}
	}

	switch obj.resType.MovedMethod {
	case MovedCopy:
		if err := copyFile(obj.initialPath, effectivePath); err != nil {
			return errWrapped("initialize moved resource (copy)", err)
		}
	case MovedHardLink:
		if err := os.Link(obj.initialPath, effectivePath); err != nil {
			return errWrapped("initialize moved resource (hard link)", err)
		}
	case MovedCopyOrHardLink:
		if err := copyFile(obj.initialPath, effectivePath); err != nil {
			if err := os.Link(obj.initialPath, effectivePath); err != nil {
				return errWrapped("initialize moved resource (copy-or-hard-link)", err)
			}
		}
	case MovedHardLinkOrCopy:
		if err := os.Link(obj.initialPath, effectivePath); err != nil {
			if err := copyFile(obj.initialPath, effectivePath); err != nil {
				return errWrapped("initialize moved resource (hard-link-or-copy)", err)
			}
		}
	case MovedRename:
		if err := os.Rename(obj.initialPath, effectivePath); err != nil {
			return errWrapped("initialize moved resource (rename)", err)
		}
	}

	return nil
}

func (s *System) runInitCreated(ctx context.Context, obj *object, effectivePath string) error {
	if parent := filepath.Dir(effectivePath); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return errWrapped("initialize created resource (mkdir parents)", err)
		}
	}

	switch obj.resType.CreatedKind {
	case CreatedFile:
		f, err := os.OpenFile(effectivePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return errWrapped("initialize created resource (create file)", err)
		}
		f.Close()
	case CreatedFifo:
		fifoFile, err := fifo.OpenFifo(ctx, effectivePath, syscall.O_CREAT|syscall.O_RDONLY|syscall.O_NONBLOCK, 0o666)
		if err != nil {
			return errWrapped("initialize created resource (mkfifo)", err)
		}
		fifoFile.Close()
	}

	if err := ownership.Downgrade(effectivePath, s.model); err != nil {
		return errWrapped("initialize created resource (downgrade)", err)
	}

	return nil
}

func (s *System) runInitProduced(_ context.Context, obj *object, effectivePath string) error {
	parent := filepath.Dir(effectivePath)
	if parent == "." {
		return nil
	}

	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errWrapped("initialize produced resource (mkdir parents)", err)
	}

	if err := ownership.Downgrade(parent, s.model); err != nil {
		return errWrapped("initialize produced resource (downgrade parent)", err)
	}

	return nil
}

// runDispose upgrades ownership of the effective path, then removes it.
func (s *System) runDispose(obj *object, effectivePath string) error {
	ctx := context.Background()

	if err := ownership.Upgrade(ctx, effectivePath, s.model, s.spawner); err != nil {
		return errWrapped("dispose resource (upgrade)", err)
	}

	if err := os.Remove(effectivePath); err != nil && !os.IsNotExist(err) {
		return errWrapped("dispose resource (remove)", err)
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
