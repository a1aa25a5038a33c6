package vm

import (
	"context"
	"fmt"

	"github.com/pipeops/vmmcore/executor"
	"github.com/pipeops/vmmcore/resource"
	"github.com/sirupsen/logrus"
)

// Snapshot describes a snapshot created by CreateSnapshot: the host paths
// of its state and memory files, ready to be copied elsewhere or fed
// straight into PrepareFromSnapshot. snapshotResource and memResource are
// nil for a Snapshot built by the caller directly (e.g. to feed
// PrepareFromSnapshot for a snapshot taken outside this process), since
// there is then no resource system tracking them for disposal.
type Snapshot struct {
	SnapshotPath string
	MemFilePath  string

	snapshotResource *resource.Resource
	memResource      *resource.Resource
}

// Unlink marks both of the snapshot's files so that a subsequent Cleanup
// of the VM that produced them skips removing them, letting the snapshot
// outlive the VM it was taken from. It is a no-op on a Snapshot that was
// not returned by CreateSnapshot. Under the jailed executor the files lie
// inside the jail, which Jailed.Cleanup removes as a whole, so they are
// removed whether or not Unlink was called.
func (s Snapshot) Unlink() {
	if s.snapshotResource != nil {
		s.snapshotResource.Unlink()
	}
	if s.memResource != nil {
		s.memResource.Unlink()
	}
}

// PrepareFromSnapshotOptions bundles what is needed to prepare a new VM
// restored from a Snapshot: a fresh executor and executor context (carrying
// their own resource system), plus the restore-time options the original
// VM's configuration did not already fix.
type PrepareFromSnapshotOptions struct {
	Executor            executor.VmmExecutor
	Ectx                executor.Context
	MemBackendType      MemoryBackendType
	MovedMethod         resource.MovedMethod
	EnableDiffSnapshots *bool
	ResumeVM            bool
	Logger              *LoggerConfig
	Metrics             *MetricsConfig
	Log                 *logrus.Entry
}

// PrepareFromSnapshot registers snap's files as Moved resources on the new
// executor context's resource system, builds the corresponding
// FromSnapshotConfiguration, and prepares a new VM from it. It does not
// start the VM; call Start on the result as usual.
func PrepareFromSnapshot(ctx context.Context, snap Snapshot, opts PrepareFromSnapshotOptions) (*VM, error) {
	if snap.SnapshotPath == "" || snap.MemFilePath == "" {
		return nil, fmt.Errorf("vm: prepare_from_snapshot: snapshot is missing a file path")
	}

	movedMethod := opts.MovedMethod
	snapshotResource := opts.Ectx.System.NewResource(snap.SnapshotPath, resource.Moved(movedMethod))
	memResource := opts.Ectx.System.NewResource(snap.MemFilePath, resource.Moved(movedMethod))

	fromSnapshot := NewFromSnapshotConfiguration(snapshotResource, memResource, opts.MemBackendType).
		WithResumeVM(opts.ResumeVM)
	if opts.EnableDiffSnapshots != nil {
		fromSnapshot.EnableDiffSnapshots = opts.EnableDiffSnapshots
	}
	if opts.Logger != nil {
		fromSnapshot = fromSnapshot.WithLogger(*opts.Logger)
	}
	if opts.Metrics != nil {
		fromSnapshot = fromSnapshot.WithMetrics(*opts.Metrics)
	}

	return Prepare(ctx, opts.Executor, opts.Ectx, Configuration{FromSnapshot: fromSnapshot}, opts.Log)
}
