package resource

import "sync"

// object is the actual resource state, privately owned by the resource
// system. Every Resource handle cloned from the same call to NewResource
// shares a pointer to the same object, so handle equality is pointer
// equality and reads only take the object's own lock, never the
// system's.
type object struct {
	mu sync.RWMutex

	resType     Type
	initialPath string

	state State

	hasEffectivePath bool
	effectivePath    string
	hasVirtualPath   bool
	virtualPath      string

	// unlinked marks a produced resource whose disposal must be skipped,
	// letting e.g. a snapshot outlive its resource system.
	unlinked bool

	// running is non-zero while an init or dispose task is in flight for
	// this object; Synchronize counts pending work through System.pending.
	running runningKind
}

type runningKind int

const (
	runningNone runningKind = iota
	runningInit
	runningDispose
)

func (o *object) snapshotState() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}
