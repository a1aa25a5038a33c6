package resource

// Resource is a cheaply-copied reference to a file tracked by a resource
// system. Copying a Resource value copies only two pointers; all copies
// that descend from the same NewResource call observe the same
// underlying state. Use SameAs, not ==, to compare two handles: a
// Resource also carries a pointer back to its owning System, so Go's
// struct equality would consider two handles to different objects in the
// same system unequal for the right reason but for the wrong one.
type Resource struct {
	sys *System
	obj *object
}

// SameAs reports whether r and other reference the same underlying
// resource object.
func (r *Resource) SameAs(other *Resource) bool {
	if other == nil {
		return false
	}
	return r.obj == other.obj
}

// GetType returns the resource's type, fixed at creation.
func (r *Resource) GetType() Type { return r.obj.resType }

// GetInitialPath returns the controller-supplied path the resource was
// created with: the source file for a Moved resource, the desired local
// path for Created or Produced.
func (r *Resource) GetInitialPath() string { return r.obj.initialPath }

// GetState returns the resource's current lifecycle state.
func (r *Resource) GetState() State { return r.obj.snapshotState() }

// GetEffectivePath returns the actual host-filesystem path assigned
// during initialisation, or ok=false if the resource is not yet
// Initialized.
func (r *Resource) GetEffectivePath() (path string, ok bool) {
	r.obj.mu.RLock()
	defer r.obj.mu.RUnlock()
	return r.obj.effectivePath, r.obj.hasEffectivePath
}

// GetVirtualPath returns the path as seen by the VMM. If the resource was
// initialized without an explicit virtual path, this falls back to the
// initial path, matching the common unrestricted-executor case where
// virtual and initial paths coincide. ok is false if the resource is not
// yet Initialized.
func (r *Resource) GetVirtualPath() (path string, ok bool) {
	r.obj.mu.RLock()
	defer r.obj.mu.RUnlock()
	if !r.obj.hasEffectivePath {
		return "", false
	}
	if r.obj.hasVirtualPath {
		return r.obj.virtualPath, true
	}
	return r.obj.initialPath, true
}

// StartInitialization schedules this resource to be initialized to the
// given effective path (and, optionally, a distinct virtual path). It
// does not block for the initialization to complete; call the system's
// Synchronize to wait for all scheduled work. Requires the resource to
// currently be Uninitialized.
func (r *Resource) StartInitialization(effectivePath string, virtualPath *string) error {
	r.obj.mu.Lock()
	if r.obj.state != Uninitialized {
		actual := r.obj.state
		r.obj.mu.Unlock()
		return errIncorrectState("start_initialization", Uninitialized, actual)
	}
	r.obj.mu.Unlock()

	return r.sys.enqueueInit(r.obj, effectivePath, virtualPath)
}

// StartInitializationWithSamePath schedules initialization using the
// resource's initial path as both effective and virtual path.
func (r *Resource) StartInitializationWithSamePath() error {
	return r.StartInitialization(r.obj.initialPath, nil)
}

// StartDisposal schedules this resource to be disposed. Requires the
// resource to currently be Initialized.
func (r *Resource) StartDisposal() error {
	r.obj.mu.Lock()
	if r.obj.state != Initialized {
		actual := r.obj.state
		r.obj.mu.Unlock()
		return errIncorrectState("start_disposal", Initialized, actual)
	}
	r.obj.mu.Unlock()

	return r.sys.enqueueDispose(r.obj)
}

// Unlink marks a Produced resource so that a subsequent disposal (e.g.
// during the resource system's cleanup) is skipped, leaving the file on
// disk. This is one-way and is the mechanism by which a snapshot can
// outlive the resource system that produced it.
func (r *Resource) Unlink() {
	r.obj.mu.Lock()
	r.obj.unlinked = true
	r.obj.mu.Unlock()
}
