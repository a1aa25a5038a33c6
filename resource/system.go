package resource

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pipeops/vmmcore/ownership"
	"github.com/pipeops/vmmcore/procspawn"
)

// System owns every resource created through it and schedules their
// initialisation and disposal concurrently. Unlike the actor this is
// grounded on, which needed a single task polling channels and an
// async-broadcast fanout to let cheaply-cloned handles observe state
// without locking, Go's goroutines and mutexes let every Resource handle
// read its object's state directly: the "actor" here only needs to
// serialize bookkeeping for Synchronize, so it is a plain mutex-guarded
// counter rather than a dedicated goroutine.
type System struct {
	spawner procspawn.Spawner
	model   ownership.Model

	mu            sync.Mutex
	pending       int
	waiters       []chan struct{}
	collectedErrs []error
	resources     []*Resource
	shutdown      bool
}

// New creates a resource system that spawns ownership-upgrade processes
// through spawner and applies model to every resource it manages.
func New(spawner procspawn.Spawner, model ownership.Model) *System {
	return &System{spawner: spawner, model: model}
}

// NewResource registers a new, Uninitialized resource of the given type
// at initialPath and returns a handle to it.
func (s *System) NewResource(initialPath string, t Type) *Resource {
	obj := &object{resType: t, initialPath: initialPath, state: Uninitialized}
	r := &Resource{sys: s, obj: obj}

	s.mu.Lock()
	s.resources = append(s.resources, r)
	s.mu.Unlock()

	return r
}

// GetResources returns a snapshot of every handle created on this system
// so far.
func (s *System) GetResources() []*Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Resource, len(s.resources))
	copy(out, s.resources)
	return out
}

// Synchronize blocks until every init/dispose task scheduled so far has
// completed, then returns the aggregate of any errors they produced.
// This is the sole synchronisation point executors and VMM processes use
// after scheduling resource work.
func (s *System) Synchronize(ctx context.Context) error {
	s.mu.Lock()
	if s.pending == 0 {
		errs := s.collectedErrs
		s.collectedErrs = nil
		s.mu.Unlock()
		return combineErrors(errs)
	}

	done := make(chan struct{})
	s.waiters = append(s.waiters, done)
	s.mu.Unlock()

	select {
	case <-done:
		s.mu.Lock()
		errs := s.collectedErrs
		s.collectedErrs = nil
		s.mu.Unlock()
		return combineErrors(errs)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown disposes of the system's bookkeeping. Any tasks already in
// flight run to completion, but no further operations may be scheduled;
// they return a channel-disconnected error instead.
func (s *System) Shutdown(ctx context.Context) error {
	_ = s.Synchronize(ctx)

	s.mu.Lock()
	s.shutdown = true
	s.resources = nil
	s.mu.Unlock()
	return nil
}

func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var merr *multierror.Error
	for _, e := range errs {
		merr = multierror.Append(merr, e)
	}
	return merr.ErrorOrNil()
}

func (s *System) enqueueInit(obj *object, effectivePath string, virtualPath *string) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return errChannelDisconnected("start_initialization")
	}
	s.pending++
	s.mu.Unlock()

	obj.mu.Lock()
	obj.running = runningInit
	obj.mu.Unlock()

	go func() {
		err := s.runInit(obj, effectivePath, virtualPath)

		obj.mu.Lock()
		if err == nil {
			obj.state = Initialized
			obj.effectivePath = effectivePath
			obj.hasEffectivePath = true
			if virtualPath != nil {
				obj.virtualPath = *virtualPath
				obj.hasVirtualPath = true
			} else {
				obj.hasVirtualPath = false
			}
		} else {
			obj.state = Uninitialized
		}
		obj.running = runningNone
		obj.mu.Unlock()

		s.completeTask(err)
	}()

	return nil
}

func (s *System) enqueueDispose(obj *object) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return errChannelDisconnected("start_disposal")
	}
	s.pending++
	s.mu.Unlock()

	obj.mu.Lock()
	obj.running = runningDispose
	unlinked := obj.unlinked
	effectivePath := obj.effectivePath
	obj.mu.Unlock()

	go func() {
		var err error
		if !unlinked {
			err = s.runDispose(obj, effectivePath)
		}

		obj.mu.Lock()
		if err == nil {
			obj.state = Disposed
		} else {
			obj.state = Initialized
		}
		obj.running = runningNone
		obj.mu.Unlock()

		s.completeTask(err)
	}()

	return nil
}

func (s *System) completeTask(taskErr error) {
	s.mu.Lock()
	if taskErr != nil {
		s.collectedErrs = append(s.collectedErrs, taskErr)
	}
	s.pending--
	if s.pending == 0 {
		for _, w := range s.waiters {
			close(w)
		}
		s.waiters = nil
	}
	s.mu.Unlock()
}
