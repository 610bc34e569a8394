package provision

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// Destructor releases one resource acquired during a run.
type Destructor func(ctx context.Context) error

// Stack is a LIFO queue of Destructors. Every resource the run acquires
// (bastion instance, tunnel processes, container) queues its release here
// immediately after creation, and Destroy releases them all in reverse
// order exactly once, no matter which step failed.
type Stack struct {
	mu          sync.Mutex
	destructors []Destructor
	destroyed   bool
}

// Push queues a destructor to run during Destroy.
func (s *Stack) Push(d Destructor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destructors = append(s.destructors, d)
}

// Destroy calls all queued destructors in the reverse order they were
// pushed, returning the encountered errors joined. Subsequent calls are
// no-ops, so a deferred Destroy and a signal-path Destroy cannot release
// the same resource twice.
func (s *Stack) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	destructors := s.destructors
	s.mu.Unlock()

	var errs error
	for _, destructor := range slices.Backward(destructors) {
		errs = errors.Join(errs, destructor(ctx))
	}
	return errs
}
