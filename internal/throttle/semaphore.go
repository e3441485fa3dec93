package throttle

import (
	"container/list"
	"context"
	"sync"

	"codeberg.org/tessel/kairo/internal/errors"
)

// SemaphoreStatus is a point-in-time view of the gate.
type SemaphoreStatus struct {
	InUse   int
	Max     int
	Waiting int
}

type waiter struct {
	ready chan error
}

// Semaphore is a resizable counting gate with a strict FIFO waiter
// queue. Permits granted before a shrink are never revoked; the gate
// simply blocks new acquires until usage drains below the new ceiling.
type Semaphore struct {
	mu          sync.Mutex
	inUse       int
	maxPermits  int
	waiters     *list.List
	deactivated bool
}

func NewSemaphore(maxPermits int) *Semaphore {
	if maxPermits < 1 {
		maxPermits = 1
	}

	return &Semaphore{
		maxPermits: maxPermits,
		waiters:    list.New(),
	}
}

// Acquire takes a permit, waiting in FIFO order behind earlier
// acquirers when the gate is full. It fails with a cancellation error
// when ctx fires or the semaphore is deactivated; a permit granted
// concurrently with cancellation is returned to the gate.
func (s *Semaphore) Acquire(ctx context.Context) error {
	errFactory := errors.New()

	s.mu.Lock()
	if s.deactivated {
		s.mu.Unlock()
		return errFactory.WithMessage(errors.ErrCancelled, "semaphore deactivated")
	}

	if s.inUse < s.maxPermits && s.waiters.Len() == 0 {
		s.inUse++
		s.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan error, 1)}
	elem := s.waiters.PushBack(w)
	s.mu.Unlock()

	select {
	case err := <-w.ready:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		granted := true
		for e := s.waiters.Front(); e != nil; e = e.Next() {
			if e == elem {
				s.waiters.Remove(e)
				granted = false
				break
			}
		}
		s.mu.Unlock()

		if granted {
			// The wake-up raced our cancellation; hand the permit on.
			if err := <-w.ready; err == nil {
				s.Release()
			}
		}

		return errFactory.Wrap(errors.ErrCancelled, ctx.Err())
	}
}

// Release returns a permit. If waiters are queued and the gate is not
// draining after a shrink, the head waiter inherits the permit
// directly.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inUse > s.maxPermits {
		// Draining after a shrink: retire the permit instead of
		// handing it to a waiter.
		s.inUse--
		return
	}

	if front := s.waiters.Front(); front != nil && !s.deactivated {
		s.waiters.Remove(front)
		front.Value.(*waiter).ready <- nil
		return
	}

	if s.inUse > 0 {
		s.inUse--
	}
}

// Resize adjusts the permit ceiling. Growing wakes queued waiters up
// to the new headroom; shrinking below current usage only blocks new
// acquires until the gate drains.
func (s *Semaphore) Resize(maxPermits int) {
	if maxPermits < 1 {
		maxPermits = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxPermits = maxPermits

	for s.inUse < s.maxPermits {
		front := s.waiters.Front()
		if front == nil {
			break
		}
		s.waiters.Remove(front)
		s.inUse++
		front.Value.(*waiter).ready <- nil
	}
}

// Status reports current usage, ceiling and queue depth.
func (s *Semaphore) Status() SemaphoreStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SemaphoreStatus{
		InUse:   s.inUse,
		Max:     s.maxPermits,
		Waiting: s.waiters.Len(),
	}
}

// Deactivate resumes every waiter with a cancellation error and makes
// all subsequent acquires fail.
func (s *Semaphore) Deactivate() {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deactivated {
		return
	}
	s.deactivated = true

	for front := s.waiters.Front(); front != nil; front = s.waiters.Front() {
		s.waiters.Remove(front)
		front.Value.(*waiter).ready <- errFactory.WithMessage(errors.ErrCancelled, "semaphore deactivated")
	}
}
