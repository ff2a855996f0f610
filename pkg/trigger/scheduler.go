// Package trigger decides when file events turn into revalidation passes.
package trigger

import (
	"slices"
	"sync"
	"time"
)

// Scheduler runs at most one pending action per key. Scheduling a key
// again cancels the pending action and starts the delay over.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*pendingAction
	nextGen uint64
	stopped bool
	running sync.WaitGroup
}

type pendingAction struct {
	timer *time.Timer
	gen   uint64
}

// NewScheduler creates an empty scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{pending: make(map[string]*pendingAction)}
}

// Schedule runs action after delay unless key is scheduled or cancelled
// again first. It reports false once the scheduler is stopped.
func (s *Scheduler) Schedule(key string, delay time.Duration, action func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
	}

	s.nextGen++
	gen := s.nextGen
	s.pending[key] = &pendingAction{
		gen:   gen,
		timer: time.AfterFunc(delay, func() { s.fire(key, gen, action) }),
	}
	return true
}

func (s *Scheduler) fire(key string, gen uint64, action func()) {
	s.mu.Lock()
	p, ok := s.pending[key]
	// A timer that lost the race with Stop or a reschedule must not run
	if !ok || p.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	action()
}

// Cancel drops the pending action for key, reporting whether one existed
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[key]
	if ok {
		p.timer.Stop()
		delete(s.pending, key)
	}
	return ok
}

// Pending returns the keys with a pending action, sorted
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Stop cancels everything pending and waits for running actions
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for k, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, k)
	}
	s.mu.Unlock()

	s.running.Wait()
}
