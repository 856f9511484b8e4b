// Package sched provides the per-session notification scheduler: delayed,
// individually cancellable actions that all execute on one timeline goroutine
// so session state keeps a single writer.
package sched

import (
	"sync"
	"time"
)

// Handle identifies one scheduled action. Cancelling a fired or already
// cancelled handle is a no-op.
type Handle struct {
	id        uint64
	timer     *time.Timer
	cancelled bool
	fired     bool
}

// Scheduler owns the outstanding-notification set for one session.
type Scheduler struct {
	mu      sync.Mutex
	entries map[uint64]*Handle
	nextID  uint64
	closed  bool

	runCh chan func()
	quit  chan struct{}
	wg    sync.WaitGroup
}

func New() *Scheduler {
	s := &Scheduler{
		entries: make(map[uint64]*Handle),
		runCh:   make(chan func(), 64),
		quit:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case action := <-s.runCh:
			action()
		case <-s.quit:
			for {
				select {
				case action := <-s.runCh:
					action()
				default:
					return
				}
			}
		}
	}
}

// Schedule registers action to run after delay. The cancellation token is
// checked at fire time under the same lock CancelAll takes, so a unit can
// never fire after a CancelAll that observed it as outstanding. Zero-delay
// units fire immediately and enqueue in FIFO order relative to each other.
func (s *Scheduler) Schedule(delay time.Duration, action func()) *Handle {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &Handle{cancelled: true}
	}
	s.nextID++
	h := &Handle{id: s.nextID}
	if delay <= 0 {
		h.fired = true
		s.mu.Unlock()
		s.runCh <- action
		return h
	}
	s.entries[h.id] = h
	h.timer = time.AfterFunc(delay, func() { s.fire(h, action) })
	s.mu.Unlock()
	return h
}

func (s *Scheduler) fire(h *Handle, action func()) {
	s.mu.Lock()
	if h.cancelled || h.fired || s.closed {
		s.mu.Unlock()
		return
	}
	h.fired = true
	delete(s.entries, h.id)
	s.mu.Unlock()
	s.runCh <- action
}

// Cancel revokes a single outstanding unit.
func (s *Scheduler) Cancel(h *Handle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.cancelled || h.fired {
		return
	}
	h.cancelled = true
	if h.timer != nil {
		h.timer.Stop()
	}
	delete(s.entries, h.id)
}

// CancelAll revokes every outstanding unit atomically with respect to new
// scheduling. Units that already fired are unaffected.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.entries {
		h.cancelled = true
		if h.timer != nil {
			h.timer.Stop()
		}
		delete(s.entries, id)
	}
}

// Outstanding reports how many units are scheduled but not yet fired.
func (s *Scheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close cancels everything and stops the timeline goroutine. Pending fired
// actions drain before Close returns.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, h := range s.entries {
		h.cancelled = true
		if h.timer != nil {
			h.timer.Stop()
		}
		delete(s.entries, id)
	}
	s.mu.Unlock()
	close(s.quit)
	s.wg.Wait()
}
