package sched

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleFires(t *testing.T) {
	s := New()
	defer s.Close()

	done := make(chan struct{})
	s.Schedule(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled action never fired")
	}
	if n := s.Outstanding(); n != 0 {
		t.Fatalf("expected 0 outstanding after fire, got %d", n)
	}
}

func TestCancelAllBeforeAnyFire(t *testing.T) {
	s := New()
	defer s.Close()

	var fired atomic.Int32
	for i := 0; i < 10; i++ {
		s.Schedule(200*time.Millisecond, func() { fired.Add(1) })
	}
	s.CancelAll()

	if n := s.Outstanding(); n != 0 {
		t.Fatalf("expected 0 outstanding after CancelAll, got %d", n)
	}
	time.Sleep(300 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Fatalf("expected zero delivered actions, got %d", n)
	}
}

func TestCancelAllAfterSomeFired(t *testing.T) {
	s := New()
	defer s.Close()

	var fired atomic.Int32
	early := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		s.Schedule(5*time.Millisecond, func() {
			fired.Add(1)
			early <- struct{}{}
		})
	}
	for i := 0; i < 5; i++ {
		s.Schedule(500*time.Millisecond, func() { fired.Add(1) })
	}

	for i := 0; i < 2; i++ {
		select {
		case <-early:
		case <-time.After(time.Second):
			t.Fatal("early action never fired")
		}
	}
	s.CancelAll()

	time.Sleep(600 * time.Millisecond)
	if n := fired.Load(); n != 2 {
		t.Fatalf("expected exactly 2 delivered actions, got %d", n)
	}
}

func TestCancelSingleHandle(t *testing.T) {
	s := New()
	defer s.Close()

	var fired atomic.Int32
	h := s.Schedule(100*time.Millisecond, func() { fired.Add(1) })
	kept := make(chan struct{})
	s.Schedule(100*time.Millisecond, func() { close(kept) })

	s.Cancel(h)
	s.Cancel(h) // idempotent

	select {
	case <-kept:
	case <-time.After(time.Second):
		t.Fatal("surviving action never fired")
	}
	if n := fired.Load(); n != 0 {
		t.Fatalf("cancelled action fired %d times", n)
	}
}

func TestActionsRunSerially(t *testing.T) {
	s := New()
	defer s.Close()

	var order []int
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		i := i
		last := i == 3
		s.Schedule(time.Duration(i+1)*20*time.Millisecond, func() {
			order = append(order, i)
			if last {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("actions never completed")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("actions out of order: %v", order)
		}
	}
}

func TestScheduleAfterCloseIsNoop(t *testing.T) {
	s := New()
	s.Close()

	var fired atomic.Int32
	h := s.Schedule(time.Millisecond, func() { fired.Add(1) })
	s.Cancel(h)

	time.Sleep(20 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Fatalf("action fired after close: %d", n)
	}
}
