// Package timer provides the cooperative scheduler that drives every
// periodic and deferred task in the game. All callbacks run one at a time
// on the goroutine that calls Start (or RunDue), so game state touched
// only from callbacks needs no further locking.
package timer

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Call once the scheduler has shut down.
var ErrClosed = errors.New("timer: scheduler closed")

// Handle refers to a scheduled entry.
type Handle struct {
	s         *Scheduler
	token     string
	repeat    bool
	cancelled atomic.Bool
	fired     atomic.Bool
}

// Token returns the label the entry was scheduled with.
func (h *Handle) Token() string { return h.token }

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

// Cancel prevents any future run of the entry. It returns false if the
// entry was already cancelled or was a one-shot that has already fired.
func (h *Handle) Cancel() bool {
	if !h.cancelled.CompareAndSwap(false, true) {
		return false
	}
	if !h.repeat && h.fired.Load() {
		return false
	}
	h.s.remove(h)
	return true
}

type entry struct {
	handle   *Handle
	due      time.Time
	interval time.Duration // 0 = one-shot
	seq      uint64
	fn       func()
}

// Scheduler runs deferred and repeating callbacks in due order.
type Scheduler struct {
	clock Clock

	mu        sync.Mutex
	immediate []func()
	waiting   []*entry // sorted by due, then seq
	seq       uint64
	closed    bool
	running   bool

	runMu sync.Mutex // held while callbacks execute
	wake  chan struct{}
	done  chan struct{}
}

// New creates a scheduler reading time from clock. A nil clock means
// RealClock.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		clock: clock,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Clock returns the scheduler's time source.
func (s *Scheduler) Clock() Clock { return s.clock }

// Now is shorthand for s.Clock().Now().
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) insert(e *entry) {
	s.mu.Lock()
	s.seq++
	e.seq = s.seq
	i := sort.Search(len(s.waiting), func(i int) bool {
		return e.due.Before(s.waiting[i].due)
	})
	s.waiting = append(s.waiting, nil)
	copy(s.waiting[i+1:], s.waiting[i:])
	s.waiting[i] = e
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) remove(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.waiting {
		if e.handle == h {
			s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
			return
		}
	}
}

// After schedules fn to run once, delay from now. A negative delay is
// treated as zero.
func (s *Scheduler) After(delay time.Duration, token string, fn func()) *Handle {
	if delay < 0 {
		delay = 0
	}
	h := &Handle{s: s, token: token}
	s.insert(&entry{handle: h, due: s.clock.Now().Add(delay), fn: fn})
	return h
}

// Every schedules fn to run repeatedly. The first run happens startDelay
// from now; each later run is due interval after the previous due time.
func (s *Scheduler) Every(interval, startDelay time.Duration, fn func()) *Handle {
	if interval <= 0 {
		panic("timer: Every requires a positive interval")
	}
	if startDelay < 0 {
		startDelay = 0
	}
	h := &Handle{s: s, repeat: true}
	s.insert(&entry{handle: h, due: s.clock.Now().Add(startDelay), interval: interval, fn: fn})
	return h
}

// Do queues fn to run on the scheduler goroutine as soon as possible.
func (s *Scheduler) Do(fn func()) {
	s.mu.Lock()
	s.immediate = append(s.immediate, fn)
	s.mu.Unlock()
	s.signal()
}

// Call runs fn on the scheduler goroutine and waits for it to finish.
// When the loop is not running, fn runs on the caller's goroutine while
// holding the execution lock. Call must not be used from inside a
// scheduler callback.
func (s *Scheduler) Call(ctx context.Context, fn func()) error {
	s.mu.Lock()
	closed, running := s.closed, s.running
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !running {
		s.runMu.Lock()
		defer s.runMu.Unlock()
		safeRun("call", fn)
		return nil
	}
	finished := make(chan struct{})
	s.Do(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Stats returns the number of queued immediate callbacks and timed entries.
func (s *Scheduler) Stats() (immediate, waiting int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.immediate), len(s.waiting)
}

// popDue removes the earliest entry due at now, or returns nil.
func (s *Scheduler) popDue(now time.Time) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiting) == 0 || s.waiting[0].due.After(now) {
		return nil
	}
	e := s.waiting[0]
	s.waiting = s.waiting[1:]
	return e
}

func (s *Scheduler) popImmediate() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fns := s.immediate
	s.immediate = nil
	return fns
}

// RunDue runs every immediate callback and every entry due at the current
// clock time, including entries that become due as a result. It returns
// the number of callbacks run.
func (s *Scheduler) RunDue() int {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ran := 0
	for {
		progressed := false
		for _, fn := range s.popImmediate() {
			safeRun("do", fn)
			ran++
			progressed = true
		}
		now := s.clock.Now()
		if e := s.popDue(now); e != nil {
			progressed = true
			if !e.handle.Cancelled() {
				if e.interval == 0 {
					e.handle.fired.Store(true)
				}
				safeRun(e.handle.token, e.fn)
				ran++
			}
			if e.interval > 0 && !e.handle.Cancelled() {
				next := e.due.Add(e.interval)
				if !next.After(now) {
					next = now.Add(e.interval)
				}
				e.due = next
				s.insert(e)
			}
		}
		if !progressed {
			return ran
		}
	}
}

// nextDue returns the due time of the earliest entry.
func (s *Scheduler) nextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.immediate) > 0 {
		return s.clock.Now(), true
	}
	if len(s.waiting) == 0 {
		return time.Time{}, false
	}
	return s.waiting[0].due, true
}

// Start runs the loop until ctx is cancelled or Close is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.running = true
	s.mu.Unlock()
	defer close(s.done)

	t := time.NewTimer(time.Hour)
	t.Stop()
	defer t.Stop()

	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil
		}

		s.RunDue()

		var timerC <-chan time.Time
		if due, ok := s.nextDue(); ok {
			d := due.Sub(s.clock.Now())
			if d <= 0 {
				continue
			}
			t.Reset(d)
			timerC = t.C
		}

		select {
		case <-timerC:
		case <-s.wake:
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
		case <-ctx.Done():
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Close stops the loop and waits for it to exit. Safe to call when the
// loop was never started.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	running := s.running
	s.mu.Unlock()
	s.signal()
	if running {
		<-s.done
	}
}

func safeRun(token string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("timer: callback %q panicked: %v", token, r)
		}
	}()
	fn()
}
