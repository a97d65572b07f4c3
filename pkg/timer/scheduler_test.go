package timer

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *ManualClock) {
	t.Helper()
	clk := NewManualClock(epoch)
	return New(clk), clk
}

func TestManualClockAdvance(t *testing.T) {
	clk := NewManualClock(epoch)
	clk.Advance(90 * time.Second)
	if want := epoch.Add(90 * time.Second); !clk.Now().Equal(want) {
		t.Fatalf("expected %v, got %v", want, clk.Now())
	}
	clk.Set(epoch)
	if !clk.Now().Equal(epoch) {
		t.Fatalf("expected clock reset to %v, got %v", epoch, clk.Now())
	}
}

func TestAfterRunsInDueOrder(t *testing.T) {
	s, clk := newTestScheduler(t)
	var got []string
	s.After(3*time.Minute, "c", func() { got = append(got, "c") })
	s.After(time.Minute, "a", func() { got = append(got, "a") })
	s.After(2*time.Minute, "b", func() { got = append(got, "b") })
	s.After(time.Minute, "a2", func() { got = append(got, "a2") })

	if n := s.RunDue(); n != 0 {
		t.Fatalf("expected nothing due yet, ran %d", n)
	}
	clk.Advance(2 * time.Minute)
	if n := s.RunDue(); n != 3 {
		t.Fatalf("expected 3 callbacks, ran %d", n)
	}
	clk.Advance(time.Hour)
	s.RunDue()
	if diff := cmp.Diff([]string{"a", "a2", "b", "c"}, got); diff != "" {
		t.Fatalf("run order mismatch (-want +got):\n%s", diff)
	}
}

func TestAfterNegativeDelayRunsImmediately(t *testing.T) {
	s, _ := newTestScheduler(t)
	ran := false
	s.After(-time.Second, "late", func() { ran = true })
	s.RunDue()
	if !ran {
		t.Fatal("expected negative delay to run on the next pass")
	}
}

func TestHandleCancel(t *testing.T) {
	s, clk := newTestScheduler(t)
	ran := false
	h := s.After(time.Minute, "event:7", func() { ran = true })
	if h.Token() != "event:7" {
		t.Fatalf("expected token event:7, got %q", h.Token())
	}
	if !h.Cancel() {
		t.Fatal("expected first cancel to succeed")
	}
	if h.Cancel() {
		t.Fatal("expected second cancel to report false")
	}
	if !h.Cancelled() {
		t.Fatal("expected Cancelled to be true")
	}
	clk.Advance(time.Hour)
	s.RunDue()
	if ran {
		t.Fatal("cancelled entry ran")
	}
	if _, waiting := s.Stats(); waiting != 0 {
		t.Fatalf("expected empty wait queue, got %d", waiting)
	}
}

func TestCancelAfterFireReportsFalse(t *testing.T) {
	s, _ := newTestScheduler(t)
	h := s.After(0, "now", func() {})
	s.RunDue()
	if h.Cancel() {
		t.Fatal("expected cancel of a fired one-shot to report false")
	}
}

func TestEveryRearmsFromPreviousDue(t *testing.T) {
	s, clk := newTestScheduler(t)
	var at []time.Duration
	s.Every(5*time.Minute, time.Minute, func() {
		at = append(at, clk.Now().Sub(epoch))
	})

	for range 4 {
		clk.Advance(3 * time.Minute)
		s.RunDue()
	}
	want := []time.Duration{3 * time.Minute, 6 * time.Minute, 12 * time.Minute}
	if diff := cmp.Diff(want, at); diff != "" {
		t.Fatalf("tick times mismatch (-want +got):\n%s", diff)
	}
}

func TestEveryCancelFromInsideCallback(t *testing.T) {
	s, clk := newTestScheduler(t)
	count := 0
	var h *Handle
	h = s.Every(time.Minute, 0, func() {
		count++
		if count == 2 {
			h.Cancel()
		}
	})
	for range 5 {
		s.RunDue()
		clk.Advance(time.Minute)
	}
	if count != 2 {
		t.Fatalf("expected 2 runs, got %d", count)
	}
}

func TestEverySkipsMissedTicks(t *testing.T) {
	s, clk := newTestScheduler(t)
	count := 0
	s.Every(time.Minute, 0, func() { count++ })
	clk.Advance(time.Hour)
	s.RunDue()
	if count != 1 {
		t.Fatalf("expected a single catch-up run, got %d", count)
	}
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	s, _ := newTestScheduler(t)
	ran := false
	s.After(0, "boom", func() { panic("kaboom") })
	s.After(0, "after", func() { ran = true })
	if n := s.RunDue(); n != 2 {
		t.Fatalf("expected 2 callbacks, ran %d", n)
	}
	if !ran {
		t.Fatal("expected entry after a panic to still run")
	}
}

func TestDoAndCallWithoutLoop(t *testing.T) {
	s, _ := newTestScheduler(t)
	var got []int
	s.Do(func() { got = append(got, 1) })
	if imm, _ := s.Stats(); imm != 1 {
		t.Fatalf("expected 1 immediate entry, got %d", imm)
	}
	if err := s.Call(context.Background(), func() { got = append(got, 2) }); err != nil {
		t.Fatalf("Call: %v", err)
	}
	s.RunDue()
	if diff := cmp.Diff([]int{2, 1}, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCallbackSchedulesFurtherWork(t *testing.T) {
	s, _ := newTestScheduler(t)
	var got []string
	s.After(0, "outer", func() {
		got = append(got, "outer")
		s.After(0, "inner", func() { got = append(got, "inner") })
		s.Do(func() { got = append(got, "do") })
	})
	s.RunDue()
	if len(got) != 3 {
		t.Fatalf("expected nested work to run in the same pass, got %v", got)
	}
}

func TestStartRunsLoopAndClose(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{})
	s.After(10*time.Millisecond, "soon", func() { close(fired) })

	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduled callback")
	}

	n := 0
	if err := s.Call(ctx, func() { n = 42 }); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if n != 42 {
		t.Fatalf("expected Call to run fn, got %d", n)
	}

	s.Close()
	if err := <-errc; err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
	if err := s.Call(ctx, func() {}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()
	cancel()
	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on cancel")
	}
	s.Close()
}
