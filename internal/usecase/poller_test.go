package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"QuantPull/pkg/logger"
)

type nopMetrics struct {
	mu     sync.Mutex
	errors map[string]int
	polls  map[string]int
}

func newNopMetrics() *nopMetrics {
	return &nopMetrics{errors: make(map[string]int), polls: make(map[string]int)}
}

func (m *nopMetrics) RecordPoll(kind string) {
	m.mu.Lock()
	m.polls[kind]++
	m.mu.Unlock()
}
func (m *nopMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}
func (m *nopMetrics) RecordStaleWrite(string)         {}
func (m *nopMetrics) RecordLastPrice(string, float64) {}
func (m *nopMetrics) RecordSignal(string, string)     {}
func (m *nopMetrics) RecordLatency(string, float64)   {}

func (m *nopMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func TestPollerStartRejectsDoubleStart(t *testing.T) {
	p := NewPoller("bars", time.Hour, func(context.Context) error { return nil },
		logger.Nop(), newNopMetrics())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer p.Stop()

	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestPollerFetchesImmediatelyAndPeriodically(t *testing.T) {
	var calls int64
	p := NewPoller("bars", 20*time.Millisecond, func(context.Context) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}, logger.Nop(), newNopMetrics())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(110 * time.Millisecond)
	p.Stop()

	got := atomic.LoadInt64(&calls)
	if got < 3 {
		t.Fatalf("expected at least 3 fetches, got %d", got)
	}
}

func TestPollerStopIsSynchronous(t *testing.T) {
	inFetch := make(chan struct{})
	release := make(chan struct{})
	var finished int64

	p := NewPoller("bars", time.Hour, func(ctx context.Context) error {
		close(inFetch)
		<-release
		atomic.AddInt64(&finished, 1)
		return nil
	}, logger.Nop(), newNopMetrics())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-inFetch

	stopDone := make(chan struct{})
	go func() {
		p.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		t.Fatal("Stop returned while fetch was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopDone:
	case <-time.After(time.Second):
		t.Fatal("Stop never returned after fetch completed")
	}
	if atomic.LoadInt64(&finished) != 1 {
		t.Fatalf("fetch did not run to completion before Stop returned")
	}
}

func TestPollerSurvivesTransientErrors(t *testing.T) {
	var calls int64
	m := newNopMetrics()
	p := NewPoller("bars", 15*time.Millisecond, func(context.Context) error {
		n := atomic.AddInt64(&calls, 1)
		if n%2 == 1 {
			return errors.New("transient fetch failure")
		}
		return nil
	}, logger.Nop(), m)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	p.Stop()

	if atomic.LoadInt64(&calls) < 4 {
		t.Fatalf("poller stopped after errors: %d calls", calls)
	}
	if m.errorCount("poll_bars") == 0 {
		t.Fatal("errors were not counted")
	}
}

func TestPollerRestartAfterStop(t *testing.T) {
	var calls int64
	p := NewPoller("bars", time.Hour, func(context.Context) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}, logger.Nop(), newNopMetrics())

	for i := 0; i < 2; i++ {
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		p.Stop()
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("expected 2 immediate fetches across restarts, got %d", got)
	}
}

func TestPollerSlowFetchDoesNotCompressInterval(t *testing.T) {
	const interval = 50 * time.Millisecond

	var mu sync.Mutex
	var starts []time.Time
	fetch := func(context.Context) error {
		mu.Lock()
		n := len(starts)
		starts = append(starts, time.Now())
		mu.Unlock()
		if n == 0 {
			// a fetch slower than the interval must not make later
			// fetches start early
			time.Sleep(interval + 30*time.Millisecond)
		}
		return nil
	}

	p := NewPoller("bars", interval, fetch, logger.Nop(), newNopMetrics())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(4 * interval + 60*time.Millisecond)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(starts) < 3 {
		t.Fatalf("expected at least 3 fetches, got %d", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		if gap < interval-5*time.Millisecond {
			t.Fatalf("fetch %d started %v after fetch %d: below the %v interval", i, gap, i-1, interval)
		}
	}
}
