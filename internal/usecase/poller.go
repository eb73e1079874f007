package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	domrepo "QuantPull/internal/domain/repository"
	"QuantPull/pkg/logger"
)

// ErrAlreadyRunning is returned when Start is called on a running poller.
var ErrAlreadyRunning = errors.New("poller already running")

// FetchFunc performs one fetch cycle. The returned error is treated as
// transient: it is logged and counted, and the poller keeps going.
type FetchFunc func(ctx context.Context) error

// Poller repeatedly invokes a fetch function at a fixed cadence. The
// interval is measured fetch-start to fetch-start, so a slow fetch eats
// into the wait rather than extending it.
type Poller struct {
	name     string
	interval time.Duration
	fetch    FetchFunc
	log      *logger.Logger
	metrics  domrepo.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPoller creates a poller named for metrics/log attribution.
func NewPoller(name string, interval time.Duration, fetch FetchFunc, log *logger.Logger, metrics domrepo.Metrics) *Poller {
	return &Poller{
		name:     name,
		interval: interval,
		fetch:    fetch,
		log:      log,
		metrics:  metrics,
	}
}

// Start launches the poll loop. The first fetch happens immediately.
// Calling Start on a running poller returns ErrAlreadyRunning.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(loopCtx)

	p.log.Info("poller started",
		logger.String("poller", p.name),
		logger.Duration("interval", p.interval))
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	// The wait is re-derived from each fetch start, so a slow fetch shortens
	// the pause but two fetches never start less than one interval apart.
	for {
		start := time.Now()
		p.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := p.interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	start := time.Now()
	if err := p.fetch(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.metrics.RecordError("poll_" + p.name)
		p.log.Warn("poll cycle failed",
			logger.String("poller", p.name),
			logger.Error(err))
		return
	}
	p.metrics.RecordPoll(p.name)
	p.metrics.RecordLatency("poll_"+p.name, time.Since(start).Seconds())
}

// Stop cancels the loop and waits for it to exit. Safe to call on a
// stopped poller.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.log.Info("poller stopped", logger.String("poller", p.name))
}

// IsRunning reports whether the loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
