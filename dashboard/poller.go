// Package dashboard implements the task activity synchronization and
// projection layer: polling the remote store, windowed pagination, and the
// derived views the operator UI renders.
package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RefreshFunc is one polling cycle. It receives a context cancelled when
// the poller stops and the cycle's fetch sequence number. Fetched state
// must be installed through Commit with that sequence number; applying it
// any other way defeats staleness rejection.
type RefreshFunc func(ctx context.Context, seq uint64)

// Poller drives a refresh function on a fixed interval. Overlapping cycles
// are allowed; Commit enforces last-write-wins across them, keyed by a
// monotonically increasing fetch sequence number.
type Poller struct {
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	ctx     context.Context
	refresh RefreshFunc
	running bool
	seq     uint64 // last issued fetch sequence
	applied uint64 // highest sequence whose results were committed
}

// NewPoller creates a stopped Poller with the given tick interval.
func NewPoller(interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{interval: interval, logger: logger}
}

// Start invokes refresh once immediately, then on every tick until Stop.
// Starting a running poller is a no-op.
func (p *Poller) Start(refresh RefreshFunc) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.ctx = ctx
	p.cancel = cancel
	p.refresh = refresh
	p.running = true
	p.mu.Unlock()

	go p.run(ctx, refresh)
}

func (p *Poller) run(ctx context.Context, refresh RefreshFunc) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.fire(ctx, refresh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fire(ctx, refresh)
		}
	}
}

// fire issues one cycle without waiting for the previous one to settle.
func (p *Poller) fire(ctx context.Context, refresh RefreshFunc) {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	go refresh(ctx, seq)
}

// Refresh schedules one immediate cycle outside the tick cadence, e.g.
// after a task submission. No-op when the poller is stopped.
func (p *Poller) Refresh() {
	p.mu.Lock()
	running, ctx, refresh := p.running, p.ctx, p.refresh
	p.mu.Unlock()
	if !running {
		return
	}
	p.fire(ctx, refresh)
}

// Stop cancels the schedule. In-flight cycles keep running but their
// commits are discarded. Safe to call repeatedly or before Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.running = false
}

// Commit installs a cycle's fetched state by running apply, unless a newer
// cycle already committed or the poller has stopped. It reports whether
// apply ran. apply executes under the poller's lock, so commits are
// serialized and a snapshot is swapped in atomically.
func (p *Poller) Commit(seq uint64, apply func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || seq < p.applied {
		return false
	}
	p.applied = seq
	apply()
	return true
}
