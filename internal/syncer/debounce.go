package syncer

import (
	"context"
	"sync"
	"time"
)

// Debouncer coalesces bursts of Notify calls into one run after a quiet
// period. A Notify that lands while a run is in flight schedules another run.
type Debouncer struct {
	delay time.Duration
	run   func(ctx context.Context)

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	running bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDebouncer(delay time.Duration, run func(ctx context.Context)) *Debouncer {
	if delay <= 0 {
		delay = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{delay: delay, run: run, ctx: ctx, cancel: cancel}
}

func (d *Debouncer) Notify() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = true
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.onTimer)
		return
	}
	d.timer.Reset(d.delay)
}

func (d *Debouncer) onTimer() {
	d.mu.Lock()
	if d.stopped || !d.pending {
		d.mu.Unlock()
		return
	}
	if d.running {
		d.timer.Reset(d.delay)
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.running = true
	d.wg.Add(1)
	d.mu.Unlock()

	d.run(d.ctx)

	d.mu.Lock()
	d.running = false
	if d.pending && !d.stopped {
		d.timer.Reset(d.delay)
	}
	d.mu.Unlock()
	d.wg.Done()
}

// Stop cancels the pending timer, cancels an in-flight run and waits for it.
func (d *Debouncer) Stop() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}
