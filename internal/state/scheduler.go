package state

import (
	"sync"
	"time"

	"missioncontrol/internal/model"
)

// pendingWrite is one document version waiting to be persisted. seq orders
// versions produced by the owning store; editor is who produced it.
type pendingWrite struct {
	seq    uint64
	doc    model.AppState
	editor string
}

// writeScheduler coalesces bursts of updates into one write. Only the most
// recent version is persisted; writes never go out of seq order and a
// version older than the last written one is dropped.
type writeScheduler struct {
	clock Clock
	delay time.Duration
	write func(pendingWrite)

	mu          sync.Mutex
	timer       Timer
	gen         uint64
	pending     *pendingWrite
	lastWritten uint64

	writeMu sync.Mutex
}

func newWriteScheduler(clock Clock, delay time.Duration, write func(pendingWrite)) *writeScheduler {
	return &writeScheduler{clock: clock, delay: delay, write: write}
}

// schedule replaces the pending version and restarts the quiet window.
func (w *writeScheduler) schedule(p pendingWrite) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.pending = &p
	gen := w.gen
	w.timer = w.clock.AfterFunc(w.delay, func() { w.fire(gen) })
}

// immediate cancels a pending debounced write of an older version and
// writes p synchronously.
func (w *writeScheduler) immediate(p pendingWrite) {
	w.mu.Lock()
	if w.pending != nil && w.pending.seq <= p.seq {
		w.stopLocked()
		w.pending = nil
	}
	w.mu.Unlock()

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.emit(p)
}

// flush writes the pending version now. It reports whether one existed.
func (w *writeScheduler) flush() bool {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	p := w.pending
	w.stopLocked()
	w.pending = nil
	w.mu.Unlock()

	if p == nil {
		return false
	}
	w.emit(*p)
	return true
}

// cancel drops the pending version without writing it.
func (w *writeScheduler) cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.pending = nil
}

func (w *writeScheduler) hasPending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending != nil
}

func (w *writeScheduler) fire(gen uint64) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	if gen != w.gen || w.pending == nil {
		w.mu.Unlock()
		return
	}
	p := *w.pending
	w.pending = nil
	w.timer = nil
	w.mu.Unlock()

	w.emit(p)
}

// emit must be called with writeMu held.
func (w *writeScheduler) emit(p pendingWrite) {
	w.mu.Lock()
	if p.seq <= w.lastWritten {
		w.mu.Unlock()
		return
	}
	w.lastWritten = p.seq
	w.mu.Unlock()
	w.write(p)
}

func (w *writeScheduler) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.gen++
}
