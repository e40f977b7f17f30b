package dataq

import (
	"sync/atomic"
	"time"
)

type workerState int32

const (
	workerRunning workerState = iota
	workerShuttingDown
	workerStopped
)

// worker is the single serialized execution lane of one Context. Arming
// is idempotent: the signal channel has capacity one, so at most one
// execution is ever pending on top of the one in flight.
type worker struct {
	signal  chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	state   atomic.Int32
}

func newWorker() *worker {
	return &worker{
		signal:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (w *worker) accepting() bool {
	return workerState(w.state.Load()) == workerRunning
}

// arm signals that there is (likely) work to pull. No-op when a signal is
// already pending or the worker is no longer accepting.
func (w *worker) arm() {
	if !w.accepting() {
		return
	}
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// beginShutdown moves the worker out of the accepting state. Returns
// false if shutdown had already begun.
func (w *worker) beginShutdown() bool {
	if !w.state.CompareAndSwap(int32(workerRunning), int32(workerShuttingDown)) {
		return false
	}
	close(w.quit)
	return true
}

// awaitStop waits up to timeout for the in-flight execution to finish,
// then declares the worker stopped regardless.
func (w *worker) awaitStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var finished bool
	select {
	case <-w.stopped:
		finished = true
	case <-timer.C:
	}
	w.state.Store(int32(workerStopped))
	return finished
}
