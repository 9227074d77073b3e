package bunstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
)

// DefaultQueueSize is the number of tasks a collection buffers before
// submitters block.
const DefaultQueueSize = 1024

// Task states. A task is claimed exactly once, either by the worker
// (running) or by a submitter that stopped waiting (abandoned).
const (
	taskQueued int32 = iota
	taskRunning
	taskAbandoned
)

// task is one unit of work run by an executor.
type task struct {
	ctx      context.Context
	fn       func() error
	resultCh chan error
	state    atomic.Int32
}

// executor runs the tasks of one collection one at a time, in submission
// order. Index mutations and cursor executions never overlap.
type executor struct {
	mu       sync.RWMutex
	queue    chan *task
	stopped  bool
	finished chan struct{}
}

func newExecutor(queueSize int) *executor {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	e := &executor{
		queue:    make(chan *task, queueSize),
		finished: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	defer close(e.finished)
	for t := range e.queue {
		// Tasks whose caller already gave up are dropped.
		if err := t.ctx.Err(); err != nil {
			t.state.CompareAndSwap(taskQueued, taskAbandoned)
		}
		if !t.state.CompareAndSwap(taskQueued, taskRunning) {
			continue
		}
		t.resultCh <- safeCall(t.fn)
	}
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bunstore: task panicked: %v", r)
		}
	}()
	return fn()
}

// Do queues fn and waits for it to finish. ctx bounds the wait for fn to
// start: once fn has started, Do waits for it and returns its result.
func (e *executor) Do(ctx context.Context, fn func() error) error {
	t := &task{ctx: ctx, fn: fn, resultCh: make(chan error, 1)}

	e.mu.RLock()
	if e.stopped {
		e.mu.RUnlock()
		return util.ErrDatabaseClosed
	}
	select {
	case e.queue <- t:
	case <-ctx.Done():
		e.mu.RUnlock()
		return ctx.Err()
	}
	e.mu.RUnlock()

	select {
	case err := <-t.resultCh:
		return err
	case <-ctx.Done():
		t.state.CompareAndSwap(taskQueued, taskAbandoned)
		if t.state.Load() == taskAbandoned {
			return ctx.Err()
		}
		return <-t.resultCh
	}
}

// Stop refuses new tasks, lets queued ones finish and waits for the worker.
func (e *executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		<-e.finished
		return
	}
	e.stopped = true
	close(e.queue)
	e.mu.Unlock()
	<-e.finished
}
