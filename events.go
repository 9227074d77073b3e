package bunstore

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Operation names, also used as event names.
const (
	OpFind        = "find"
	OpFindOne     = "findOne"
	OpCount       = "count"
	OpInsert      = "insert"
	OpUpdate      = "update"
	OpRemove      = "remove"
	OpEnsureIndex = "ensureIndex"
	OpRemoveIndex = "removeIndex"

	// EventError fires for every failed operation, after "<op>Error".
	EventError = "error"
)

// ErrorEvent returns the event name fired when op fails.
func ErrorEvent(op string) string {
	return op + "Error"
}

// Event describes a finished collection operation.
type Event struct {
	Collection string
	Op         string
	// Result is the operation's return value: []Document for find and
	// insert, Document for findOne, int for count and remove, *UpdateResult
	// for update. Nil on failure.
	Result interface{}
	Err    error
	// Args are the arguments the operation was called with.
	Args []interface{}
}

// Listener receives events. Listeners run on a shared worker pool, so
// they may call back into the collection, and there is no ordering
// guarantee between two events.
type Listener func(Event)

// dispatcher runs listeners on an ants pool shared by every collection of
// a database. The pool never blocks a submitter: when every worker is busy
// the listener gets its own goroutine, so listeners that trigger further
// events cannot starve the pool.
type dispatcher struct {
	pool   *ants.Pool
	wg     sync.WaitGroup
	logger *slog.Logger
}

func newDispatcher(workers int, logger *slog.Logger) (*dispatcher, error) {
	if workers <= 0 {
		workers = 4
	}
	d := &dispatcher{logger: logger}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			d.logger.Warn("event listener panic", "panic", v)
		}),
	)
	if err != nil {
		return nil, err
	}
	d.pool = pool
	return d, nil
}

func (d *dispatcher) dispatch(name string, ls []Listener, ev Event) {
	for _, l := range ls {
		l := l
		d.wg.Add(1)
		run := func() {
			defer d.wg.Done()
			l(ev)
		}
		err := d.pool.Submit(run)
		switch {
		case err == nil:
		case errors.Is(err, ants.ErrPoolOverload):
			go d.runDetached(run)
		default:
			d.wg.Done()
			d.logger.Warn("dropped event", "event", name, "collection", ev.Collection, "error", err)
		}
	}
}

// runDetached runs a listener outside the pool with the pool's panic
// handling.
func (d *dispatcher) runDetached(run func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("event listener panic", "panic", r)
		}
	}()
	run()
}

// wait blocks until every submitted listener has returned.
func (d *dispatcher) wait() {
	d.wg.Wait()
}

func (d *dispatcher) close() {
	d.wait()
	d.pool.Release()
}

// listenerSet holds the listeners of one collection.
type listenerSet struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

func (s *listenerSet) on(name string, l Listener) {
	s.mu.Lock()
	if s.listeners == nil {
		s.listeners = make(map[string][]Listener)
	}
	s.listeners[name] = append(s.listeners[name], l)
	s.mu.Unlock()
}

func (s *listenerSet) get(name string) []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listeners[name]
}

// broadcast fires op on success, or "<op>Error" then "error" on failure.
func (d *dispatcher) broadcast(s *listenerSet, ev Event) {
	if ev.Err == nil {
		d.dispatch(ev.Op, s.get(ev.Op), ev)
		return
	}
	d.dispatch(ErrorEvent(ev.Op), s.get(ErrorEvent(ev.Op)), ev)
	d.dispatch(EventError, s.get(EventError), ev)
}
