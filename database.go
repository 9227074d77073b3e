// Package bunstore implements an embedded, in-memory document store.
//
// Architecture:
//  1. Database: owns collections, the listener worker pool and the logger.
//  2. Collection: holds documents in field indexes and runs every operation
//     on its own serial executor.
//  3. Cursor: filter, sort, skip/limit and projection pipeline over the
//     candidates a collection supplies.
//  4. storage: ordered index trees, documents and the value order shared by
//     indexes, sorts and queries.
package bunstore

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kartikbazzad/bunbase/bunstore/internal/logger"
	"github.com/kartikbazzad/bunbase/bunstore/internal/query"
	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
)

// Database represents a bunstore instance.
type Database struct {
	opts        Options
	logger      *slog.Logger
	where       *query.WhereEngine
	events      *dispatcher
	collections map[string]*Collection
	mu          sync.RWMutex // Protects map access and closure state
	closed      bool
}

// Open creates a database. A nil opts uses DefaultOptions.
func Open(opts *Options) (*Database, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Logger == nil {
		o.Logger = logger.Component("bunstore")
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	where, err := query.NewWhereEngine(o.ProgramCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create $where engine: %w", err)
	}

	events, err := newDispatcher(o.EventWorkers, o.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event pool: %w", err)
	}

	db := &Database{
		opts:        o,
		logger:      o.Logger,
		where:       where,
		events:      events,
		collections: make(map[string]*Collection),
	}
	db.logger.Debug("database opened", "event_workers", o.EventWorkers)
	return db, nil
}

func (db *Database) now() time.Time {
	return db.opts.Now()
}

// Close stops every collection after its queued operations and waits for
// pending listeners.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	colls := db.collections
	db.collections = map[string]*Collection{}
	db.mu.Unlock()

	for _, c := range colls {
		c.close()
	}
	db.events.close()
	db.logger.Debug("database closed")
	return nil
}

// CreateCollection creates a collection. A nil opts uses the database
// defaults.
func (db *Database) CreateCollection(name string, opts *CollectionOptions) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, util.ErrDatabaseClosed
	}
	if _, exists := db.collections[name]; exists {
		return nil, fmt.Errorf("%w: %s", util.ErrCollectionExists, name)
	}

	co := db.opts.Collection
	if opts != nil {
		co = *opts
	}
	coll, err := newCollection(db, name, co)
	if err != nil {
		return nil, err
	}
	db.collections[name] = coll
	db.logger.Info("collection created", "collection", name)
	return coll, nil
}

// Collection returns the named collection, creating it with the default
// options when it does not exist.
func (db *Database) Collection(name string) (*Collection, error) {
	db.mu.RLock()
	coll, ok := db.collections[name]
	closed := db.closed
	db.mu.RUnlock()

	if closed {
		return nil, util.ErrDatabaseClosed
	}
	if ok {
		return coll, nil
	}

	coll, err := db.CreateCollection(name, nil)
	if err != nil {
		// Lost a creation race.
		db.mu.RLock()
		existing, ok := db.collections[name]
		db.mu.RUnlock()
		if ok {
			return existing, nil
		}
		return nil, err
	}
	return coll, nil
}

// GetCollection returns an existing collection or ErrCollectionNotFound.
func (db *Database) GetCollection(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, util.ErrDatabaseClosed
	}
	coll, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", util.ErrCollectionNotFound, name)
	}
	return coll, nil
}

// DropCollection removes a collection and all its documents.
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return util.ErrDatabaseClosed
	}
	coll, ok := db.collections[name]
	if !ok {
		db.mu.Unlock()
		return fmt.Errorf("%w: %s", util.ErrCollectionNotFound, name)
	}
	delete(db.collections, name)
	db.mu.Unlock()

	coll.close()
	db.logger.Info("collection dropped", "collection", name)
	return nil
}

// ListCollections returns collection names in alphabetical order.
func (db *Database) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WaitEvents blocks until every listener dispatched so far has returned.
func (db *Database) WaitEvents() {
	db.events.wait()
}
