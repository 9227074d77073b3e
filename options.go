package bunstore

import (
	"log/slog"
	"time"

	"github.com/kartikbazzad/bunbase/bunstore/internal/config"
	"github.com/kartikbazzad/bunbase/bunstore/internal/logger"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

// Options configures a database instance
type Options struct {
	// Logger defaults to the process-wide logger.
	Logger *slog.Logger

	// EventWorkers sizes the pool running event listeners (default: 4).
	EventWorkers int

	// QueueSize bounds each collection's pending operations (default: 1024).
	QueueSize int

	// ProgramCacheSize bounds the compiled $where programs kept per database
	// (default: 256).
	ProgramCacheSize int

	// Collection holds the defaults for collections created without their
	// own options.
	Collection CollectionOptions

	// Now is the clock used for timestamps (default: time.Now).
	Now func() time.Time
}

// DefaultOptions returns default database options
func DefaultOptions() *Options {
	return &Options{
		EventWorkers:     4,
		QueueSize:        DefaultQueueSize,
		ProgramCacheSize: 256,
	}
}

// OptionsFromConfig maps loaded configuration onto database options.
func OptionsFromConfig(cfg config.Config) *Options {
	opts := DefaultOptions()
	opts.Logger = logger.New(cfg.Log)
	if cfg.Events.Workers > 0 {
		opts.EventWorkers = cfg.Events.Workers
	}
	if cfg.Collection.ProgramCache > 0 {
		opts.ProgramCacheSize = cfg.Collection.ProgramCache
	}
	opts.Collection.Timestamps = cfg.Collection.Timestamps
	opts.Collection.Collation = cfg.Collection.Collation
	return opts
}

// CollectionOptions configures one collection.
type CollectionOptions struct {
	// Timestamps stamps createdAt on insert and updatedAt on every write.
	Timestamps bool

	// Collation is a BCP-47 language tag. When set, strings are compared
	// with the language's collation rules in sorts and indexes instead of
	// byte order.
	Collation string

	// Schema is an optional JSON schema every stored document must satisfy.
	Schema string

	// Indexes are created along with the collection.
	Indexes []storage.IndexOptions
}

// UpdateOptions controls Collection.Update.
type UpdateOptions struct {
	// Multi updates every matching document instead of the first one.
	Multi bool
	// Upsert inserts a document built from the filter and the update when
	// nothing matches.
	Upsert bool
	// ReturnUpdatedDocs fills UpdateResult.Docs.
	ReturnUpdatedDocs bool
}

// UpdateResult reports what Collection.Update did.
type UpdateResult struct {
	NumAffected int
	// Upsert is true when the document was inserted.
	Upsert bool
	// Docs holds copies of the updated or inserted documents, when asked
	// for (always set on upsert).
	Docs []storage.Document
}

// RemoveOptions controls Collection.Remove.
type RemoveOptions struct {
	// Multi removes every matching document instead of the first one.
	Multi bool
}
