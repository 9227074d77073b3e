package bunstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/kartikbazzad/bunbase/bunstore/internal/metrics"
	"github.com/kartikbazzad/bunbase/bunstore/internal/query"
	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

// Collection represents a named set of documents and their indexes. The
// _id index holds every document; other indexes are created with
// EnsureIndex.
//
// Every operation is queued on the collection's executor, so at most one of
// them touches the indexes at a time.
type Collection struct {
	name           string
	db             *Database
	opts           CollectionOptions
	schema         *gojsonschema.Schema
	compareStrings storage.StringComparer
	parser         query.Parser

	mu      sync.RWMutex // guards the indexes map for Indexes()
	indexes map[string]*storage.Index

	exec      *executor
	listeners listenerSet
	logger    *slog.Logger
}

func newCollection(db *Database, name string, opts CollectionOptions) (*Collection, error) {
	c := &Collection{
		name:    name,
		db:      db,
		opts:    opts,
		parser:  query.Parser{Where: db.where},
		indexes: make(map[string]*storage.Index),
		logger:  db.logger.With("collection", name),
	}

	if opts.Collation != "" {
		cmp, err := newCollation(opts.Collation)
		if err != nil {
			return nil, err
		}
		c.compareStrings = cmp
	}

	if opts.Schema != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(opts.Schema))
		if err != nil {
			return nil, fmt.Errorf("invalid json schema: %w", err)
		}
		c.schema = schema
	}

	idIndex, err := storage.NewIndex(storage.IndexOptions{FieldName: storage.IDField, Unique: true})
	if err != nil {
		return nil, err
	}
	c.indexes[storage.IDField] = idIndex

	for _, io := range opts.Indexes {
		if io.FieldName == storage.IDField {
			continue
		}
		idx, err := storage.NewIndex(io)
		if err != nil {
			return nil, err
		}
		c.indexes[io.FieldName] = idx
	}

	c.exec = newExecutor(db.opts.QueueSize)
	return c, nil
}

// newCollation builds a string comparer from a BCP-47 tag.
func newCollation(tag string) (storage.StringComparer, error) {
	t, err := language.Parse(tag)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", util.ErrInvalidCollation, tag, err)
	}
	col := collate.New(t)
	return col.CompareString, nil
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// On registers a listener for an operation name (OpFind, OpInsert, ...),
// its error event (ErrorEvent(op)) or EventError.
func (c *Collection) On(event string, l Listener) {
	c.listeners.on(event, l)
}

// do runs fn on the executor and records the outcome.
func (c *Collection) do(ctx context.Context, op string, args []interface{}, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()

	var result interface{}
	err := c.exec.Do(ctx, func() error {
		r, err := fn()
		result = r
		return err
	})

	metrics.Observe(op, start, err)
	ev := Event{Collection: c.name, Op: op, Err: err, Args: args}
	if err != nil {
		c.logFailure(op, err)
		c.db.events.broadcast(&c.listeners, ev)
		return nil, err
	}

	c.logger.Debug("operation done", "op", op, "duration", time.Since(start))
	ev.Result = result
	c.db.events.broadcast(&c.listeners, ev)
	return result, nil
}

func (c *Collection) logFailure(op string, err error) {
	var uv *util.UniqueViolationError
	if errors.As(err, &uv) {
		metrics.UniqueViolations.WithLabelValues(c.name, uv.Field).Inc()
		c.logger.Warn("unique constraint violated", "op", op, "field", uv.Field, "key", uv.Key)
		return
	}
	c.logger.Debug("operation failed", "op", op, "error", err)
}

func (c *Collection) newCursor(filter map[string]interface{}) *Cursor {
	return &Cursor{
		source:         c,
		filter:         filter,
		parser:         c.parser,
		compareStrings: c.compareStrings,
		coll:           c,
	}
}

// Find returns a cursor over the documents matching filter. Results are
// copies of the stored documents.
func (c *Collection) Find(filter map[string]interface{}) *Cursor {
	cur := c.newCursor(filter)
	cur.op = OpFind
	cur.args = []interface{}{filter}
	cur.copyResults = true
	return cur
}

// FindOne returns the first document matching filter, or
// ErrDocumentNotFound.
func (c *Collection) FindOne(ctx context.Context, filter map[string]interface{}, projection query.Projection) (storage.Document, error) {
	cur := c.newCursor(filter).Limit(1).Projection(projection)
	cur.copyResults = true

	res, err := c.do(ctx, OpFindOne, []interface{}{filter, projection}, func() (interface{}, error) {
		docs, err := cur.run()
		if err != nil || len(docs) == 0 {
			return nil, err
		}
		return docs[0], nil
	})
	if err != nil {
		return nil, err
	}
	doc, _ := res.(storage.Document)
	if doc == nil {
		return nil, util.ErrDocumentNotFound
	}
	return doc, nil
}

// Count returns the number of documents matching filter.
func (c *Collection) Count(ctx context.Context, filter map[string]interface{}) (int, error) {
	cur := c.newCursor(filter)
	res, err := c.do(ctx, OpCount, []interface{}{filter}, func() (interface{}, error) {
		docs, err := cur.run()
		if err != nil {
			return nil, err
		}
		return len(docs), nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

// Insert stores copies of docs and returns them as stored. Documents
// without _id get a UUID. Either every document is inserted or none is.
func (c *Collection) Insert(ctx context.Context, docs ...storage.Document) ([]storage.Document, error) {
	args := make([]interface{}, len(docs))
	for i, d := range docs {
		args[i] = d
	}

	res, err := c.do(ctx, OpInsert, args, func() (interface{}, error) {
		prepared := make([]storage.Document, 0, len(docs))
		for _, d := range docs {
			p, err := c.prepareForInsertion(d)
			if err != nil {
				return nil, err
			}
			prepared = append(prepared, p)
		}

		if err := c.addToIndexes(prepared); err != nil {
			return nil, err
		}

		out := make([]storage.Document, len(prepared))
		for i, p := range prepared {
			out[i] = p.Clone()
		}
		c.logger.Debug("documents inserted", "count", len(out))
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]storage.Document), nil
}

func (c *Collection) prepareForInsertion(doc storage.Document) (storage.Document, error) {
	p := doc.Clone()
	if p == nil {
		p = storage.Document{}
	}
	if _, ok := p[storage.IDField]; !ok {
		p.SetID(storage.DocumentID(uuid.NewString()))
	}
	if c.opts.Timestamps {
		p.Touch(c.db.now())
	}
	if err := c.validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// validate checks field names and the collection's schema.
func (c *Collection) validate(doc storage.Document) error {
	if err := checkFieldNames(map[string]interface{}(doc)); err != nil {
		return err
	}
	if err := storage.CheckValue(doc); err != nil {
		return err
	}

	if c.schema == nil {
		return nil
	}

	result, err := c.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("%w: %s", util.ErrSchemaViolation, strings.Join(errs, "; "))
	}
	return nil
}

// checkFieldNames rejects keys starting with '$' or containing '.', which
// would be ambiguous in queries and dot paths.
func checkFieldNames(v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if strings.HasPrefix(k, "$") {
				return fmt.Errorf("%w: field names cannot begin with the $ character: %q", util.ErrInvalidFieldName, k)
			}
			if strings.Contains(k, ".") {
				return fmt.Errorf("%w: field names cannot contain a '.': %q", util.ErrInvalidFieldName, k)
			}
			if err := checkFieldNames(child); err != nil {
				return err
			}
		}
	case storage.Document:
		return checkFieldNames(map[string]interface{}(t))
	case []interface{}:
		for _, child := range t {
			if err := checkFieldNames(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// sortedIndexes returns the indexes in field order, _id first.
func (c *Collection) sortedIndexes() []*storage.Index {
	fields := make([]string, 0, len(c.indexes))
	for f := range c.indexes {
		if f != storage.IDField {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)

	out := []*storage.Index{c.indexes[storage.IDField]}
	for _, f := range fields {
		out = append(out, c.indexes[f])
	}
	return out
}

func (c *Collection) addToIndexes(docs []storage.Document) error {
	idxs := c.sortedIndexes()
	for i, idx := range idxs {
		if err := idx.InsertMany(docs); err != nil {
			for _, done := range idxs[:i] {
				done.RemoveMany(docs)
			}
			return err
		}
	}
	return nil
}

func (c *Collection) removeFromIndexes(docs []storage.Document) {
	for _, idx := range c.sortedIndexes() {
		idx.RemoveMany(docs)
	}
}

func (c *Collection) updateIndexes(updates []storage.DocumentUpdate) error {
	idxs := c.sortedIndexes()
	for i, idx := range idxs {
		if err := idx.UpdateMany(updates); err != nil {
			for _, done := range idxs[:i] {
				if rerr := done.RevertUpdates(updates); rerr != nil {
					c.logger.Error("failed to revert index update", "field", done.FieldName(), "error", rerr)
				}
			}
			return err
		}
	}
	return nil
}

// Update modifies the documents matching filter. Without Multi only the
// first match is modified. Either every selected document is updated or
// none is.
func (c *Collection) Update(ctx context.Context, filter, update map[string]interface{}, opts UpdateOptions) (*UpdateResult, error) {
	res, err := c.do(ctx, OpUpdate, []interface{}{filter, update, opts}, func() (interface{}, error) {
		return c.update(filter, update, opts)
	})
	if err != nil {
		return nil, err
	}
	return res.(*UpdateResult), nil
}

func (c *Collection) update(filter, update map[string]interface{}, opts UpdateOptions) (*UpdateResult, error) {
	update = normalize(update)
	if opts.Upsert {
		existing, err := c.newCursor(filter).Limit(1).run()
		if err != nil {
			return nil, err
		}
		if len(existing) == 0 {
			return c.upsert(filter, update)
		}
	}

	result := &UpdateResult{}
	cur := c.newCursor(filter)
	if !opts.Multi {
		cur.Limit(1)
	}
	cur.PostProcess(func(docs []storage.Document, err error) ([]storage.Document, error) {
		if err != nil {
			return nil, err
		}

		now := c.db.now()
		updates := make([]storage.DocumentUpdate, 0, len(docs))
		for _, old := range docs {
			modified, err := query.Modify(old, update)
			if err != nil {
				return nil, err
			}
			if c.opts.Timestamps {
				if created, ok := old["createdAt"]; ok {
					modified["createdAt"] = created
				}
				modified["updatedAt"] = now
			}
			if err := c.validate(modified); err != nil {
				return nil, err
			}
			updates = append(updates, storage.DocumentUpdate{Old: old, New: modified})
		}

		if err := c.updateIndexes(updates); err != nil {
			return nil, err
		}

		out := make([]storage.Document, len(updates))
		for i, u := range updates {
			out[i] = u.New
		}
		return out, nil
	})

	updated, err := cur.run()
	if err != nil {
		return nil, err
	}

	result.NumAffected = len(updated)
	if opts.ReturnUpdatedDocs {
		result.Docs = make([]storage.Document, len(updated))
		for i, d := range updated {
			result.Docs[i] = d.Clone()
		}
	}
	return result, nil
}

// normalize deep-copies a filter or update so typed Go slices and maps
// compare like their JSON counterparts.
func normalize(m map[string]interface{}) map[string]interface{} {
	out, _ := storage.DeepCopy(m).(map[string]interface{})
	return out
}

// upsert inserts the document described by filter and update.
func (c *Collection) upsert(filter, update map[string]interface{}) (*UpdateResult, error) {
	var (
		doc storage.Document
		err error
	)
	if hasModifiers(update) {
		doc, err = query.Modify(stripOperators(normalize(filter)), update)
		if err != nil {
			return nil, err
		}
	} else {
		doc = storage.Document(update).Clone()
	}

	prepared, err := c.prepareForInsertion(doc)
	if err != nil {
		return nil, err
	}
	if err := c.addToIndexes([]storage.Document{prepared}); err != nil {
		return nil, err
	}
	return &UpdateResult{NumAffected: 1, Upsert: true, Docs: []storage.Document{prepared.Clone()}}, nil
}

func hasModifiers(update map[string]interface{}) bool {
	for k := range update {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// stripOperators copies a filter keeping only plain field values, as the
// base document of an upsert.
func stripOperators(filter map[string]interface{}) storage.Document {
	out := storage.Document{}
	for k, v := range filter {
		if strings.HasPrefix(k, "$") || strings.Contains(k, ".") {
			continue
		}
		if m, ok := operatorMap(v); ok && len(m) > 0 {
			continue
		}
		out[k] = storage.DeepCopy(v)
	}
	return out
}

// Remove deletes the documents matching filter and returns how many were
// removed. Without Multi only the first match is removed.
func (c *Collection) Remove(ctx context.Context, filter map[string]interface{}, opts RemoveOptions) (int, error) {
	res, err := c.do(ctx, OpRemove, []interface{}{filter, opts}, func() (interface{}, error) {
		cur := c.newCursor(filter)
		if !opts.Multi {
			cur.Limit(1)
		}
		cur.PostProcess(func(docs []storage.Document, err error) ([]storage.Document, error) {
			if err != nil {
				return nil, err
			}
			c.removeFromIndexes(docs)
			return docs, nil
		})

		removed, err := cur.run()
		if err != nil {
			return nil, err
		}
		return len(removed), nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

// EnsureIndex creates an index on opts.FieldName and fills it with the
// existing documents. It is a no-op when the field is already indexed.
func (c *Collection) EnsureIndex(ctx context.Context, opts storage.IndexOptions) error {
	_, err := c.do(ctx, OpEnsureIndex, []interface{}{opts}, func() (interface{}, error) {
		if opts.FieldName == "" {
			return nil, util.ErrIndexFieldRequired
		}
		if _, ok := c.indexes[opts.FieldName]; ok {
			return nil, nil
		}

		idx, err := storage.NewIndex(opts)
		if err != nil {
			return nil, err
		}
		if err := idx.InsertMany(c.indexes[storage.IDField].GetAll()); err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.indexes[opts.FieldName] = idx
		c.mu.Unlock()
		c.logger.Info("index created", "field", opts.FieldName, "unique", opts.Unique, "sparse", opts.Sparse)
		return nil, nil
	})
	return err
}

// RemoveIndex drops the index on field.
func (c *Collection) RemoveIndex(ctx context.Context, field string) error {
	_, err := c.do(ctx, OpRemoveIndex, []interface{}{field}, func() (interface{}, error) {
		if field == storage.IDField {
			return nil, util.ErrCannotRemoveIDIndex
		}
		if _, ok := c.indexes[field]; !ok {
			return nil, fmt.Errorf("%w: %s", util.ErrIndexNotFound, field)
		}

		c.mu.Lock()
		delete(c.indexes, field)
		c.mu.Unlock()
		c.logger.Info("index removed", "field", field)
		return nil, nil
	})
	return err
}

// Indexes returns the options of every index, _id first.
func (c *Collection) Indexes() []storage.IndexOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]storage.IndexOptions, 0, len(c.indexes))
	for _, idx := range c.sortedIndexes() {
		out = append(out, idx.Options())
	}
	return out
}

// GetAllData returns copies of every document, in _id order.
func (c *Collection) GetAllData(ctx context.Context) ([]storage.Document, error) {
	var out []storage.Document
	err := c.exec.Do(ctx, func() error {
		all := c.indexes[storage.IDField].GetAll()
		out = make([]storage.Document, len(all))
		for i, d := range all {
			out[i] = d.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CheckIndexes runs the structural checks of every index tree.
func (c *Collection) CheckIndexes(ctx context.Context) error {
	return c.exec.Do(ctx, func() error {
		for _, idx := range c.sortedIndexes() {
			if err := idx.Check(); err != nil {
				return fmt.Errorf("index %s: %w", idx.FieldName(), err)
			}
		}
		return nil
	})
}

func (c *Collection) close() {
	c.exec.Stop()
}
