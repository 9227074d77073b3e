package storage

import (
	"errors"

	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
)

// IndexOptions describes a field index.
type IndexOptions struct {
	// FieldName is the dot path the index is keyed on.
	FieldName string `json:"fieldName"`
	// Unique rejects two documents with the same key.
	Unique bool `json:"unique"`
	// Sparse skips documents where the field is absent.
	Sparse bool `json:"sparse"`
}

// Index maps the values of one document field to the documents holding
// them. It is backed by an ordered Tree keyed with CompareValues.
//
// Array fields index each distinct element separately, so a document can
// sit under several keys. Every mutation is all-or-nothing: a unique
// violation rolls back whatever the call already inserted.
//
// Keys always use the default string order, the one query matching uses,
// so a range lookup selects exactly the documents a full scan would.
// Collations only affect sorting.
type Index struct {
	opts IndexOptions
	tree *Tree[interface{}, Document]
}

// DocumentUpdate pairs the old and new version of a modified document.
type DocumentUpdate struct {
	Old Document
	New Document
}

// NewIndex creates an empty index.
func NewIndex(opts IndexOptions) (*Index, error) {
	if opts.FieldName == "" {
		return nil, util.ErrIndexFieldRequired
	}
	idx := &Index{opts: opts}
	idx.Reset()
	return idx, nil
}

// Options returns the options the index was created with.
func (idx *Index) Options() IndexOptions { return idx.opts }

// FieldName returns the indexed dot path.
func (idx *Index) FieldName() string { return idx.opts.FieldName }

// Reset drops every entry.
func (idx *Index) Reset() {
	idx.tree = NewTree(TreeOptions[interface{}, Document]{
		Unique:             idx.opts.Unique,
		CompareKeys:        CompareValues,
		CheckValueEquality: sameDocument,
	})
}

// sameDocument compares documents by identity field.
func sameDocument(a, b Document) bool {
	return Equal(a[IDField], b[IDField])
}

// keys returns the distinct index keys of doc. skip is true when the
// document must not be indexed at all.
func (idx *Index) keys(doc Document) (keys []interface{}, skip bool) {
	v := GetPath(doc, idx.opts.FieldName)
	if IsUndefined(v) && idx.opts.Sparse {
		return nil, true
	}

	arr, ok := v.([]interface{})
	if !ok {
		return []interface{}{v}, false
	}

	for _, el := range arr {
		dup := false
		for _, k := range keys {
			if CompareValues(k, el) == 0 {
				dup = true
				break
			}
		}
		if !dup {
			keys = append(keys, el)
		}
	}
	return keys, false
}

// Insert indexes one document.
func (idx *Index) Insert(doc Document) error {
	keys, skip := idx.keys(doc)
	if skip {
		return nil
	}

	for i, k := range keys {
		if err := idx.tree.Insert(k, doc); err != nil {
			for _, done := range keys[:i] {
				idx.tree.DeleteValue(done, doc)
			}
			return idx.decorate(err)
		}
	}
	return nil
}

// InsertMany indexes several documents. On failure none of them stay
// indexed.
func (idx *Index) InsertMany(docs []Document) error {
	for i, doc := range docs {
		if err := idx.Insert(doc); err != nil {
			for _, done := range docs[:i] {
				idx.Remove(done)
			}
			return err
		}
	}
	return nil
}

// Remove drops one document from the index.
func (idx *Index) Remove(doc Document) {
	keys, skip := idx.keys(doc)
	if skip {
		return
	}
	for _, k := range keys {
		idx.tree.DeleteValue(k, doc)
	}
}

// RemoveMany drops several documents.
func (idx *Index) RemoveMany(docs []Document) {
	for _, doc := range docs {
		idx.Remove(doc)
	}
}

// Update replaces old by updated. If updated cannot be indexed, old is
// put back and the error returned.
func (idx *Index) Update(old, updated Document) error {
	idx.Remove(old)
	if err := idx.Insert(updated); err != nil {
		// Re-inserting what was just removed cannot collide.
		_ = idx.Insert(old)
		return err
	}
	return nil
}

// UpdateMany applies several updates at once. Either all of them are
// applied or the index is left as it was.
func (idx *Index) UpdateMany(updates []DocumentUpdate) error {
	for _, u := range updates {
		idx.Remove(u.Old)
	}

	for i, u := range updates {
		if err := idx.Insert(u.New); err != nil {
			for _, done := range updates[:i] {
				idx.Remove(done.New)
			}
			for _, u := range updates {
				_ = idx.Insert(u.Old)
			}
			return err
		}
	}
	return nil
}

// RevertUpdates undoes a successful UpdateMany.
func (idx *Index) RevertUpdates(updates []DocumentUpdate) error {
	reverted := make([]DocumentUpdate, len(updates))
	for i, u := range updates {
		reverted[i] = DocumentUpdate{Old: u.New, New: u.Old}
	}
	return idx.UpdateMany(reverted)
}

// GetMatching returns the documents indexed under value. A slice value
// matches any of its elements; documents are deduplicated by _id and
// returned in first-seen order.
func (idx *Index) GetMatching(value interface{}) []Document {
	values, ok := value.([]interface{})
	if !ok {
		return idx.tree.Search(value)
	}

	var res []Document
	for _, v := range values {
		res = append(res, idx.tree.Search(v)...)
	}
	return uniqueDocuments(res)
}

// GetBetweenBounds returns the documents whose key is within r, in key
// order. A document indexed under several keys in range appears once.
func (idx *Index) GetBetweenBounds(r Range[interface{}]) []Document {
	return uniqueDocuments(idx.tree.RangeScan(r))
}

// uniqueDocuments drops repeated documents, keeping first occurrences.
func uniqueDocuments(docs []Document) []Document {
	res := make([]Document, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if id, ok := doc[IDField].(string); ok {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		} else if containsDocument(res, doc) {
			continue
		}
		res = append(res, doc)
	}
	return res
}

func containsDocument(docs []Document, doc Document) bool {
	for _, d := range docs {
		if sameDocument(d, doc) {
			return true
		}
	}
	return false
}

// GetAll returns every indexed document in key order. Documents indexed
// under several keys appear once per key.
func (idx *Index) GetAll() []Document {
	var res []Document
	idx.tree.Walk(func(_ interface{}, docs []Document) bool {
		res = append(res, docs...)
		return true
	})
	return res
}

// NumberOfKeys returns the number of distinct keys.
func (idx *Index) NumberOfKeys() int {
	return idx.tree.NumberOfKeys()
}

// Check runs the tree's structural checks.
func (idx *Index) Check() error {
	return idx.tree.CheckIsBST()
}

func (idx *Index) decorate(err error) error {
	var uv *util.UniqueViolationError
	if errors.As(err, &uv) {
		uv.Field = idx.opts.FieldName
	}
	return err
}
