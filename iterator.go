package bunstore

import (
	"fmt"
	"sort"

	"github.com/kartikbazzad/bunbase/bunstore/internal/query"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

// Iterator defines the interface for iterating over document results.
// It follows the standard Cursor pattern: Next() advances, Value() retrieves.
type Iterator interface {
	Next() bool                       // Advances to the next document. Returns false if exhausted or failed.
	Value() (storage.Document, error) // Returns the current document.
	Err() error                       // Returns the error that stopped iteration, if any.
	Close() error
}

// SliceIterator walks a candidate list in order and counts how many
// candidates were pulled.
type SliceIterator struct {
	docs   []storage.Document
	index  int
	pulled int
}

func NewSliceIterator(docs []storage.Document) *SliceIterator {
	return &SliceIterator{docs: docs, index: -1}
}

func (it *SliceIterator) Next() bool {
	if it.index+1 >= len(it.docs) {
		return false
	}
	it.index++
	it.pulled++
	return true
}

func (it *SliceIterator) Value() (storage.Document, error) {
	if it.index < 0 || it.index >= len(it.docs) {
		return nil, fmt.Errorf("iterator out of bounds")
	}
	return it.docs[it.index], nil
}

func (it *SliceIterator) Err() error { return nil }

func (it *SliceIterator) Close() error { return nil }

// Pulled returns the number of candidates handed out so far.
func (it *SliceIterator) Pulled() int { return it.pulled }

// FilterIterator filters documents based on AST
type FilterIterator struct {
	source  Iterator
	matcher query.Node
	current storage.Document
	err     error
}

func NewFilterIterator(source Iterator, matcher query.Node) *FilterIterator {
	return &FilterIterator{
		source:  source,
		matcher: matcher,
	}
}

func (it *FilterIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.source.Next() {
		doc, err := it.source.Value()
		if err != nil {
			it.err = err
			return false
		}

		ok, err := it.matcher.Matches(doc)
		if err != nil {
			// One failing candidate fails the whole execution.
			it.err = err
			return false
		}
		if ok {
			it.current = doc
			return true
		}
	}
	return false
}

func (it *FilterIterator) Value() (storage.Document, error) {
	return it.current, it.err
}

func (it *FilterIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.source.Err()
}

func (it *FilterIterator) Close() error {
	return it.source.Close()
}

// LimitIterator limits the number of results. It stops pulling from its
// source once the limit is reached.
type LimitIterator struct {
	source Iterator
	limit  int
	count  int
}

func NewLimitIterator(source Iterator, limit int) *LimitIterator {
	return &LimitIterator{
		source: source,
		limit:  limit,
	}
}

func (it *LimitIterator) Next() bool {
	if it.count >= it.limit {
		return false
	}
	if it.source.Next() {
		it.count++
		return true
	}
	return false
}

func (it *LimitIterator) Value() (storage.Document, error) {
	return it.source.Value()
}

func (it *LimitIterator) Err() error { return it.source.Err() }

func (it *LimitIterator) Close() error {
	return it.source.Close()
}

// SkipIterator skips the first N results
type SkipIterator struct {
	source  Iterator
	skip    int
	skipped bool
}

func NewSkipIterator(source Iterator, skip int) *SkipIterator {
	return &SkipIterator{
		source: source,
		skip:   skip,
	}
}

func (it *SkipIterator) Next() bool {
	if !it.skipped {
		it.skipped = true
		for i := 0; i < it.skip; i++ {
			if !it.source.Next() {
				return false // Source exhausted before skip finished
			}
		}
	}
	return it.source.Next()
}

func (it *SkipIterator) Value() (storage.Document, error) {
	return it.source.Value()
}

func (it *SkipIterator) Err() error { return it.source.Err() }

func (it *SkipIterator) Close() error {
	return it.source.Close()
}

// SortIterator buffers all results, sorts them, and iterates.
// Documents comparing equal keep their source order.
type SortIterator struct {
	source         Iterator
	spec           query.SortSpec
	compareStrings storage.StringComparer
	docs           []storage.Document
	index          int
	prepared       bool
	err            error
}

func NewSortIterator(source Iterator, spec query.SortSpec, compareStrings storage.StringComparer) *SortIterator {
	return &SortIterator{
		source:         source,
		spec:           spec,
		compareStrings: compareStrings,
		index:          -1,
	}
}

func (it *SortIterator) prepare() {
	it.prepared = true

	// Buffer all docs
	for it.source.Next() {
		doc, err := it.source.Value()
		if err != nil {
			it.err = err
			return
		}
		it.docs = append(it.docs, doc)
	}
	if err := it.source.Err(); err != nil {
		it.err = err
		it.docs = nil
		return
	}

	sort.SliceStable(it.docs, func(i, j int) bool {
		return it.spec.Compare(it.docs[i], it.docs[j], it.compareStrings) < 0
	})
}

func (it *SortIterator) Next() bool {
	if !it.prepared {
		it.prepare()
	}
	if it.err != nil {
		return false
	}
	it.index++
	return it.index < len(it.docs)
}

func (it *SortIterator) Value() (storage.Document, error) {
	if it.index < 0 || it.index >= len(it.docs) {
		return nil, fmt.Errorf("iterator out of bounds")
	}
	return it.docs[it.index], nil
}

func (it *SortIterator) Err() error { return it.err }

func (it *SortIterator) Close() error {
	it.docs = nil // Release memory
	return it.source.Close()
}

// drain collects every remaining document of it.
func drain(it Iterator) ([]storage.Document, error) {
	res := []storage.Document{}
	for it.Next() {
		doc, err := it.Value()
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
