package bunstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/bunstore/internal/query"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

type failingMatcher struct{ after int }

func (m *failingMatcher) Matches(storage.Document) (bool, error) {
	if m.after == 0 {
		return false, errors.New("cannot evaluate")
	}
	m.after--
	return true, nil
}

func TestSliceIterator(t *testing.T) {
	it := NewSliceIterator([]storage.Document{{"n": 1}, {"n": 2}})

	_, err := it.Value()
	assert.Error(t, err, "Value before Next")

	got, err := drain(it)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2}, nValues(got))
	assert.Equal(t, 2, it.Pulled())
	assert.False(t, it.Next())
}

func TestDrainEmpty(t *testing.T) {
	got, err := drain(NewSliceIterator(nil))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFilterIteratorStopsOnError(t *testing.T) {
	src := NewSliceIterator([]storage.Document{{"n": 1}, {"n": 2}, {"n": 3}, {"n": 4}})
	it := NewFilterIterator(src, &failingMatcher{after: 2})

	got, err := drain(it)
	assert.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 3, src.Pulled())
	assert.False(t, it.Next(), "a failed iterator stays exhausted")
}

func TestSortIteratorIsStable(t *testing.T) {
	docs := []storage.Document{
		{"k": 2, "tag": "a"},
		{"k": 1, "tag": "b"},
		{"k": 2, "tag": "c"},
		{"k": 1, "tag": "d"},
	}
	it := NewSortIterator(NewSliceIterator(docs), query.SortSpec{{Field: "k", Direction: 1}}, nil)

	got, err := drain(it)
	require.NoError(t, err)
	tags := make([]interface{}, len(got))
	for i, d := range got {
		tags[i] = d["tag"]
	}
	assert.Equal(t, []interface{}{"b", "d", "a", "c"}, tags)
}

func TestSortIteratorPropagatesSourceError(t *testing.T) {
	src := NewFilterIterator(NewSliceIterator([]storage.Document{{"k": 1}, {"k": 2}}), &failingMatcher{after: 1})
	it := NewSortIterator(src, query.SortSpec{{Field: "k", Direction: -1}}, nil)

	assert.False(t, it.Next())
	assert.Error(t, it.Err())
}

func TestSkipThenLimit(t *testing.T) {
	docs := make([]storage.Document, 10)
	for i := range docs {
		docs[i] = storage.Document{"n": i}
	}
	src := NewSliceIterator(docs)
	it := NewLimitIterator(NewSkipIterator(src, 3), 2)

	got, err := drain(it)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{3, 4}, nValues(got))
	assert.Equal(t, 5, src.Pulled())
}
