package bunstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/bunstore/internal/query"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

// sliceSource hands out a fixed candidate list and counts calls.
type sliceSource struct {
	docs  []storage.Document
	calls int
	err   error
}

func (s *sliceSource) Candidates(map[string]interface{}) ([]storage.Document, error) {
	s.calls++
	return s.docs, s.err
}

func nValues(docs []storage.Document) []interface{} {
	out := make([]interface{}, len(docs))
	for i, d := range docs {
		out[i] = d["n"]
	}
	return out
}

func TestCursorSortSkipLimit(t *testing.T) {
	src := &sliceSource{docs: []storage.Document{{"n": 3}, {"n": 1}, {"n": 2}}}

	docs, err := NewCursor(src, nil).
		Sort(query.SortSpec{{Field: "n", Direction: 1}}).
		Skip(1).
		Limit(1).
		Exec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{2}, nValues(docs))
}

func TestCursorUnsortedUsesDiscoveryOrder(t *testing.T) {
	src := &sliceSource{docs: []storage.Document{{"n": 3}, {"n": 1}, {"n": 2}}}

	docs, err := NewCursor(src, nil).Skip(1).Limit(1).Exec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1}, nValues(docs))
}

// guardedDocs returns good documents 0..good-1 followed by documents the
// $where filter below fails on, so any evaluation past the good ones
// surfaces as a MatcherError.
func guardedDocs(good, total int) []storage.Document {
	docs := make([]storage.Document, total)
	for i := range docs {
		if i < good {
			docs[i] = storage.Document{"n": good - 1 - i}
		} else {
			docs[i] = storage.Document{"m": i}
		}
	}
	return docs
}

var guardFilter = map[string]interface{}{"$where": "doc.n >= 0"}

func TestCursorUnsortedStopsAtLimit(t *testing.T) {
	src := &sliceSource{docs: guardedDocs(5, 100)}

	docs, err := NewCursor(src, guardFilter).Skip(2).Limit(3).Exec(context.Background())
	require.NoError(t, err, "candidates past skip+limit are never evaluated")
	assert.Equal(t, []interface{}{2, 1, 0}, nValues(docs))

	// One more result needs the next candidate.
	_, err = NewCursor(src, guardFilter).Skip(2).Limit(4).Exec(context.Background())
	assert.ErrorIs(t, err, ErrMatcherFailed)
}

func TestCursorSortedMaterializesEverything(t *testing.T) {
	src := &sliceSource{docs: guardedDocs(5, 100)}

	_, err := NewCursor(src, guardFilter).
		Sort(query.SortSpec{{Field: "n", Direction: 1}}).
		Limit(1).
		Exec(context.Background())
	assert.ErrorIs(t, err, ErrMatcherFailed, "a sorted cursor evaluates every candidate")

	src = &sliceSource{docs: guardedDocs(50, 50)}
	docs, err := NewCursor(src, guardFilter).
		Sort(query.SortSpec{{Field: "n", Direction: 1}}).
		Skip(1).
		Limit(2).
		Exec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2}, nValues(docs))
}

func TestCursorRegexpValue(t *testing.T) {
	src := &sliceSource{docs: []storage.Document{{"n": 1, "s": "alpha"}, {"n": 2, "s": "beta"}}}

	docs, err := NewCursor(src, map[string]interface{}{"s": regexp.MustCompile("^b")}).Exec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{2}, nValues(docs))
}

func TestCursorFilterAndMultiFieldSort(t *testing.T) {
	src := &sliceSource{docs: []storage.Document{
		{"_id": "1", "g": "b", "n": 1},
		{"_id": "2", "g": "a", "n": 2},
		{"_id": "3", "g": "b", "n": 3},
		{"_id": "4", "g": "a", "n": 4},
		{"_id": "5", "g": "c", "n": 5},
	}}

	docs, err := NewCursor(src, map[string]interface{}{"g": map[string]interface{}{"$in": []interface{}{"a", "b"}}}).
		Sort(query.SortSpec{{Field: "g", Direction: 1}, {Field: "n", Direction: -1}}).
		Exec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{4, 2, 3, 1}, nValues(docs))
}

func TestCursorNegativeSkipAndLimitAreIgnored(t *testing.T) {
	src := &sliceSource{docs: []storage.Document{{"n": 1}, {"n": 2}}}

	docs, err := NewCursor(src, nil).Skip(-3).Limit(-1).Exec(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestCursorSkipPastEnd(t *testing.T) {
	src := &sliceSource{docs: []storage.Document{{"n": 1}, {"n": 2}}}

	docs, err := NewCursor(src, nil).Skip(5).Exec(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = NewCursor(src, nil).Sort(query.SortSpec{{Field: "n", Direction: 1}}).Skip(5).Exec(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCursorProjection(t *testing.T) {
	src := &sliceSource{docs: []storage.Document{{"_id": "x", "n": 5, "m": 9}}}

	docs, err := NewCursor(src, nil).Projection(query.Projection{"n": 1}).Exec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []storage.Document{{"_id": "x", "n": 5}}, docs)

	docs, err = NewCursor(src, nil).Projection(query.Projection{"n": 1, "_id": 0}).Exec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []storage.Document{{"n": 5}}, docs)

	assert.Equal(t, 9, src.docs[0]["m"])
}

func TestCursorProjectionConflictFailsBeforeCandidates(t *testing.T) {
	src := &sliceSource{docs: []storage.Document{{"_id": "x", "n": 5, "m": 9}}}

	_, err := NewCursor(src, nil).Projection(query.Projection{"n": 1, "m": 0}).Exec(context.Background())
	assert.ErrorIs(t, err, ErrProjectionConflict)
	assert.Zero(t, src.calls)
}

func TestCursorMatcherErrorAbortsExecution(t *testing.T) {
	src := &sliceSource{docs: []storage.Document{{"n": 1}, {"m": 2}, {"n": 3}}}

	docs, err := NewCursor(src, map[string]interface{}{"$where": "doc.n > 0"}).Exec(context.Background())
	assert.Nil(t, docs)

	var me *MatcherError
	require.True(t, errors.As(err, &me))
	assert.ErrorIs(t, err, ErrMatcherFailed)
}

func TestCursorCandidateErrorIsReported(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewCursor(&sliceSource{err: boom}, nil).Exec(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCursorPostProcess(t *testing.T) {
	src := &sliceSource{docs: []storage.Document{{"n": 1}, {"n": 2}}}

	var seen []storage.Document
	docs, err := NewCursor(src, nil).
		PostProcess(func(docs []storage.Document, err error) ([]storage.Document, error) {
			seen = docs
			return docs[:1], err
		}).
		Exec(context.Background())
	require.NoError(t, err)
	assert.Len(t, seen, 2)
	assert.Len(t, docs, 1)

	// The hook also sees failures.
	var hookErr error
	_, err = NewCursor(src, nil).
		Projection(query.Projection{"n": 1, "m": 0}).
		PostProcess(func(docs []storage.Document, err error) ([]storage.Document, error) {
			hookErr = err
			return nil, err
		}).
		Exec(context.Background())
	assert.ErrorIs(t, hookErr, ErrProjectionConflict)
	assert.ErrorIs(t, err, ErrProjectionConflict)
}

func TestCursorReexecutionSeesCurrentData(t *testing.T) {
	src := &sliceSource{docs: []storage.Document{{"n": 1}}}
	cur := NewCursor(src, nil)

	docs, err := cur.Exec(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	src.docs = append(src.docs, storage.Document{"n": 2})
	docs, err = cur.Exec(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, 2, src.calls)
}
