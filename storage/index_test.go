package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
)

func ids(docs []Document) []interface{} {
	out := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		out = append(out, d[IDField])
	}
	return out
}

func TestIndexRequiresFieldName(t *testing.T) {
	_, err := NewIndex(IndexOptions{})
	assert.ErrorIs(t, err, util.ErrIndexFieldRequired)
}

func TestIndexInsertAndGetMatching(t *testing.T) {
	idx, err := NewIndex(IndexOptions{FieldName: "age"})
	require.NoError(t, err)

	docs := []Document{
		{"_id": "a", "age": 30},
		{"_id": "b", "age": 25},
		{"_id": "c", "age": 30},
		{"_id": "d"},
	}
	require.NoError(t, idx.InsertMany(docs))

	assert.Equal(t, []interface{}{"a", "c"}, ids(idx.GetMatching(30)))
	assert.Equal(t, []interface{}{"b", "a", "c"}, ids(idx.GetMatching([]interface{}{25, 30, 25})))
	assert.Equal(t, []interface{}{"d"}, ids(idx.GetMatching(Undefined)))
	assert.Equal(t, 3, idx.NumberOfKeys())
	require.NoError(t, idx.Check())
}

func TestIndexSparseSkipsMissingFields(t *testing.T) {
	idx, err := NewIndex(IndexOptions{FieldName: "email", Unique: true, Sparse: true})
	require.NoError(t, err)

	require.NoError(t, idx.Insert(Document{"_id": "a"}))
	require.NoError(t, idx.Insert(Document{"_id": "b"}))
	require.NoError(t, idx.Insert(Document{"_id": "c", "email": "c@x"}))

	assert.Equal(t, 1, idx.NumberOfKeys())
	assert.Len(t, idx.GetAll(), 1)
}

func TestIndexArrayFieldsRollBackOnViolation(t *testing.T) {
	idx, err := NewIndex(IndexOptions{FieldName: "tags", Unique: true})
	require.NoError(t, err)

	require.NoError(t, idx.Insert(Document{"_id": "a", "tags": []interface{}{"x", "y", "x"}}))
	assert.Equal(t, 2, idx.NumberOfKeys())

	err = idx.Insert(Document{"_id": "b", "tags": []interface{}{"z", "w", "y"}})
	require.Error(t, err)

	var uv *util.UniqueViolationError
	require.True(t, errors.As(err, &uv))
	assert.Equal(t, "tags", uv.Field)
	assert.Equal(t, "y", uv.Key)

	// z and w were rolled back.
	assert.Equal(t, 2, idx.NumberOfKeys())
	assert.Empty(t, idx.GetMatching("z"))
}

func TestIndexInsertManyIsAllOrNothing(t *testing.T) {
	idx, err := NewIndex(IndexOptions{FieldName: "n", Unique: true})
	require.NoError(t, err)
	require.NoError(t, idx.Insert(Document{"_id": "x", "n": 3}))

	err = idx.InsertMany([]Document{
		{"_id": "a", "n": 1},
		{"_id": "b", "n": 2},
		{"_id": "c", "n": 3},
	})
	require.ErrorIs(t, err, util.ErrUniqueViolated)
	assert.Equal(t, []interface{}{"x"}, ids(idx.GetAll()))
}

func TestIndexUpdateAndRevert(t *testing.T) {
	idx, err := NewIndex(IndexOptions{FieldName: "n", Unique: true})
	require.NoError(t, err)

	a := Document{"_id": "a", "n": 1}
	b := Document{"_id": "b", "n": 2}
	require.NoError(t, idx.InsertMany([]Document{a, b}))

	a2 := Document{"_id": "a", "n": 10}
	require.NoError(t, idx.Update(a, a2))
	assert.Empty(t, idx.GetMatching(1))
	assert.Equal(t, []interface{}{"a"}, ids(idx.GetMatching(10)))

	// Colliding update is undone.
	err = idx.Update(a2, Document{"_id": "a", "n": 2})
	require.ErrorIs(t, err, util.ErrUniqueViolated)
	assert.Equal(t, []interface{}{"a"}, ids(idx.GetMatching(10)))

	updates := []DocumentUpdate{
		{Old: a2, New: Document{"_id": "a", "n": 20}},
		{Old: b, New: Document{"_id": "b", "n": 21}},
	}
	require.NoError(t, idx.UpdateMany(updates))
	assert.Equal(t, []interface{}{"a", "b"}, ids(idx.GetAll()))
	assert.Len(t, idx.GetMatching(21), 1)

	require.NoError(t, idx.RevertUpdates(updates))
	assert.Len(t, idx.GetMatching(10), 1)
	assert.Len(t, idx.GetMatching(2), 1)
	assert.Empty(t, idx.GetMatching(20))
}

func TestIndexUpdateManyRollsBack(t *testing.T) {
	idx, err := NewIndex(IndexOptions{FieldName: "n", Unique: true})
	require.NoError(t, err)

	a := Document{"_id": "a", "n": 1}
	b := Document{"_id": "b", "n": 2}
	c := Document{"_id": "c", "n": 3}
	require.NoError(t, idx.InsertMany([]Document{a, b, c}))

	err = idx.UpdateMany([]DocumentUpdate{
		{Old: a, New: Document{"_id": "a", "n": 5}},
		{Old: b, New: Document{"_id": "b", "n": 3}},
	})
	require.ErrorIs(t, err, util.ErrUniqueViolated)
	assert.Equal(t, []interface{}{"a", "b", "c"}, ids(idx.GetAll()))
	assert.Empty(t, idx.GetMatching(5))
}

func TestIndexGetBetweenBounds(t *testing.T) {
	idx, err := NewIndex(IndexOptions{FieldName: "n"})
	require.NoError(t, err)
	for i, n := range []interface{}{5, 1, 4, 2, 3, "str"} {
		require.NoError(t, idx.Insert(Document{"_id": i, "n": n}))
	}

	res := idx.GetBetweenBounds(Range[interface{}]{GTE: At[interface{}](2), LT: At[interface{}](5)})
	assert.Equal(t, []interface{}{3, 4, 2}, ids(res))
}

func TestIndexRemove(t *testing.T) {
	idx, err := NewIndex(IndexOptions{FieldName: "n"})
	require.NoError(t, err)

	a := Document{"_id": "a", "n": 1}
	b := Document{"_id": "b", "n": 1}
	require.NoError(t, idx.InsertMany([]Document{a, b}))

	idx.Remove(a)
	assert.Equal(t, []interface{}{"b"}, ids(idx.GetMatching(1)))
	idx.RemoveMany([]Document{b})
	assert.Equal(t, 0, idx.NumberOfKeys())
}

func TestIndexGetBetweenBoundsDeduplicatesArrayDocuments(t *testing.T) {
	idx, err := NewIndex(IndexOptions{FieldName: "scores"})
	require.NoError(t, err)
	require.NoError(t, idx.InsertMany([]Document{
		{"_id": "a", "scores": []interface{}{1, 5, 7}},
		{"_id": "b", "scores": []interface{}{6}},
	}))

	got := idx.GetBetweenBounds(Range[interface{}]{GTE: At[interface{}](0)})
	assert.Equal(t, []interface{}{"a", "b"}, ids(got))

	got = idx.GetBetweenBounds(Range[interface{}]{GT: At[interface{}](5)})
	assert.Equal(t, []interface{}{"b", "a"}, ids(got))
}
