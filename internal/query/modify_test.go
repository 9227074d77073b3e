package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

func TestModifyReplacement(t *testing.T) {
	doc := storage.Document{"_id": "a", "n": 1, "keep": false}

	got, err := Modify(doc, map[string]interface{}{"m": 2})
	require.NoError(t, err)
	assert.Equal(t, storage.Document{"_id": "a", "m": 2}, got)
	assert.Equal(t, 1, doc["n"], "input must not change")

	_, err = Modify(doc, map[string]interface{}{"_id": "b"})
	assert.ErrorIs(t, err, util.ErrCannotModifyID)

	got, err = Modify(doc, map[string]interface{}{"_id": "a", "x": 1})
	require.NoError(t, err)
	assert.Equal(t, storage.Document{"_id": "a", "x": 1}, got)
}

func TestModifyOperators(t *testing.T) {
	base := storage.Document{
		"_id":   "a",
		"n":     1,
		"f":     1.5,
		"tags":  []interface{}{"x", "y"},
		"nums":  []interface{}{1, 5, 9},
		"inner": map[string]interface{}{"k": "v"},
	}

	cases := []struct {
		name   string
		update map[string]interface{}
		path   string
		want   interface{}
	}{
		{"set nested", map[string]interface{}{"$set": map[string]interface{}{"inner.k": "w"}}, "inner.k", "w"},
		{"set new", map[string]interface{}{"$set": map[string]interface{}{"a.b": 1}}, "a.b", 1},
		{"inc int", map[string]interface{}{"$inc": map[string]interface{}{"n": 2}}, "n", 3},
		{"inc float", map[string]interface{}{"$inc": map[string]interface{}{"f": 1}}, "f", 2.5},
		{"inc missing", map[string]interface{}{"$inc": map[string]interface{}{"z": 4}}, "z", 4},
		{"push", map[string]interface{}{"$push": map[string]interface{}{"tags": "z"}}, "tags", []interface{}{"x", "y", "z"}},
		{"push each", map[string]interface{}{"$push": map[string]interface{}{"tags": map[string]interface{}{"$each": []interface{}{"z", "w"}}}}, "tags", []interface{}{"x", "y", "z", "w"}},
		{"push missing", map[string]interface{}{"$push": map[string]interface{}{"new": 1}}, "new", []interface{}{1}},
		{"addToSet dup", map[string]interface{}{"$addToSet": map[string]interface{}{"tags": "x"}}, "tags", []interface{}{"x", "y"}},
		{"addToSet each", map[string]interface{}{"$addToSet": map[string]interface{}{"tags": map[string]interface{}{"$each": []interface{}{"y", "q"}}}}, "tags", []interface{}{"x", "y", "q"}},
		{"pop last", map[string]interface{}{"$pop": map[string]interface{}{"nums": 1}}, "nums", []interface{}{1, 5}},
		{"pop first", map[string]interface{}{"$pop": map[string]interface{}{"nums": -1}}, "nums", []interface{}{5, 9}},
		{"pull value", map[string]interface{}{"$pull": map[string]interface{}{"tags": "x"}}, "tags", []interface{}{"y"}},
		{"pull query", map[string]interface{}{"$pull": map[string]interface{}{"nums": map[string]interface{}{"$gte": 5}}}, "nums", []interface{}{1}},
		{"min lower", map[string]interface{}{"$min": map[string]interface{}{"n": 0}}, "n", 0},
		{"min higher", map[string]interface{}{"$min": map[string]interface{}{"n": 7}}, "n", 1},
		{"max higher", map[string]interface{}{"$max": map[string]interface{}{"n": 7}}, "n", 7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Modify(base, tc.update)
			require.NoError(t, err)
			assert.Equal(t, tc.want, storage.GetPath(got, tc.path))
		})
	}

	assert.Equal(t, []interface{}{"x", "y"}, base["tags"], "input must not change")
}

func TestModifyUnset(t *testing.T) {
	got, err := Modify(storage.Document{"_id": "a", "n": 1, "m": 2}, map[string]interface{}{"$unset": map[string]interface{}{"n": true}})
	require.NoError(t, err)
	assert.Equal(t, storage.Document{"_id": "a", "m": 2}, got)
}

func TestModifyErrors(t *testing.T) {
	doc := storage.Document{"_id": "a", "s": "str", "n": 1}

	bad := []map[string]interface{}{
		{"$set": map[string]interface{}{"n": 2}, "plain": 1},
		{"$rename": map[string]interface{}{"n": "m"}},
		{"$set": 3},
		{"$inc": map[string]interface{}{"s": 1}},
		{"$inc": map[string]interface{}{"n": "x"}},
		{"$push": map[string]interface{}{"n": 1}},
	}
	for _, u := range bad {
		_, err := Modify(doc, u)
		assert.ErrorIs(t, err, util.ErrInvalidModification, "%v", u)
	}

	_, err := Modify(doc, map[string]interface{}{"$set": map[string]interface{}{"_id": "b"}})
	assert.ErrorIs(t, err, util.ErrCannotModifyID)

	_, err = Modify(doc, map[string]interface{}{"$set": map[string]interface{}{"_id": "a"}})
	assert.NoError(t, err)
}
