package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

func TestProjection(t *testing.T) {
	doc := storage.Document{"_id": "x", "n": 5, "m": 9, "sub": map[string]interface{}{"a": 1, "b": 2}}

	cases := []struct {
		name string
		p    Projection
		want storage.Document
	}{
		{"pick", Projection{"n": 1}, storage.Document{"_id": "x", "n": 5}},
		{"pick without id", Projection{"n": 1, "_id": 0}, storage.Document{"n": 5}},
		{"pick missing field", Projection{"n": 1, "zzz": 1}, storage.Document{"_id": "x", "n": 5}},
		{"pick nested", Projection{"sub.a": 1}, storage.Document{"_id": "x", "sub": map[string]interface{}{"a": 1}}},
		{"omit", Projection{"m": 0, "sub": 0}, storage.Document{"_id": "x", "n": 5}},
		{"omit with id", Projection{"m": 0, "sub": 0, "_id": 0}, storage.Document{"n": 5}},
		{"only id omitted", Projection{"_id": 0}, storage.Document{"n": 5, "m": 9, "sub": map[string]interface{}{"a": 1, "b": 2}}},
		{"empty", Projection{}, doc},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := CompileProjection(tc.p)
			require.NoError(t, err)
			got, err := plan.Apply([]storage.Document{doc})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tc.want, got[0])
		})
	}

	assert.Equal(t, 9, doc["m"], "input must not change")
}

func TestProjectionConflict(t *testing.T) {
	_, err := CompileProjection(Projection{"n": 1, "m": 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrProjectionConflict)

	var pce *util.ProjectionConflictError
	require.True(t, errors.As(err, &pce))
	assert.Equal(t, "n", pce.Field)
}

func TestProjectionIdentity(t *testing.T) {
	var nilPlan *ProjectionPlan
	assert.True(t, nilPlan.IsIdentity())

	plan, err := CompileProjection(nil)
	require.NoError(t, err)
	assert.True(t, plan.IsIdentity())

	plan, err = CompileProjection(Projection{"_id": 1})
	require.NoError(t, err)
	assert.True(t, plan.IsIdentity())
}
