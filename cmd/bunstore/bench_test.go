package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/bunstore"
)

func TestRunBench(t *testing.T) {
	db, err := bunstore.Open(nil)
	require.NoError(t, err)
	defer db.Close()

	res, err := runBench(context.Background(), db, benchConfig{
		Concurrency: 4,
		TotalOps:    200,
		ReadRatio:   0.5,
		Indexed:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, res.Ops)
	assert.Zero(t, res.Errors)
	assert.LessOrEqual(t, res.P50, res.P99)

	coll, err := db.GetCollection("bench")
	require.NoError(t, err)
	require.NoError(t, coll.CheckIndexes(context.Background()))

	out := &bytes.Buffer{}
	printBench(out, res)
	assert.Contains(t, out.String(), "Throughput")
}
