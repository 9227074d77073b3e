package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompareValuesTypeOrder(t *testing.T) {
	now := time.Now()
	ordered := []interface{}{
		Undefined,
		nil,
		-3, 2.5, int64(7),
		"a", "b",
		false, true,
		now, now.Add(time.Second),
		[]interface{}{1}, []interface{}{1, 2}, []interface{}{2},
		map[string]interface{}{"a": 1}, Document{"a": 2}, map[string]interface{}{"b": 0},
	}

	for i := range ordered {
		for j := range ordered {
			got := CompareValues(ordered[i], ordered[j])
			switch {
			case i < j:
				assert.Equal(t, -1, got, "%v < %v", ordered[i], ordered[j])
			case i > j:
				assert.Equal(t, 1, got, "%v > %v", ordered[i], ordered[j])
			default:
				assert.Equal(t, 0, got)
			}
		}
	}
}

func TestCompareValuesNumbersAcrossTypes(t *testing.T) {
	assert.Equal(t, 0, CompareValues(1, 1.0))
	assert.Equal(t, 0, CompareValues(int32(4), uint8(4)))
	assert.True(t, Equal(float32(0.5), 0.5))
}

func TestCompareValuesWithCollation(t *testing.T) {
	fold := func(a, b string) int { return strings.Compare(strings.ToLower(a), strings.ToLower(b)) }
	assert.Equal(t, 1, CompareValues("a", "B"))
	assert.Equal(t, -1, CompareValuesWith("a", "B", fold))
	assert.Equal(t, 0, CompareValuesWith([]interface{}{"X"}, []interface{}{"x"}, fold))
}

func TestComparable(t *testing.T) {
	assert.True(t, Comparable(1, 2.0))
	assert.True(t, Comparable("a", "b"))
	assert.True(t, Comparable(time.Now(), time.Now()))
	assert.False(t, Comparable(1, "1"))
	assert.False(t, Comparable(true, false))
	assert.False(t, Comparable(nil, nil))
}
