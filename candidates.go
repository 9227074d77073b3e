package bunstore

import (
	"sort"
	"strings"
	"time"

	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

// Candidates returns the documents that may match filter, using at most
// one index:
//  1. a top-level field with an index and a primitive value: exact lookup;
//  2. otherwise a field with an index and a $in list: lookup of each value;
//  3. otherwise a field with an index and $lt/$lte/$gt/$gte: range scan;
//  4. otherwise every document, in _id order.
//
// It must run on the collection's executor.
func (c *Collection) Candidates(filter map[string]interface{}) ([]storage.Document, error) {
	fields := make([]string, 0, len(filter))
	for k := range filter {
		if !strings.HasPrefix(k, "$") {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)

	for _, f := range fields {
		idx, ok := c.indexes[f]
		if ok && isPrimitive(filter[f]) {
			return idx.GetMatching(filter[f]), nil
		}
	}

	for _, f := range fields {
		idx, ok := c.indexes[f]
		if !ok {
			continue
		}
		if ops, ok := operatorMap(filter[f]); ok {
			if in, ok := ops["$in"].([]interface{}); ok {
				return idx.GetMatching(in), nil
			}
		}
	}

	for _, f := range fields {
		idx, ok := c.indexes[f]
		if !ok {
			continue
		}
		ops, ok := operatorMap(filter[f])
		if !ok {
			continue
		}
		var r storage.Range[interface{}]
		found := false
		for op, v := range ops {
			switch op {
			case "$gt":
				r.GT, found = storage.At(v), true
			case "$gte":
				r.GTE, found = storage.At(v), true
			case "$lt":
				r.LT, found = storage.At(v), true
			case "$lte":
				r.LTE, found = storage.At(v), true
			}
		}
		if found {
			return idx.GetBetweenBounds(r), nil
		}
	}

	return c.indexes[storage.IDField].GetAll(), nil
}

func isPrimitive(v interface{}) bool {
	switch v.(type) {
	case nil, string, bool, time.Time,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

func operatorMap(v interface{}) (map[string]interface{}, bool) {
	var m map[string]interface{}
	switch t := v.(type) {
	case map[string]interface{}:
		m = t
	case storage.Document:
		m = t
	default:
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, len(m) > 0
}
