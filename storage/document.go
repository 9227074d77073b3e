package storage

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
)

// IDField is the reserved identity field of every document.
const IDField = "_id"

// Document represents a JSON-like document stored in a collection
type Document map[string]interface{}

// DocumentID is a unique identifier for a document
type DocumentID string

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined is the value of a field that does not exist. It sorts before
// every other value, including nil.
var Undefined interface{} = undefined{}

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v interface{}) bool {
	_, ok := v.(undefined)
	return ok
}

// Serialize converts a document to JSON bytes
func (d Document) Serialize() ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return b, nil
}

// DeserializeDocument creates a document from JSON bytes
func DeserializeDocument(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to deserialize document: %w", err)
	}
	return d, nil
}

// GetID returns the document ID if it exists
func (d Document) GetID() (DocumentID, bool) {
	id, exists := d[IDField]
	if !exists {
		return "", false
	}

	idStr, ok := id.(string)
	if !ok {
		return "", false
	}

	return DocumentID(idStr), true
}

// SetID sets the document ID
func (d Document) SetID(id DocumentID) {
	d[IDField] = string(id)
}

// Clone creates a deep copy of the document
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	clone := make(Document, len(d))
	for k, v := range d {
		clone[k] = DeepCopy(v)
	}
	return clone
}

// DeepCopy copies maps and slices recursively. Typed Go slices, arrays and
// string-keyed maps come back as []interface{} and map[string]interface{},
// so every container reaching an index or a matcher has the shape
// CompareValues orders. Scalars, including time.Time, are returned as is.
func DeepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case Document:
		return val.Clone()
	case map[string]interface{}:
		return map[string]interface{}(Document(val).Clone())
	case []interface{}:
		cp := make([]interface{}, len(val))
		for i, item := range val {
			cp[i] = DeepCopy(item)
		}
		return cp
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		fallthrough
	case reflect.Array:
		cp := make([]interface{}, rv.Len())
		for i := range cp {
			cp[i] = DeepCopy(rv.Index(i).Interface())
		}
		return cp
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		if rv.IsNil() {
			return nil
		}
		cp := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			cp[iter.Key().String()] = DeepCopy(iter.Value().Interface())
		}
		return cp
	}

	// Named scalar types become their predeclared counterparts.
	if rv.IsValid() && rv.Type().PkgPath() != "" {
		switch rv.Kind() {
		case reflect.String:
			return rv.String()
		case reflect.Bool:
			return rv.Bool()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return rv.Uint()
		case reflect.Float32, reflect.Float64:
			return rv.Float()
		}
	}
	return v
}

// CheckValue reports the first value under v that has no place in the
// value order: anything but null, booleans, numbers, strings, time.Time,
// arrays and objects. Run it on the output of DeepCopy.
func CheckValue(v interface{}) error {
	switch val := v.(type) {
	case nil, bool, string, time.Time:
		return nil
	case Document:
		return CheckValue(map[string]interface{}(val))
	case map[string]interface{}:
		for k, child := range val {
			if err := CheckValue(child); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
		return nil
	case []interface{}:
		for i, child := range val {
			if err := CheckValue(child); err != nil {
				return fmt.Errorf("%d: %w", i, err)
			}
		}
		return nil
	}
	if _, ok := ToFloat(v); ok {
		return nil
	}
	return fmt.Errorf("%w: %T", util.ErrUnsupportedValue, v)
}

// GetPath resolves a dot-notation path. Arrays met along the way fan out:
// "tags.name" over an array of objects yields the array of names, while a
// numeric segment indexes into the array. Absent fields resolve to
// Undefined.
func GetPath(v interface{}, path string) interface{} {
	return getPath(v, splitPath(path))
}

func getPath(v interface{}, keys []string) interface{} {
	if len(keys) == 0 {
		return v
	}

	switch cur := v.(type) {
	case Document:
		return getPath(map[string]interface{}(cur), keys)
	case map[string]interface{}:
		next, ok := cur[keys[0]]
		if !ok {
			return Undefined
		}
		return getPath(next, keys[1:])
	case []interface{}:
		if i, err := strconv.Atoi(keys[0]); err == nil {
			if i < 0 || i >= len(cur) {
				return Undefined
			}
			return getPath(cur[i], keys[1:])
		}
		out := make([]interface{}, 0, len(cur))
		for _, item := range cur {
			out = append(out, getPath(item, keys))
		}
		return out
	default:
		return Undefined
	}
}

// SetPath sets a value at the given dot-notation path, creating
// intermediate objects as needed.
func (d Document) SetPath(path string, value interface{}) {
	keys := splitPath(path)

	current := map[string]interface{}(d)
	for _, key := range keys[:len(keys)-1] {
		switch next := current[key].(type) {
		case map[string]interface{}:
			current = next
		case Document:
			current = next
		default:
			// Missing or scalar: overwrite with an object, as MongoDB does.
			m := make(map[string]interface{})
			current[key] = m
			current = m
		}
	}
	current[keys[len(keys)-1]] = value
}

// UnsetPath removes the value at path. Unreachable paths are a no-op.
func (d Document) UnsetPath(path string) {
	keys := splitPath(path)

	current := map[string]interface{}(d)
	for _, key := range keys[:len(keys)-1] {
		switch next := current[key].(type) {
		case map[string]interface{}:
			current = next
		case Document:
			current = next
		default:
			return
		}
	}
	delete(current, keys[len(keys)-1])
}

// Touch stamps updatedAt, and createdAt when it is missing.
func (d Document) Touch(now time.Time) {
	if _, ok := d["createdAt"]; !ok {
		d["createdAt"] = now
	}
	d["updatedAt"] = now
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}
