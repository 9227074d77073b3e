package storage

import (
	"sort"
	"strings"
	"time"
)

// StringComparer orders two strings. It lets a collection plug in a
// collation in place of byte-wise comparison.
type StringComparer func(a, b string) int

// Type ranks used by CompareValues. Values of different ranks compare by
// rank alone.
const (
	rankUndefined = iota
	rankNull
	rankNumber
	rankString
	rankBool
	rankDate
	rankArray
	rankObject
	rankOther
)

// CompareValues returns -1 if a < b, 0 if a == b, 1 if a > b.
//
// The order is total over heterogeneous values:
// undefined < null < numbers < strings < booleans < dates < arrays < objects.
func CompareValues(a, b interface{}) int {
	return CompareValuesWith(a, b, nil)
}

// CompareValuesWith is CompareValues with a custom string order. A nil
// comparer means byte-wise comparison.
func CompareValuesWith(a, b interface{}, compareStrings StringComparer) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return sign(ra - rb)
	}

	switch ra {
	case rankUndefined, rankNull:
		return 0
	case rankNumber:
		fa, _ := ToFloat(a)
		fb, _ := ToFloat(b)
		return compareFloats(fa, fb)
	case rankString:
		if compareStrings != nil {
			return sign(compareStrings(a.(string), b.(string)))
		}
		return strings.Compare(a.(string), b.(string))
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case rankDate:
		return a.(time.Time).Compare(b.(time.Time))
	case rankArray:
		return compareArrays(a.([]interface{}), b.([]interface{}), compareStrings)
	case rankObject:
		return compareObjects(asMap(a), asMap(b), compareStrings)
	}
	return 0
}

// Equal reports whether two document values are equal under CompareValues.
func Equal(a, b interface{}) bool {
	return CompareValues(a, b) == 0
}

// Comparable reports whether a and b may be ordered by $lt-style operators:
// both numbers, both strings or both dates.
func Comparable(a, b interface{}) bool {
	ra := rank(a)
	if ra != rank(b) {
		return false
	}
	return ra == rankNumber || ra == rankString || ra == rankDate
}

// ToFloat converts any Go numeric type to float64.
func ToFloat(v interface{}) (float64, bool) {
	switch i := v.(type) {
	case float64:
		return i, true
	case float32:
		return float64(i), true
	case int:
		return float64(i), true
	case int8:
		return float64(i), true
	case int16:
		return float64(i), true
	case int32:
		return float64(i), true
	case int64:
		return float64(i), true
	case uint:
		return float64(i), true
	case uint8:
		return float64(i), true
	case uint16:
		return float64(i), true
	case uint32:
		return float64(i), true
	case uint64:
		return float64(i), true
	}
	return 0, false
}

func rank(v interface{}) int {
	if IsUndefined(v) {
		return rankUndefined
	}
	if v == nil {
		return rankNull
	}
	if _, ok := ToFloat(v); ok {
		return rankNumber
	}
	switch v.(type) {
	case string:
		return rankString
	case bool:
		return rankBool
	case time.Time:
		return rankDate
	case []interface{}:
		return rankArray
	case map[string]interface{}, Document:
		return rankObject
	}
	return rankOther
}

func asMap(v interface{}) map[string]interface{} {
	if d, ok := v.(Document); ok {
		return d
	}
	return v.(map[string]interface{})
}

func compareArrays(a, b []interface{}, compareStrings StringComparer) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := CompareValuesWith(a[i], b[i], compareStrings); c != 0 {
			return c
		}
	}
	return sign(len(a) - len(b))
}

func compareObjects(a, b map[string]interface{}, compareStrings StringComparer) int {
	ka, kb := sortedKeys(a), sortedKeys(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if c := strings.Compare(ka[i], kb[i]); c != 0 {
			return c
		}
		if c := CompareValuesWith(a[ka[i]], b[kb[i]], compareStrings); c != 0 {
			return c
		}
	}
	return sign(len(ka) - len(kb))
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
