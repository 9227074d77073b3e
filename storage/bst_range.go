package storage

// Bound is one optional threshold of a Range.
type Bound[K any] struct {
	Value K
	Set   bool
}

// At returns a bound set to v.
func At[K any](v K) Bound[K] {
	return Bound[K]{Value: v, Set: true}
}

// Range selects keys between optional bounds, mirroring the $gt, $gte,
// $lt and $lte query operators. When both an exclusive and an inclusive
// bound are given on the same side the tighter one applies; on equal
// thresholds the exclusive bound wins.
type Range[K any] struct {
	GT  Bound[K]
	GTE Bound[K]
	LT  Bound[K]
	LTE Bound[K]
}

// lowerMatcher returns a predicate telling whether a key satisfies the
// lower bound of r.
func (t *Tree[K, V]) lowerMatcher(r Range[K]) func(K) bool {
	gt := func(v K) func(K) bool {
		return func(key K) bool { return t.compareKeys(key, v) > 0 }
	}
	gte := func(v K) func(K) bool {
		return func(key K) bool { return t.compareKeys(key, v) >= 0 }
	}

	switch {
	case !r.GT.Set && !r.GTE.Set:
		return func(K) bool { return true }
	case r.GT.Set && r.GTE.Set:
		if t.compareKeys(r.GTE.Value, r.GT.Value) > 0 {
			return gte(r.GTE.Value)
		}
		return gt(r.GT.Value)
	case r.GT.Set:
		return gt(r.GT.Value)
	default:
		return gte(r.GTE.Value)
	}
}

// upperMatcher returns a predicate telling whether a key satisfies the
// upper bound of r.
func (t *Tree[K, V]) upperMatcher(r Range[K]) func(K) bool {
	lt := func(v K) func(K) bool {
		return func(key K) bool { return t.compareKeys(key, v) < 0 }
	}
	lte := func(v K) func(K) bool {
		return func(key K) bool { return t.compareKeys(key, v) <= 0 }
	}

	switch {
	case !r.LT.Set && !r.LTE.Set:
		return func(K) bool { return true }
	case r.LT.Set && r.LTE.Set:
		if t.compareKeys(r.LTE.Value, r.LT.Value) < 0 {
			return lte(r.LTE.Value)
		}
		return lt(r.LT.Value)
	case r.LT.Set:
		return lt(r.LT.Value)
	default:
		return lte(r.LTE.Value)
	}
}

// RangeScan returns the values of every key within r, in ascending key
// order and insertion order within a key.
//
// The walk is pruned: the left subtree is visited only when the current
// key satisfies the lower bound, the right subtree only when it satisfies
// the upper bound. This relies on CompareKeys being a total order; a
// comparator that is not monotonic can make the scan miss keys.
func (t *Tree[K, V]) RangeScan(r Range[K]) []V {
	res := []V{}
	if t.root == nilHandle {
		return res
	}

	lower, upper := t.lowerMatcher(r), t.upperMatcher(r)
	return t.betweenBounds(t.root, lower, upper, res)
}

func (t *Tree[K, V]) betweenBounds(h handle, lower, upper func(K) bool, res []V) []V {
	nd := t.n(h)
	okLower, okUpper := lower(nd.key), upper(nd.key)

	if okLower && nd.left != nilHandle {
		res = t.betweenBounds(nd.left, lower, upper, res)
	}
	if okLower && okUpper {
		res = append(res, nd.values...)
	}
	if okUpper && nd.right != nilHandle {
		res = t.betweenBounds(nd.right, lower, upper, res)
	}
	return res
}
