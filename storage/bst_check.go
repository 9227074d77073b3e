package storage

import "github.com/kartikbazzad/bunbase/bunstore/internal/util"

// CheckIsBST verifies node ordering, parent pointers and that the root has
// no parent. It is meant for tests and diagnostics.
func (t *Tree[K, V]) CheckIsBST() error {
	if err := t.CheckNodeOrdering(); err != nil {
		return err
	}
	if err := t.CheckInternalPointers(); err != nil {
		return err
	}
	if t.root != nilHandle && t.n(t.root).parent != nilHandle {
		return &util.InvariantError{Key: t.n(t.root).key, Reason: "the root shouldn't have a parent"}
	}
	return nil
}

// CheckNodeOrdering verifies that every key of a left subtree is smaller,
// and every key of a right subtree greater, than the key above it. It
// also rejects keys without values.
func (t *Tree[K, V]) CheckNodeOrdering() error {
	return t.checkOrdering(t.root)
}

func (t *Tree[K, V]) checkOrdering(h handle) error {
	if h == nilHandle {
		return nil
	}

	nd := t.n(h)
	if len(nd.values) == 0 {
		return &util.InvariantError{Key: nd.key, Reason: "node holds a key without values"}
	}

	notBST := &util.InvariantError{Key: nd.key, Reason: "tree is not a binary search tree"}
	if nd.left != nilHandle {
		if err := t.allKeys(nd.left, func(k K) bool { return t.compareKeys(k, nd.key) < 0 }); err != nil {
			return notBST
		}
		if err := t.checkOrdering(nd.left); err != nil {
			return err
		}
	}
	if nd.right != nilHandle {
		if err := t.allKeys(nd.right, func(k K) bool { return t.compareKeys(k, nd.key) > 0 }); err != nil {
			return notBST
		}
		if err := t.checkOrdering(nd.right); err != nil {
			return err
		}
	}
	return nil
}

// allKeys fails on the first key of the subtree at h that does not pass
// test.
func (t *Tree[K, V]) allKeys(h handle, test func(K) bool) error {
	if h == nilHandle {
		return nil
	}
	nd := t.n(h)
	if !test(nd.key) {
		return util.ErrInvariantViolation
	}
	if err := t.allKeys(nd.left, test); err != nil {
		return err
	}
	return t.allKeys(nd.right, test)
}

// CheckInternalPointers verifies that every child points back at its
// parent.
func (t *Tree[K, V]) CheckInternalPointers() error {
	return t.checkPointers(t.root)
}

func (t *Tree[K, V]) checkPointers(h handle) error {
	if h == nilHandle {
		return nil
	}
	nd := t.n(h)
	for _, child := range []handle{nd.left, nd.right} {
		if child == nilHandle {
			continue
		}
		if t.n(child).parent != h {
			return &util.InvariantError{Key: nd.key, Reason: "parent pointer broken"}
		}
		if err := t.checkPointers(child); err != nil {
			return err
		}
	}
	return nil
}
