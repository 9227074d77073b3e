package storage

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
)

// handle addresses a node in the tree's arena. nilHandle means "no node".
type handle int32

const nilHandle handle = -1

// node is one key of the tree together with every value stored under it.
// Child and parent links are arena handles, so the parent back-pointer
// never owns anything.
type node[K, V any] struct {
	key    K
	values []V
	left   handle
	right  handle
	parent handle
}

// TreeOptions configures a Tree. The options are tree-wide: every node
// created during the lifetime of the tree shares them.
type TreeOptions[K, V any] struct {
	// Unique makes a second insert under an existing key fail.
	Unique bool
	// CompareKeys is the total order over keys. Required.
	CompareKeys func(a, b K) int
	// CheckValueEquality is used when deleting a single value from a key
	// holding several. Required for DeleteValue.
	CheckValueEquality func(a, b V) bool
	// Rand drives the predecessor/successor choice when deleting a node
	// with two children. Defaults to a clock-seeded source.
	Rand *rand.Rand
}

// Tree is an ordered index: an unbalanced binary search tree mapping keys
// to one or more values.
//
// Properties:
//   - Keys in a node's left subtree are strictly smaller than the node's
//     key and keys in its right subtree strictly greater.
//   - Duplicate keys append to the node's value list unless the tree is
//     unique.
//   - Deleting a node with two children replaces it with its in-order
//     predecessor or successor, picked at random. This statistically
//     dampens skew under deletion; it gives no height bound.
//
// A Tree is not safe for concurrent use. Callers serialize access.
type Tree[K, V any] struct {
	nodes  []node[K, V]
	free   []handle
	root   handle
	unique bool

	compareKeys        func(a, b K) int
	checkValueEquality func(a, b V) bool

	// usePredecessor is the deletion coin. Tests replace it to force a
	// branch.
	usePredecessor func() bool
}

// NewTree creates an empty tree.
func NewTree[K, V any](opts TreeOptions[K, V]) *Tree[K, V] {
	if opts.CompareKeys == nil {
		panic("storage: TreeOptions.CompareKeys is required")
	}

	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Tree[K, V]{
		root:               nilHandle,
		unique:             opts.Unique,
		compareKeys:        opts.CompareKeys,
		checkValueEquality: opts.CheckValueEquality,
		usePredecessor:     func() bool { return rng.Float64() >= 0.5 },
	}
}

// Unique reports whether the tree enforces unique keys.
func (t *Tree[K, V]) Unique() bool { return t.unique }

// IsEmpty reports whether the tree holds no key.
func (t *Tree[K, V]) IsEmpty() bool { return t.root == nilHandle }

func (t *Tree[K, V]) n(h handle) *node[K, V] { return &t.nodes[h] }

// alloc stores a new node in the arena, reusing a freed slot when one is
// available.
func (t *Tree[K, V]) alloc(key K, value V, parent handle) handle {
	nd := node[K, V]{
		key:    key,
		values: []V{value},
		left:   nilHandle,
		right:  nilHandle,
		parent: parent,
	}
	if l := len(t.free); l > 0 {
		h := t.free[l-1]
		t.free = t.free[:l-1]
		t.nodes[h] = nd
		return h
	}
	t.nodes = append(t.nodes, nd)
	return handle(len(t.nodes) - 1)
}

// release returns a detached node's slot to the free list.
func (t *Tree[K, V]) release(h handle) {
	t.nodes[h] = node[K, V]{left: nilHandle, right: nilHandle, parent: nilHandle}
	t.free = append(t.free, h)
}

// Insert adds value under key.
//
// On a unique tree, inserting an existing key fails with a
// *util.UniqueViolationError and leaves the tree unchanged.
func (t *Tree[K, V]) Insert(key K, value V) error {
	if t.root == nilHandle {
		t.root = t.alloc(key, value, nilHandle)
		return nil
	}

	cur := t.root
	for {
		nd := t.n(cur)
		c := t.compareKeys(key, nd.key)
		if c == 0 {
			if t.unique {
				return &util.UniqueViolationError{Key: key}
			}
			nd.values = append(nd.values, value)
			return nil
		}

		if c < 0 {
			if nd.left == nilHandle {
				child := t.alloc(key, value, cur)
				t.n(cur).left = child
				return nil
			}
			cur = nd.left
			continue
		}

		if nd.right == nilHandle {
			child := t.alloc(key, value, cur)
			t.n(cur).right = child
			return nil
		}
		cur = nd.right
	}
}

// find returns the node holding key, or nilHandle.
func (t *Tree[K, V]) find(key K) handle {
	cur := t.root
	for cur != nilHandle {
		nd := t.n(cur)
		c := t.compareKeys(key, nd.key)
		switch {
		case c == 0:
			return cur
		case c < 0:
			cur = nd.left
		default:
			cur = nd.right
		}
	}
	return nilHandle
}

// Search returns every value stored under key, in insertion order. The
// result is empty when the key is absent.
func (t *Tree[K, V]) Search(key K) []V {
	h := t.find(key)
	if h == nilHandle {
		return []V{}
	}
	return append([]V(nil), t.n(h).values...)
}

// maxDescendant returns the node with the largest key under h.
func (t *Tree[K, V]) maxDescendant(h handle) handle {
	for t.n(h).right != nilHandle {
		h = t.n(h).right
	}
	return h
}

// minDescendant returns the node with the smallest key under h.
func (t *Tree[K, V]) minDescendant(h handle) handle {
	for t.n(h).left != nilHandle {
		h = t.n(h).left
	}
	return h
}

// MinKey returns the smallest key.
func (t *Tree[K, V]) MinKey() (K, bool) {
	if t.root == nilHandle {
		var zero K
		return zero, false
	}
	return t.n(t.minDescendant(t.root)).key, true
}

// MaxKey returns the largest key.
func (t *Tree[K, V]) MaxKey() (K, bool) {
	if t.root == nilHandle {
		var zero K
		return zero, false
	}
	return t.n(t.maxDescendant(t.root)).key, true
}

// Delete removes key and all of its values. Deleting an absent key is a
// no-op.
func (t *Tree[K, V]) Delete(key K) {
	h := t.find(key)
	if h == nilHandle {
		return
	}
	t.deleteNode(h)
}

// DeleteValue removes value from key. When the key holds more than one
// value only the values equal to value are dropped and the tree shape is
// untouched; otherwise the whole key is removed.
func (t *Tree[K, V]) DeleteValue(key K, value V) {
	h := t.find(key)
	if h == nilHandle {
		return
	}

	nd := t.n(h)
	if len(nd.values) > 1 {
		kept := nd.values[:0:0]
		for _, v := range nd.values {
			if !t.checkValueEquality(v, value) {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			nd.values = kept
			return
		}
	}

	t.deleteNode(h)
}

func (t *Tree[K, V]) deleteNode(h handle) {
	nd := t.n(h)

	switch {
	case nd.left == nilHandle && nd.right == nilHandle:
		t.replaceChild(nd.parent, h, nilHandle)
		t.release(h)

	case nd.left == nilHandle || nd.right == nilHandle:
		child := nd.left
		if child == nilHandle {
			child = nd.right
		}
		t.replaceChild(nd.parent, h, child)
		t.release(h)

	default:
		t.deleteWithTwoChildren(h)
	}
}

// replaceChild points parent's link to old at repl and fixes repl's
// parent back-pointer. A nil parent means old was the root.
func (t *Tree[K, V]) replaceChild(parent, old, repl handle) {
	switch {
	case parent == nilHandle:
		t.root = repl
	case t.n(parent).left == old:
		t.n(parent).left = repl
	default:
		t.n(parent).right = repl
	}
	if repl != nilHandle {
		t.n(repl).parent = parent
	}
}

// deleteWithTwoChildren copies the in-order predecessor or successor into
// h and unlinks that replacement node instead.
func (t *Tree[K, V]) deleteWithTwoChildren(h handle) {
	nd := t.n(h)

	if t.usePredecessor() {
		repl := t.maxDescendant(nd.left)
		r := t.n(repl)
		nd.key, nd.values = r.key, r.values

		// The predecessor has no right child; its left subtree takes its
		// place.
		if r.parent == h {
			nd.left = r.left
		} else {
			t.n(r.parent).right = r.left
		}
		if r.left != nilHandle {
			t.n(r.left).parent = r.parent
		}
		t.release(repl)
		return
	}

	repl := t.minDescendant(nd.right)
	r := t.n(repl)
	nd.key, nd.values = r.key, r.values

	if r.parent == h {
		nd.right = r.right
	} else {
		t.n(r.parent).left = r.right
	}
	if r.right != nilHandle {
		t.n(r.right).parent = r.parent
	}
	t.release(repl)
}

// NumberOfKeys counts the distinct keys in the tree.
func (t *Tree[K, V]) NumberOfKeys() int {
	count := 0
	t.Walk(func(K, []V) bool {
		count++
		return true
	})
	return count
}

// Walk visits every key in ascending order. Returning false from fn stops
// the walk.
func (t *Tree[K, V]) Walk(fn func(key K, values []V) bool) {
	t.walk(t.root, fn)
}

func (t *Tree[K, V]) walk(h handle, fn func(key K, values []V) bool) bool {
	if h == nilHandle {
		return true
	}
	nd := t.n(h)
	if !t.walk(nd.left, fn) {
		return false
	}
	if !fn(nd.key, nd.values) {
		return false
	}
	return t.walk(t.n(h).right, fn)
}

// Print writes an indented view of the tree, one key per line.
func (t *Tree[K, V]) Print(w io.Writer, withValues bool) {
	if t.root == nilHandle {
		fmt.Fprintln(w, "*")
		return
	}
	t.print(w, t.root, withValues, "")
}

func (t *Tree[K, V]) print(w io.Writer, h handle, withValues bool, spacing string) {
	nd := t.n(h)
	fmt.Fprintf(w, "%s* %v\n", spacing, nd.key)
	if withValues {
		fmt.Fprintf(w, "%s* %v\n", spacing, nd.values)
	}
	if nd.left == nilHandle && nd.right == nilHandle {
		return
	}

	inner := spacing + strings.Repeat(" ", 2)
	for _, child := range []handle{nd.left, nd.right} {
		if child == nilHandle {
			fmt.Fprintf(w, "%s*\n", inner)
			continue
		}
		t.print(w, child, withValues, inner)
	}
}
