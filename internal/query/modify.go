package query

import (
	"fmt"
	"strings"

	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

// Update is a modifier document: either a full replacement or a map of
// modifier operators ($set, $unset, ...) to { path: argument } maps.
type Update map[string]interface{}

type modifierFunc func(doc storage.Document, path string, arg interface{}) error

var modifiers = map[string]modifierFunc{
	"$set":      setModifier,
	"$unset":    unsetModifier,
	"$inc":      incModifier,
	"$push":     pushModifier,
	"$addToSet": addToSetModifier,
	"$pop":      popModifier,
	"$pull":     pullModifier,
	"$min":      minMaxModifier(-1),
	"$max":      minMaxModifier(1),
}

// Modify returns a modified copy of doc. doc itself is never changed.
//
// An update without any $ key replaces the whole document but keeps its
// _id. Modifier and plain keys cannot be mixed, and no update may change
// _id.
func Modify(doc storage.Document, update map[string]interface{}) (storage.Document, error) {
	var dollar, plain int
	for k := range update {
		if strings.HasPrefix(k, "$") {
			dollar++
		} else {
			plain++
		}
	}
	if dollar > 0 && plain > 0 {
		return nil, fmt.Errorf("%w: you cannot mix modifiers and normal fields", util.ErrInvalidModification)
	}

	var out storage.Document
	if dollar == 0 {
		out = storage.Document(update).Clone()
		if id, ok := doc[storage.IDField]; ok {
			if newID, set := out[storage.IDField]; set && !storage.Equal(id, newID) {
				return nil, util.ErrCannotModifyID
			}
			out[storage.IDField] = id
		}
		return out, nil
	}

	out = doc.Clone()
	for name, args := range update {
		fn, ok := modifiers[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown modifier %s", util.ErrInvalidModification, name)
		}
		argMap, ok := asFilter(args)
		if !ok {
			return nil, fmt.Errorf("%w: modifier %s's argument must be an object", util.ErrInvalidModification, name)
		}
		for path, arg := range argMap {
			if path == storage.IDField || strings.HasPrefix(path, storage.IDField+".") {
				if name == "$set" && storage.Equal(doc[storage.IDField], arg) {
					continue
				}
				return nil, util.ErrCannotModifyID
			}
			if err := fn(out, path, arg); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func setModifier(doc storage.Document, path string, arg interface{}) error {
	doc.SetPath(path, storage.DeepCopy(arg))
	return nil
}

func unsetModifier(doc storage.Document, path string, _ interface{}) error {
	doc.UnsetPath(path)
	return nil
}

func incModifier(doc storage.Document, path string, arg interface{}) error {
	delta, ok := storage.ToFloat(arg)
	if !ok {
		return fmt.Errorf("%w: $inc value for %s is not a number", util.ErrInvalidModification, path)
	}

	cur := storage.GetPath(doc, path)
	if storage.IsUndefined(cur) {
		doc.SetPath(path, arg)
		return nil
	}
	base, ok := storage.ToFloat(cur)
	if !ok {
		return fmt.Errorf("%w: don't use the $inc modifier on non-number field %s", util.ErrInvalidModification, path)
	}

	// Keep integers integral when both sides are.
	if bi, ok := cur.(int); ok {
		if di, ok := arg.(int); ok {
			doc.SetPath(path, bi+di)
			return nil
		}
	}
	doc.SetPath(path, base+delta)
	return nil
}

// arrayAt returns the array stored at path, creating it when absent.
func arrayAt(doc storage.Document, path, op string) ([]interface{}, error) {
	cur := storage.GetPath(doc, path)
	if storage.IsUndefined(cur) {
		return []interface{}{}, nil
	}
	arr, ok := cur.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: can't %s an element on non-array field %s", util.ErrInvalidModification, op, path)
	}
	return arr, nil
}

// eachArg expands { $each: [...] } arguments.
func eachArg(arg interface{}) []interface{} {
	if m, ok := asFilter(arg); ok {
		if each, ok := m["$each"].([]interface{}); ok && len(m) == 1 {
			return each
		}
	}
	return []interface{}{arg}
}

func pushModifier(doc storage.Document, path string, arg interface{}) error {
	arr, err := arrayAt(doc, path, "$push")
	if err != nil {
		return err
	}
	for _, v := range eachArg(arg) {
		arr = append(arr, storage.DeepCopy(v))
	}
	doc.SetPath(path, arr)
	return nil
}

func addToSetModifier(doc storage.Document, path string, arg interface{}) error {
	arr, err := arrayAt(doc, path, "$addToSet")
	if err != nil {
		return err
	}
	for _, v := range eachArg(arg) {
		present := false
		for _, el := range arr {
			if storage.Equal(el, v) {
				present = true
				break
			}
		}
		if !present {
			arr = append(arr, storage.DeepCopy(v))
		}
	}
	doc.SetPath(path, arr)
	return nil
}

func popModifier(doc storage.Document, path string, arg interface{}) error {
	arr, err := arrayAt(doc, path, "$pop")
	if err != nil {
		return err
	}
	n, ok := storage.ToFloat(arg)
	if !ok {
		return fmt.Errorf("%w: %v isn't an integer, can't use it with $pop", util.ErrInvalidModification, arg)
	}
	switch {
	case len(arr) == 0 || n == 0:
	case n > 0:
		arr = arr[:len(arr)-1]
	default:
		arr = arr[1:]
	}
	doc.SetPath(path, arr)
	return nil
}

func pullModifier(doc storage.Document, path string, arg interface{}) error {
	arr, err := arrayAt(doc, path, "$pull")
	if err != nil {
		return err
	}

	// A filter argument pulls every element matching it.
	var node Node
	if m, ok := asFilter(arg); ok && hasOperators(m) {
		node, err = Parser{}.parseFieldNode("value", m)
		if err != nil {
			return err
		}
	}

	kept := make([]interface{}, 0, len(arr))
	for _, el := range arr {
		var pull bool
		if node != nil {
			pull, err = node.Matches(storage.Document{"value": el})
			if err != nil {
				return err
			}
		} else {
			pull = storage.Equal(el, arg)
		}
		if !pull {
			kept = append(kept, el)
		}
	}
	doc.SetPath(path, kept)
	return nil
}

func minMaxModifier(direction int) modifierFunc {
	return func(doc storage.Document, path string, arg interface{}) error {
		cur := storage.GetPath(doc, path)
		if storage.IsUndefined(cur) || storage.CompareValues(arg, cur)*direction > 0 {
			doc.SetPath(path, storage.DeepCopy(arg))
		}
		return nil
	}
}

// parseFieldNode wraps parseField into a single AND node.
func (p Parser) parseFieldNode(field string, val interface{}) (Node, error) {
	nodes, err := p.parseField(field, val)
	if err != nil {
		return nil, err
	}
	return &LogicalNode{Operator: OpAnd, Children: nodes}, nil
}
