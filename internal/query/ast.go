// Package query implements the query parsing and evaluation engine for
// bunstore.
//
// Unstructured filters (e.g., `{"age": {"$gt": 25}}`) are parsed once into
// an Abstract Syntax Tree (AST), which the cursor then uses to filter
// candidate documents. The package also holds the other document-level
// collaborators of the cursor: sort specifications, projections and the
// update modifier.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

// Operator represents a comparison operator (e.g., $eq, $gt, $in).
type Operator string

const (
	OpEq        Operator = "$eq"
	OpNe        Operator = "$ne"
	OpGt        Operator = "$gt"
	OpGte       Operator = "$gte"
	OpLt        Operator = "$lt"
	OpLte       Operator = "$lte"
	OpIn        Operator = "$in"
	OpNin       Operator = "$nin"
	OpExists    Operator = "$exists"
	OpRegex     Operator = "$regex"
	OpSize      Operator = "$size"
	OpElemMatch Operator = "$elemMatch"
)

// Logical operators.
const (
	OpAnd   = "$and"
	OpOr    = "$or"
	OpNot   = "$not"
	OpWhere = "$where"
)

// Node is the common interface for all nodes in the Query AST.
type Node interface {
	// Matches reports whether doc satisfies the node. Errors come from
	// operators evaluated at match time, such as $where.
	Matches(doc storage.Document) (bool, error)
}

// FieldNode represents a query on a specific field
type FieldNode struct {
	Field    string
	Operator Operator
	Value    interface{}

	regex *regexp.Regexp
	sub   Node // $elemMatch
}

// LogicalNode represents $and / $or / $not operations
type LogicalNode struct {
	Operator string
	Children []Node
}

// WhereNode evaluates a CEL expression against the document.
type WhereNode struct {
	Expression string
	engine     *WhereEngine
}

// Parser turns filters into ASTs. The zero value rejects $where.
type Parser struct {
	Where *WhereEngine
}

// Parse converts a map-based filter into an AST using the default $where
// engine.
// filter: { "age": { "$gt": 25 }, "status": "active" }
func Parse(filter map[string]interface{}) (Node, error) {
	return Parser{Where: DefaultWhereEngine()}.Parse(filter)
}

// Parse converts a map-based filter into an AST.
func (p Parser) Parse(filter map[string]interface{}) (Node, error) {
	nodes := make([]Node, 0, len(filter))

	for key, val := range filter {
		switch key {
		case OpAnd, OpOr:
			list, ok := val.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: value for %s must be a list", util.ErrInvalidQuery, key)
			}
			children := make([]Node, 0, len(list))
			for _, item := range list {
				sub, ok := asFilter(item)
				if !ok {
					return nil, fmt.Errorf("%w: element of %s must be an object", util.ErrInvalidQuery, key)
				}
				child, err := p.Parse(sub)
				if err != nil {
					return nil, err
				}
				children = append(children, child)
			}
			nodes = append(nodes, &LogicalNode{Operator: key, Children: children})

		case OpNot:
			sub, ok := asFilter(val)
			if !ok {
				return nil, fmt.Errorf("%w: value for $not must be an object", util.ErrInvalidQuery)
			}
			child, err := p.Parse(sub)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &LogicalNode{Operator: OpNot, Children: []Node{child}})

		case OpWhere:
			expr, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("%w: $where expects a CEL expression string", util.ErrInvalidQuery)
			}
			if p.Where == nil {
				return nil, fmt.Errorf("%w: $where is not enabled", util.ErrInvalidQuery)
			}
			if err := p.Where.Check(expr); err != nil {
				return nil, err
			}
			nodes = append(nodes, &WhereNode{Expression: expr, engine: p.Where})

		default:
			if strings.HasPrefix(key, "$") {
				return nil, fmt.Errorf("%w: unknown logical operator %s", util.ErrInvalidQuery, key)
			}
			fieldNodes, err := p.parseField(key, val)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, fieldNodes...)
		}
	}

	return &LogicalNode{Operator: OpAnd, Children: nodes}, nil
}

// parseField handles { field: value } and { field: { $op: value, ... } }.
func (p Parser) parseField(field string, val interface{}) ([]Node, error) {
	if re, ok := val.(*regexp.Regexp); ok {
		return []Node{&FieldNode{Field: field, Operator: OpRegex, Value: re.String(), regex: re}}, nil
	}

	ops, ok := asFilter(val)
	if !ok || !hasOperators(ops) {
		// Implicit $eq
		return []Node{&FieldNode{Field: field, Operator: OpEq, Value: val}}, nil
	}

	nodes := make([]Node, 0, len(ops))
	for op, opVal := range ops {
		n := &FieldNode{Field: field, Operator: Operator(op), Value: opVal}

		switch n.Operator {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpExists:
		case OpIn, OpNin:
			if _, ok := opVal.([]interface{}); !ok {
				return nil, fmt.Errorf("%w: %s operator called with a non-array", util.ErrInvalidQuery, op)
			}
		case OpRegex:
			switch pattern := opVal.(type) {
			case *regexp.Regexp:
				n.Value = pattern.String()
				n.regex = pattern
			case string:
				re, err := regexp.Compile(pattern)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", util.ErrInvalidQuery, err)
				}
				n.regex = re
			default:
				return nil, fmt.Errorf("%w: $regex operator called with non regular expression", util.ErrInvalidQuery)
			}
		case OpSize:
			if _, ok := storage.ToFloat(opVal); !ok {
				return nil, fmt.Errorf("%w: $size operator called without an integer", util.ErrInvalidQuery)
			}
		case OpElemMatch:
			sub, ok := asFilter(opVal)
			if !ok {
				return nil, fmt.Errorf("%w: $elemMatch expects an object", util.ErrInvalidQuery)
			}
			child, err := p.Parse(sub)
			if err != nil {
				return nil, err
			}
			n.sub = child
		default:
			return nil, fmt.Errorf("%w: unknown operator %s", util.ErrInvalidQuery, op)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Matches checks if a document matches the node
func (n *FieldNode) Matches(doc storage.Document) (bool, error) {
	val := storage.GetPath(doc, n.Field)

	arr, isArray := val.([]interface{})
	if !isArray || n.Operator == OpSize || n.Operator == OpElemMatch || n.Operator == OpExists {
		return n.matchValue(val)
	}

	// Whole-array equality when the query value is itself an array.
	if _, queryIsArray := n.Value.([]interface{}); queryIsArray && (n.Operator == OpEq || n.Operator == OpNe) {
		return n.matchValue(val)
	}

	// Otherwise at least one element has to match.
	for _, el := range arr {
		ok, err := n.matchValue(el)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (n *FieldNode) matchValue(v interface{}) (bool, error) {
	switch n.Operator {
	case OpEq:
		return storage.Equal(v, n.Value), nil
	case OpNe:
		return !storage.Equal(v, n.Value), nil
	case OpGt:
		return storage.Comparable(v, n.Value) && storage.CompareValues(v, n.Value) > 0, nil
	case OpGte:
		return storage.Comparable(v, n.Value) && storage.CompareValues(v, n.Value) >= 0, nil
	case OpLt:
		return storage.Comparable(v, n.Value) && storage.CompareValues(v, n.Value) < 0, nil
	case OpLte:
		return storage.Comparable(v, n.Value) && storage.CompareValues(v, n.Value) <= 0, nil
	case OpIn:
		for _, candidate := range n.Value.([]interface{}) {
			if storage.Equal(v, candidate) {
				return true, nil
			}
		}
		return false, nil
	case OpNin:
		for _, candidate := range n.Value.([]interface{}) {
			if storage.Equal(v, candidate) {
				return false, nil
			}
		}
		return true, nil
	case OpExists:
		return truthy(n.Value) == !storage.IsUndefined(v), nil
	case OpRegex:
		s, ok := v.(string)
		return ok && n.regex.MatchString(s), nil
	case OpSize:
		arr, ok := v.([]interface{})
		if !ok {
			return false, nil
		}
		size, _ := storage.ToFloat(n.Value)
		return float64(len(arr)) == size, nil
	case OpElemMatch:
		arr, ok := v.([]interface{})
		if !ok {
			return false, nil
		}
		for _, el := range arr {
			sub, ok := asFilter(el)
			if !ok {
				continue
			}
			matched, err := n.sub.Matches(sub)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

func (n *LogicalNode) Matches(doc storage.Document) (bool, error) {
	switch n.Operator {
	case OpAnd:
		for _, child := range n.Children {
			ok, err := child.Matches(doc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OpOr:
		for _, child := range n.Children {
			ok, err := child.Matches(doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case OpNot:
		ok, err := n.Children[0].Matches(doc)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
	return false, nil
}

func (n *WhereNode) Matches(doc storage.Document) (bool, error) {
	ok, err := n.engine.Evaluate(n.Expression, doc)
	if err != nil {
		return false, &util.MatcherError{Op: OpWhere, Err: err}
	}
	return ok, nil
}

// asFilter accepts both plain maps and storage.Document.
func asFilter(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case storage.Document:
		return m, true
	}
	return nil, false
}

// hasOperators reports whether every key of m is an operator. Mixing
// operators and plain fields is rejected later by the unknown operator
// check; a map without any $ key is a literal object value.
func hasOperators(m map[string]interface{}) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != ""
	}
	if f, ok := storage.ToFloat(v); ok {
		return f != 0
	}
	return true
}
