package query

import (
	"fmt"
	"strings"

	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

// SortField orders documents by one dot path. Direction is 1 for ascending
// and -1 for descending.
type SortField struct {
	Field     string
	Direction int
}

// SortSpec is an ordered list of criteria. Later criteria only break ties
// of earlier ones.
type SortSpec []SortField

// ParseSort reads a comma separated list of paths, each optionally
// prefixed with '-' (descending) or '+' (ascending): "age,-name".
func ParseSort(s string) (SortSpec, error) {
	var spec SortSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dir := 1
		switch part[0] {
		case '-':
			dir = -1
			part = part[1:]
		case '+':
			part = part[1:]
		}
		if part == "" {
			return nil, fmt.Errorf("%w: empty sort field", util.ErrInvalidQuery)
		}
		spec = append(spec, SortField{Field: part, Direction: dir})
	}
	return spec, nil
}

// Compare orders a and b by every criterion in turn. A nil compareStrings
// falls back to byte order.
func (s SortSpec) Compare(a, b storage.Document, compareStrings storage.StringComparer) int {
	for _, f := range s {
		dir := f.Direction
		if dir == 0 {
			dir = 1
		}
		c := storage.CompareValuesWith(storage.GetPath(a, f.Field), storage.GetPath(b, f.Field), compareStrings)
		if c != 0 {
			return c * dir
		}
	}
	return 0
}

func (s SortSpec) String() string {
	parts := make([]string, len(s))
	for i, f := range s {
		if f.Direction < 0 {
			parts[i] = "-" + f.Field
		} else {
			parts[i] = f.Field
		}
	}
	return strings.Join(parts, ",")
}
