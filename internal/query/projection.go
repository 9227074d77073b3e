package query

import (
	"sort"

	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

// Projection maps dot paths to 1 (keep) or 0 (omit). `_id` is kept unless
// explicitly set to 0, and may be combined with either mode.
type Projection map[string]int

type projectionMode int

const (
	projectNone projectionMode = iota
	projectPick
	projectOmit
)

// ProjectionPlan is a validated projection ready to be applied.
type ProjectionPlan struct {
	mode   projectionMode
	fields []string
	keepID bool
}

// CompileProjection validates p. Mixing kept and omitted fields other than
// _id is an error.
func CompileProjection(p Projection) (*ProjectionPlan, error) {
	plan := &ProjectionPlan{keepID: true}
	if len(p) == 0 {
		return plan, nil
	}

	fields := make([]string, 0, len(p))
	for k := range p {
		if k == storage.IDField {
			plan.keepID = p[k] != 0
			continue
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)

	for _, k := range fields {
		mode := projectOmit
		if p[k] != 0 {
			mode = projectPick
		}
		if plan.mode != projectNone && plan.mode != mode {
			return nil, &util.ProjectionConflictError{Field: k}
		}
		plan.mode = mode
	}
	plan.fields = fields
	if plan.mode == projectNone && !plan.keepID {
		plan.mode = projectOmit
	}
	return plan, nil
}

// IsIdentity reports whether Apply would return documents unchanged.
func (pp *ProjectionPlan) IsIdentity() bool {
	return pp == nil || (pp.mode == projectNone && pp.keepID)
}

// Apply projects every document. Inputs are never mutated.
func (pp *ProjectionPlan) Apply(docs []storage.Document) ([]storage.Document, error) {
	if pp.IsIdentity() {
		return docs, nil
	}

	out := make([]storage.Document, 0, len(docs))
	for _, doc := range docs {
		projected, err := pp.project(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, projected)
	}
	return out, nil
}

func (pp *ProjectionPlan) project(doc storage.Document) (storage.Document, error) {
	var (
		res storage.Document
		err error
	)

	if pp.mode == projectPick {
		set := make(map[string]interface{}, len(pp.fields))
		for _, f := range pp.fields {
			if v := storage.GetPath(doc, f); !storage.IsUndefined(v) {
				set[f] = v
			}
		}
		res, err = Modify(storage.Document{}, Update{"$set": set})
	} else {
		unset := make(map[string]interface{}, len(pp.fields))
		for _, f := range pp.fields {
			unset[f] = true
		}
		res, err = Modify(doc, Update{"$unset": unset})
	}
	if err != nil {
		return nil, err
	}

	if id, ok := doc[storage.IDField]; ok && pp.keepID {
		res[storage.IDField] = id
	} else {
		delete(res, storage.IDField)
	}
	return res, nil
}
