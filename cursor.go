package bunstore

import (
	"context"

	"github.com/kartikbazzad/bunbase/bunstore/internal/metrics"
	"github.com/kartikbazzad/bunbase/bunstore/internal/query"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

// Query building blocks, re-exported for callers outside the module.
type (
	SortField  = query.SortField
	SortSpec   = query.SortSpec
	Projection = query.Projection
	Update     = query.Update
)

// ParseSort reads "field,-other" into a SortSpec.
func ParseSort(s string) (SortSpec, error) {
	return query.ParseSort(s)
}

// CandidateSource supplies the documents a cursor filters. It may narrow
// them down with an index when the filter allows it; the cursor matches
// every candidate against the full filter anyway.
type CandidateSource interface {
	Candidates(filter map[string]interface{}) ([]storage.Document, error)
}

// PostProcessFunc receives the outcome of the pipeline, error included,
// and returns what Exec reports.
type PostProcessFunc func(docs []storage.Document, err error) ([]storage.Document, error)

// Cursor is a configured, not yet executed query. The setters mutate and
// return the cursor; nothing runs until Exec.
//
// Without a sort, skip and limit apply while filtering, in candidate order,
// and iteration stops as soon as the limit is reached. With a sort, every
// match is collected and sorted first, then skip and limit slice the
// result.
type Cursor struct {
	source         CandidateSource
	filter         map[string]interface{}
	parser         query.Parser
	compareStrings storage.StringComparer

	skip        int
	limit       int
	sort        query.SortSpec
	projection  query.Projection
	postProcess PostProcessFunc

	// Set for cursors created by a collection.
	coll        *Collection
	op          string
	args        []interface{}
	copyResults bool
}

// NewCursor creates a cursor over source. $where filters use the default
// engine.
func NewCursor(source CandidateSource, filter map[string]interface{}) *Cursor {
	return &Cursor{
		source: source,
		filter: filter,
		parser: query.Parser{Where: query.DefaultWhereEngine()},
	}
}

// Limit caps the number of results. Zero or negative means no limit.
func (c *Cursor) Limit(n int) *Cursor {
	c.limit = n
	return c
}

// Skip drops the first n results. Negative means no skip.
func (c *Cursor) Skip(n int) *Cursor {
	c.skip = n
	return c
}

// Sort orders results; earlier fields take precedence.
func (c *Cursor) Sort(spec query.SortSpec) *Cursor {
	c.sort = spec
	return c
}

// Projection selects the returned fields.
func (c *Cursor) Projection(p query.Projection) *Cursor {
	c.projection = p
	return c
}

// PostProcess sets a hook run on the pipeline outcome before Exec returns.
func (c *Cursor) PostProcess(fn PostProcessFunc) *Cursor {
	c.postProcess = fn
	return c
}

// Collation sets the string comparison used by Sort. Collection cursors
// use the collection's collation.
func (c *Cursor) Collation(compareStrings storage.StringComparer) *Cursor {
	c.compareStrings = compareStrings
	return c
}

// plan is the validated, immutable form of a cursor configuration.
type plan struct {
	filter         map[string]interface{}
	matcher        query.Node
	sort           query.SortSpec
	skip           int
	limit          int
	projection     *query.ProjectionPlan
	compareStrings storage.StringComparer
	copyResults    bool
}

func (c *Cursor) compile() (*plan, error) {
	// Projection first: a conflict must fail before any candidate is read.
	projection, err := query.CompileProjection(c.projection)
	if err != nil {
		return nil, err
	}

	filter := normalize(c.filter)
	matcher, err := c.parser.Parse(filter)
	if err != nil {
		return nil, err
	}

	p := &plan{
		filter:         filter,
		matcher:        matcher,
		sort:           append(query.SortSpec(nil), c.sort...),
		skip:           c.skip,
		limit:          c.limit,
		projection:     projection,
		compareStrings: c.compareStrings,
		copyResults:    c.copyResults,
	}
	if p.skip < 0 {
		p.skip = 0
	}
	if p.limit < 0 {
		p.limit = 0
	}
	return p, nil
}

// Exec runs the pipeline against current data. Collection cursors queue on
// the collection's executor; ctx bounds the wait.
func (c *Cursor) Exec(ctx context.Context) ([]storage.Document, error) {
	if c.coll == nil {
		return c.run()
	}

	res, err := c.coll.do(ctx, c.op, c.args, func() (interface{}, error) {
		return c.run()
	})
	if err != nil {
		return nil, err
	}
	docs, _ := res.([]storage.Document)
	return docs, nil
}

// run executes the pipeline and the post-process hook without scheduling.
func (c *Cursor) run() ([]storage.Document, error) {
	docs, err := c.pipeline()
	if c.postProcess != nil {
		return c.postProcess(docs, err)
	}
	return docs, err
}

func (c *Cursor) pipeline() ([]storage.Document, error) {
	p, err := c.compile()
	if err != nil {
		return nil, err
	}

	candidates, err := c.source.Candidates(p.filter)
	if err != nil {
		return nil, err
	}

	src := NewSliceIterator(candidates)
	var it Iterator = NewFilterIterator(src, p.matcher)
	if len(p.sort) > 0 {
		it = NewSortIterator(it, p.sort, p.compareStrings)
	}
	if p.skip > 0 {
		it = NewSkipIterator(it, p.skip)
	}
	if p.limit > 0 {
		it = NewLimitIterator(it, p.limit)
	}
	defer it.Close()

	docs, err := drain(it)
	metrics.CandidatesScanned.Observe(float64(src.Pulled()))
	if err != nil {
		return nil, err
	}

	if p.projection.IsIdentity() {
		if p.copyResults {
			for i, d := range docs {
				docs[i] = d.Clone()
			}
		}
		return docs, nil
	}
	return p.projection.Apply(docs)
}
