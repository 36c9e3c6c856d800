package search

import (
	"context"
	"fmt"
	"strconv"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/store"
)

// Results iterates search hits in rank order, resolving each one through
// the metadata store when it is reached.
//
//	for res.Next(ctx) {
//	    r := res.Result()
//	}
//	if err := res.Err(); err != nil {
//	    ...
//	}
type Results struct {
	hits     []*store.VectorResult
	resolver ChunkResolver
	pos      int
	current  *Result
	err      error
}

// Next advances to the next hit. It returns false at the end or on the
// first error, which Err then reports. A hit whose chunk row is missing
// stops iteration with a consistency violation instead of being skipped.
func (r *Results) Next(ctx context.Context) bool {
	r.current = nil
	if r.err != nil || r.pos >= len(r.hits) {
		return false
	}

	hit := r.hits[r.pos]
	r.pos++

	ref, err := r.resolver.GetDocument(ctx, int64(hit.Key))
	if err != nil {
		if perrors.HasCode(err, perrors.ErrCodeNotFound) {
			err = perrors.New(perrors.ErrCodeConsistencyViolation,
				fmt.Sprintf("vector key %d has no chunk in the metadata store", hit.Key), err).
				WithDetail("key", strconv.FormatUint(hit.Key, 10)).
				WithSuggestion("Run 'pagesearch check --repair' to remove orphan vectors")
		}
		r.err = err
		return false
	}

	r.current = &Result{
		Distance: hit.Distance,
		Score:    hit.Score,
		ChunkID:  ref.ChunkID,
		Path:     ref.Path,
		PageNo:   ref.PageNo,
		Text:     ref.Text,
	}
	return true
}

// Result returns the hit Next moved to, or nil.
func (r *Results) Result() *Result {
	return r.current
}

// Err returns the error that stopped iteration, if any.
func (r *Results) Err() error {
	return r.err
}

// Len returns the number of hits found by the vector search.
func (r *Results) Len() int {
	return len(r.hits)
}

// Collect resolves the remaining hits.
func (r *Results) Collect(ctx context.Context) ([]*Result, error) {
	out := make([]*Result, 0, len(r.hits)-r.pos)
	for r.Next(ctx) {
		out = append(out, r.Result())
	}
	return out, r.Err()
}
