package parse

import (
	"context"
	"iter"

	"github.com/oriys/cloudcode/internal/domain"
)

// Each lazily yields every record matching q, one page at a time. Pages are
// ordered by ascending objectId and each page starts after the last id of
// the previous one, so records are never skipped by concurrent inserts
// before the cursor. Any limit, skip or order set on q is ignored.
//
// Iteration restarts from the beginning each time the sequence is ranged
// over. A fetch error is yielded once and ends the sequence.
func (c *Client) Each(ctx context.Context, q *Query, priv domain.Privilege) iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		page := q.Clone()
		page.limit = c.pageSize
		page.skip = 0
		page.order = []string{domain.FieldObjectID}

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			objs, err := c.Find(ctx, page, priv)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, obj := range objs {
				if !yield(obj, nil) {
					return
				}
			}
			if len(objs) < c.pageSize {
				return
			}
			page = page.Clone()
			page.whereOp(domain.FieldObjectID, "$gt", objs[len(objs)-1].ID())
		}
	}
}
