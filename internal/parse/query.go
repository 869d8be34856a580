package parse

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Query selects records of one class. Builder methods return the query so
// calls can be chained.
type Query struct {
	className string
	where     map[string]any
	limit     int
	skip      int
	order     []string
	keys      []string
}

// NewQuery creates an unconstrained query over className.
func NewQuery(className string) *Query {
	return &Query{className: className, where: map[string]any{}}
}

// ClassName returns the queried class.
func (q *Query) ClassName() string { return q.className }

// WhereEqualTo requires key == value.
func (q *Query) WhereEqualTo(key string, value any) *Query {
	q.where[key] = value
	return q
}

// WhereGreaterThan requires key > value.
func (q *Query) WhereGreaterThan(key string, value any) *Query {
	return q.whereOp(key, "$gt", value)
}

// WhereLessThan requires key < value.
func (q *Query) WhereLessThan(key string, value any) *Query {
	return q.whereOp(key, "$lt", value)
}

// WhereContainedIn requires key to be one of values.
func (q *Query) WhereContainedIn(key string, values ...any) *Query {
	return q.whereOp(key, "$in", values)
}

// WhereExists requires key to be set.
func (q *Query) WhereExists(key string) *Query {
	return q.whereOp(key, "$exists", true)
}

// WhereDoesNotExist requires key to be unset.
func (q *Query) WhereDoesNotExist(key string) *Query {
	return q.whereOp(key, "$exists", false)
}

// Limit caps the number of results.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Skip skips the first n results.
func (q *Query) Skip(n int) *Query {
	q.skip = n
	return q
}

// OrderByAscending appends an ascending sort key.
func (q *Query) OrderByAscending(key string) *Query {
	q.order = append(q.order, key)
	return q
}

// OrderByDescending appends a descending sort key.
func (q *Query) OrderByDescending(key string) *Query {
	q.order = append(q.order, "-"+key)
	return q
}

// Select restricts the returned fields.
func (q *Query) Select(keys ...string) *Query {
	q.keys = append(q.keys, keys...)
	return q
}

// Where returns a copy of the constraint object, as sent in "where".
func (q *Query) Where() map[string]any {
	out := make(map[string]any, len(q.where))
	for k, v := range q.where {
		if m, ok := v.(map[string]any); ok {
			v = maps.Clone(m)
		}
		out[k] = v
	}
	return out
}

// Clone returns an independent copy of q.
func (q *Query) Clone() *Query {
	return &Query{
		className: q.className,
		where:     q.Where(),
		limit:     q.limit,
		skip:      q.skip,
		order:     slices.Clone(q.order),
		keys:      slices.Clone(q.keys),
	}
}

// Values encodes the query as URL parameters.
func (q *Query) Values() (url.Values, error) {
	v := url.Values{}
	if len(q.where) > 0 {
		data, err := json.Marshal(q.where)
		if err != nil {
			return nil, fmt.Errorf("encode where for %s: %w", q.className, err)
		}
		v.Set("where", string(data))
	}
	if q.limit > 0 {
		v.Set("limit", strconv.Itoa(q.limit))
	}
	if q.skip > 0 {
		v.Set("skip", strconv.Itoa(q.skip))
	}
	if len(q.order) > 0 {
		v.Set("order", strings.Join(q.order, ","))
	}
	if len(q.keys) > 0 {
		v.Set("keys", strings.Join(q.keys, ","))
	}
	return v, nil
}

func (q *Query) whereOp(key, op string, value any) *Query {
	cond, ok := q.where[key].(map[string]any)
	if !ok {
		cond = map[string]any{}
	}
	cond[op] = value
	q.where[key] = cond
	return q
}
