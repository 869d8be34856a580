package controlplane

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// pageRequest is the limit/offset window a list endpoint was asked for.
// Limit 0 means unbounded.
type pageRequest struct {
	Limit  int
	Offset int
}

// pageFromQuery reads limit and offset from q. Missing or malformed values
// use defLimit; the limit is capped at maxLimit.
func pageFromQuery(q url.Values, limitKey string, defLimit, maxLimit int) pageRequest {
	return pageRequest{
		Limit:  queryInt(q.Get(limitKey), defLimit, maxLimit),
		Offset: queryInt(q.Get("offset"), 0, 0),
	}
}

// queryInt parses a non-negative query integer. ceiling <= 0 disables capping.
func queryInt(raw string, def, ceiling int) int {
	v := def
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			v = n
		}
	}
	if ceiling > 0 && v > ceiling {
		return ceiling
	}
	return v
}

// window returns the slice of items covered by p and the unwindowed length.
func window[T any](items []T, p pageRequest) ([]T, int) {
	total := len(items)
	start := min(max(p.Offset, 0), total)
	end := total
	if p.Limit > 0 {
		end = min(start+p.Limit, total)
	}
	return items[start:end], total
}

type pageInfo struct {
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
	Returned   int   `json:"returned"`
	Total      int64 `json:"total"`
	HasMore    bool  `json:"has_more"`
	NextOffset *int  `json:"next_offset,omitempty"`
}

// info describes a response holding returned items. When total is
// unknown (negative) a full page implies at least one more item.
func (p pageRequest) info(returned int, total int64) pageInfo {
	if total < 0 {
		total = int64(p.Offset + returned)
		if p.Limit > 0 && returned >= p.Limit {
			total++
		}
	}
	pi := pageInfo{Limit: p.Limit, Offset: p.Offset, Returned: returned, Total: total}
	if next := p.Offset + returned; int64(next) < total {
		pi.HasMore = true
		pi.NextOffset = &next
	}
	return pi
}

func writePage(w http.ResponseWriter, items any, pi pageInfo) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Items      any      `json:"items"`
		Pagination pageInfo `json:"pagination"`
	}{items, pi})
}
