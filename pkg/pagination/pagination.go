// Package pagination reads limit/offset query parameters and shapes list
// responses.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Missing or malformed values get
// the defaults and limit is capped at MaxLimit.
func FromContext(c echo.Context) Params {
	p := Params{Limit: DefaultLimit}
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 {
		p.Limit = min(n, MaxLimit)
	}
	if n, err := strconv.Atoi(c.QueryParam("offset")); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

// Response is one page of a list.
type Response[T any] struct {
	Data           []T  `json:"data"`
	Total          int  `json:"total"`
	Limit          int  `json:"limit"`
	Offset         int  `json:"offset"`
	HasMore        bool `json:"has_more"`
	NextOffset     *int `json:"next_offset,omitempty"`
	PreviousOffset *int `json:"previous_offset,omitempty"`
}

// NewResponse wraps items, the page at offset of a list of total entries.
// Data is always an array, never null.
func NewResponse[T any](items []T, total, limit, offset int) *Response[T] {
	if items == nil {
		items = []T{}
	}
	r := &Response[T]{Data: items, Total: total, Limit: limit, Offset: offset}
	if next := offset + limit; next < total {
		r.HasMore = true
		r.NextOffset = &next
	}
	if offset > 0 {
		prev := max(offset-limit, 0)
		r.PreviousOffset = &prev
	}
	return r
}
