package pagination

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func params(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Limit: DefaultLimit}},
		{"?limit=5&offset=10", Params{Limit: 5, Offset: 10}},
		{"?limit=500", Params{Limit: MaxLimit}},
		{"?limit=0", Params{Limit: DefaultLimit}},
		{"?limit=-3&offset=-4", Params{Limit: DefaultLimit}},
		{"?limit=ten&offset=x", Params{Limit: DefaultLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, params(tt.query))
		})
	}
}

func TestNewResponse_Pages(t *testing.T) {
	tests := []struct {
		name          string
		total, offset int
		hasMore       bool
		next, prev    *int
	}{
		{"first of three", 25, 0, true, intPtr(10), nil},
		{"middle", 25, 10, true, intPtr(20), intPtr(0)},
		{"last", 25, 20, false, nil, intPtr(10)},
		{"offset not on a page boundary", 25, 5, true, intPtr(15), intPtr(0)},
		{"empty", 0, 0, false, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResponse([]string{"a"}, tt.total, 10, tt.offset)
			assert.Equal(t, tt.hasMore, r.HasMore)
			assert.Equal(t, tt.next, r.NextOffset)
			assert.Equal(t, tt.prev, r.PreviousOffset)
		})
	}
}

func TestNewResponse_JSON(t *testing.T) {
	var none []int
	b, err := json.Marshal(NewResponse(none, 0, 20, 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[],"total":0,"limit":20,"offset":0,"has_more":false}`, string(b))

	b, err = json.Marshal(NewResponse([]int{1, 2}, 3, 2, 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[1,2],"total":3,"limit":2,"offset":0,"has_more":true,"next_offset":2}`, string(b))
}

func intPtr(n int) *int { return &n }
