// Package paging converts a 1-based page request into a result window over an
// ordered set. It has no dependencies so both the search service and the HTTP
// boundary can share the same defaults and arithmetic.
package paging

const (
	// DefaultPageIndex is used when the caller does not ask for a page
	DefaultPageIndex = 1
	// DefaultPageSize is used when the caller does not ask for a page size
	DefaultPageSize = 25
	// MaxPageSize is the hard upper bound on page size (inclusive)
	MaxPageSize = 500
)

// Paging describes the page that was served together with the size of the
// filtered set it was cut from.
type Paging struct {
	PageIndex int `json:"pageIndex"`
	PageSize  int `json:"pageSize"`
	Total     int `json:"total"`
}

// Window returns the offset and length of page pageIndex when total items are
// split into pages of pageSize.
//
// A page past the end, or a page index or size below 1, yields limit 0 with
// the offset clamped to total. The offset is only multiplied out once the page
// is known to start inside the set, so any pageIndex is safe.
func Window(pageIndex, pageSize, total int) (offset, limit int) {
	total = max(total, 0)
	if pageIndex < 1 || pageSize < 1 || total == 0 || pageIndex-1 > (total-1)/pageSize {
		return total, 0
	}
	offset = (pageIndex - 1) * pageSize
	return offset, min(pageSize, total-offset)
}

// Window returns the window of the page described by p.
func (p Paging) Window() (offset, limit int) {
	return Window(p.PageIndex, p.PageSize, p.Total)
}

// PageCount returns how many non-empty pages the total spans.
func (p Paging) PageCount() int {
	if p.PageSize < 1 || p.Total <= 0 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

// Slice cuts the window for pageIndex/pageSize out of items, which must already
// be in their final order.
func Slice[T any](items []T, pageIndex, pageSize int) []T {
	offset, limit := Window(pageIndex, pageSize, len(items))
	if limit == 0 {
		return items[:0:0]
	}
	return items[offset : offset+limit]
}
