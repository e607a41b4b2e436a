// Package utils holds the page arithmetic shared by the poll listing handler
// and service.
package utils

import "strconv"

// Page bounds used when the caller supplies none.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault parses a query value, falling back to def when it is absent
// or not a base-10 integer.
func AtoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ClampPage bounds a 1-based page number and a page size to
// [1, ∞) and [1, MaxPageSize]. A non-positive size becomes DefaultPageSize.
func ClampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// Offset returns the row offset of a clamped page.
func Offset(page, size int) int {
	page, size = ClampPage(page, size)
	return (page - 1) * size
}

// TotalPages returns how many pages of size hold total rows.
func TotalPages(total int64, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
