package model

import (
	"fmt"
	"math"
)

// Pagination is the 1-based page request shared by every listing endpoint.
// Page and PageLimit are supplied together or not at all.
type Pagination struct {
	Page      *int
	PageLimit *int
}

func (p Pagination) Validate() error {
	if (p.Page == nil) != (p.PageLimit == nil) {
		return fmt.Errorf("%w: page and page_limit must be supplied together", ErrInvalidParameters)
	}
	if p.Page != nil && (*p.Page < 1 || *p.PageLimit < 1) {
		return fmt.Errorf("%w: page and page_limit must be positive", ErrInvalidParameters)
	}
	if p.Page != nil && *p.Page > math.MaxInt / *p.PageLimit {
		return fmt.Errorf("%w: page %d is out of range for page_limit %d", ErrInvalidParameters, *p.Page, *p.PageLimit)
	}
	return nil
}

// Bounds returns the row offset and limit. A zero limit means unpaginated.
func (p Pagination) Bounds() (offset, limit int) {
	if p.Page == nil || p.PageLimit == nil {
		return 0, 0
	}
	return (*p.Page - 1) * *p.PageLimit, *p.PageLimit
}

type Page[T any] struct {
	TotalNumber int  `json:"total_number"`
	Page        *int `json:"page,omitempty"`
	PageLimit   *int `json:"page_limit,omitempty"`
	Items       []T  `json:"items"`
}

// NewPage wraps rows already limited by the store.
func NewPage[T any](items []T, total int, p Pagination) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{TotalNumber: total, Page: p.Page, PageLimit: p.PageLimit, Items: items}
}

// Paginate slices a fully materialized result set.
func Paginate[T any](items []T, p Pagination) Page[T] {
	total := len(items)
	offset, limit := p.Bounds()
	if limit > 0 {
		if offset > total {
			offset = total
		}
		end := total
		if limit < total-offset {
			end = offset + limit
		}
		items = items[offset:end]
	}
	return NewPage(items, total, p)
}
