package types

type PaginationResult[T any] struct {
	Items           []T  `json:"items"`
	TotalItems      int  `json:"total_items"`
	Page            int  `json:"page"`
	PageSize        int  `json:"page_size"`
	TotalPages      int  `json:"total_pages"`
	HasNextPage     bool `json:"has_next_page"`
	HasPreviousPage bool `json:"has_previous_page"`
}

// Paginate slices items into the 1-based page. Pages past the end are empty, never nil.
func Paginate[T any](items []T, page, pageSize int) PaginationResult[T] {
	if pageSize < 1 {
		pageSize = 1
	}
	if page < 1 {
		page = 1
	}
	total := len(items)
	totalPages := (total + pageSize - 1) / pageSize

	start := min((page-1)*pageSize, total)
	end := min(start+pageSize, total)
	pageItems := make([]T, end-start)
	copy(pageItems, items[start:end])

	return PaginationResult[T]{
		Items:           pageItems,
		TotalItems:      total,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}
}
