package sqlite

import (
	"github.com/asaidimu/mirrorql/core/query"
)

// paginationClause renders LIMIT ? OFFSET ? when both page and pageSize
// are set.
func paginationClause(resource string, opts query.Options) (string, []any, error) {
	if opts.Page < 0 || opts.PageSize < 0 {
		return "", nil, query.NewValidationError(query.InvalidPagination, resource,
			"page (%d) and pageSize (%d) cannot be negative", opts.Page, opts.PageSize)
	}
	if !opts.Paginated() {
		return "", nil, nil
	}
	return "LIMIT ? OFFSET ?", []any{opts.PageSize, opts.Offset()}, nil
}
