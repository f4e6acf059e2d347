package sqlite

import (
	"fmt"
	"slices"
	"strings"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/asaidimu/mirrorql/core/schema"
	"go.uber.org/zap"
)

// Compiler is a schema-aware query compiler for the SQLite mirror. It turns
// a query.Description into one SELECT statement and its positional
// parameters. A Compiler holds no mutable state and is safe for concurrent
// use.
type Compiler struct {
	schema *schema.Table
	logger *zap.Logger
}

// Ensure Compiler implements the query.Generator interface.
var _ query.Generator = (*Compiler)(nil)

// NewCompiler creates a compiler over the given Resource Schema Table.
func NewCompiler(table *schema.Table, logger *zap.Logger) (*Compiler, error) {
	if table == nil {
		return nil, fmt.Errorf("schema table cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{schema: table, logger: logger}, nil
}

// Schema returns the schema table the compiler validates against.
func (c *Compiler) Schema() *schema.Table {
	return c.schema
}

// quoteIdentifier properly quotes an identifier for SQLite.
func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// placeholders returns n comma separated '?' markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// fragment is an immutable (clauses, parameters) pair. with and concat
// always return a new value, so partial results can be shared freely.
type fragment struct {
	clauses []string
	params  []any
}

func (f fragment) with(clause string, params ...any) fragment {
	return fragment{
		clauses: append(slices.Clip(f.clauses), clause),
		params:  append(slices.Clip(f.params), params...),
	}
}

func (f fragment) concat(o fragment) fragment {
	return fragment{
		clauses: append(slices.Clip(f.clauses), o.clauses...),
		params:  append(slices.Clip(f.params), o.params...),
	}
}

// Compile creates the SQL SELECT statement and its parameters for resource.
// Parameters are ordered: filters (in key order, joins depth-first), search,
// custom sort mappings, pagination.
func (c *Compiler) Compile(resource string, desc *query.Description, opts query.Options) (query.Compiled, error) {
	res, ok := c.schema.Lookup(resource)
	if !ok {
		return query.Compiled{}, query.NewValidationError(query.UnsupportedResource, resource, "resource is not in the schema table")
	}
	if desc == nil {
		desc = &query.Description{}
	}

	base := tableScope(res)
	where, joins, err := c.filterConditions(base, desc.Filters, newAliasAllocator(res.TableName()))
	if err != nil {
		return query.Compiled{}, fmt.Errorf("error building WHERE clause: %w", err)
	}

	searchSQL, searchParams, err := searchCondition(res, base.qualifier, desc.Search)
	if err != nil {
		return query.Compiled{}, fmt.Errorf("error building search condition: %w", err)
	}
	if searchSQL != "" {
		where = where.with(searchSQL, searchParams...)
	}

	selectSQL, err := selectClause(res, base.qualifier, opts.Select)
	if err != nil {
		return query.Compiled{}, fmt.Errorf("error building SELECT clause: %w", err)
	}

	orderSQL, orderParams := c.orderByClause(res, base.qualifier, desc.Sort)

	pageSQL, pageParams, err := paginationClause(resource, opts)
	if err != nil {
		return query.Compiled{}, err
	}

	parts := []string{selectSQL, joinClause(joins)}
	if len(where.clauses) > 0 {
		parts = append(parts, "WHERE "+strings.Join(where.clauses, " AND "))
	}
	parts = append(parts, orderSQL, pageSQL)

	params := make([]any, 0, len(where.params)+len(orderParams)+len(pageParams))
	params = append(params, where.params...)
	params = append(params, orderParams...)
	params = append(params, pageParams...)

	sql := joinNonEmpty(parts)
	c.logger.Debug("Compiled query",
		zap.String("resource", resource),
		zap.String("sql", sql),
		zap.Int("parameters", len(params)),
	)
	return query.Compiled{SQL: sql, Parameters: params}, nil
}

// joinNonEmpty space-joins the non-empty parts.
func joinNonEmpty(parts []string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
