package sqlite

import (
	"strings"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/asaidimu/mirrorql/core/schema"
	"go.uber.org/zap"
)

// orderByClause renders zero or one ORDER BY clause. Sort attributes are
// validated as a whole: one unknown attribute discards the request and the
// default order applies.
func (c *Compiler) orderByClause(res *schema.Resource, qualifier string, sort *query.Sort) (string, []any) {
	fallback := defaultOrderBy(res, qualifier)
	if sort == nil {
		return fallback, nil
	}

	for _, attr := range sort.Attributes {
		if !res.HasColumn(attr) {
			c.logger.Warn("Unknown sort attribute, using default order",
				zap.String("resource", res.Name),
				zap.String("attribute", attr),
				zap.Strings("attributes", sort.Attributes),
			)
			return fallback, nil
		}
	}
	if len(sort.Attributes) == 0 {
		return fallback, nil
	}

	direction := "ASC"
	if sort.Descending() {
		direction = "DESC"
	}

	columns := make([]string, len(sort.Attributes))
	for i, attr := range sort.Attributes {
		columns[i] = qualifier + "." + attr
	}

	if sort.CustomSort != nil && len(sort.CustomSort.AttributeMap) > 0 {
		expr := columns[0]
		if len(columns) > 1 {
			expr = coalesce(columns)
		}
		var sb strings.Builder
		var params []any
		sb.WriteString("ORDER BY CASE " + expr)
		for _, m := range sort.CustomSort.AttributeMap {
			sb.WriteString(" WHEN ? THEN ?")
			params = append(params, query.SerializeValue(m.Value), query.SerializeValue(m.Priority))
		}
		sb.WriteString(" END " + direction)
		return sb.String(), params
	}

	if sort.IsCoalesced {
		expr := coalesce(columns)
		return "ORDER BY " + expr + " COLLATE NOCASE " + direction + ", " + expr + " " + direction, nil
	}

	// Case-insensitive first, then case-sensitive on the same columns so
	// uppercase wins ties deterministically.
	terms := make([]string, 0, 2*len(columns))
	for _, col := range columns {
		terms = append(terms, col+" COLLATE NOCASE "+direction)
	}
	for _, col := range columns {
		terms = append(terms, col+" "+direction)
	}
	return "ORDER BY " + strings.Join(terms, ", "), nil
}

func defaultOrderBy(res *schema.Resource, qualifier string) string {
	if !res.HasColumn(schema.DefaultSortColumn) {
		return ""
	}
	return "ORDER BY " + qualifier + "." + schema.DefaultSortColumn + " DESC"
}

func coalesce(columns []string) string {
	return "COALESCE(" + strings.Join(columns, ", ") + ")"
}
