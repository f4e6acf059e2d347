package sqlite

import (
	"strings"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/asaidimu/mirrorql/core/schema"
)

// selectClause renders SELECT ... FROM "<table>".
//
// When any distinct column is an aggregate, distinct columns render one by
// one, counts as count(DISTINCT col), followed by the remaining columns.
// Without aggregates they render as one DISTINCT list.
func selectClause(res *schema.Resource, qualifier string, fields []query.SelectField) (string, error) {
	plan, err := query.PlanSelect(res, fields)
	if err != nil {
		return "", err
	}

	var columns []string
	switch {
	case plan.Aggregate:
		for _, f := range plan.Distinct {
			if !f.IsCount {
				columns = append(columns, withAlias(columnExpr(qualifier, f.Field), f.Alias))
				continue
			}
			columns = append(columns, withAlias("count(DISTINCT "+columnExpr(qualifier, f.Field)+")", f.Alias))
		}
		for _, f := range plan.Plain {
			columns = append(columns, renderColumn(qualifier, f))
		}
	case len(plan.Distinct) > 0:
		list := make([]string, 0, len(plan.Distinct))
		for _, f := range plan.Distinct {
			list = append(list, withAlias(columnExpr(qualifier, f.Field), f.Alias))
		}
		columns = append(columns, "DISTINCT "+strings.Join(list, ", "))
	default:
		for _, f := range plan.Plain {
			columns = append(columns, renderColumn(qualifier, f))
		}
	}

	return "SELECT " + strings.Join(columns, ", ") + " FROM " + qualifier, nil
}

// columnExpr qualifies field with the table unless it is the wildcard.
func columnExpr(qualifier, field string) string {
	if field == query.Wildcard {
		return query.Wildcard
	}
	return qualifier + "." + field
}

func renderColumn(qualifier string, f query.SelectField) string {
	expr := columnExpr(qualifier, f.Field)
	if f.IsCount {
		expr = "count(" + expr + ")"
	}
	return withAlias(expr, f.Alias)
}

func withAlias(expr, alias string) string {
	if alias == "" {
		return expr
	}
	return expr + " AS " + alias
}
