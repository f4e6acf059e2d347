package sqlite

import (
	"fmt"
	"strings"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/asaidimu/mirrorql/core/schema"
)

// scope is the table or join alias conditions are qualified with.
type scope struct {
	resource  *schema.Resource
	qualifier string
}

func tableScope(r *schema.Resource) scope {
	return scope{resource: r, qualifier: quoteIdentifier(r.TableName())}
}

func (s scope) column(name string) string {
	return s.qualifier + "." + name
}

// filterConditions renders one parenthesized clause per filtered field of
// s in declaration order. At the position of the joins key it walks the
// join tree depth-first, appending each join's nested conditions in
// declaration order.
func (c *Compiler) filterConditions(s scope, filters *query.Filters, aliases *aliasAllocator) (fragment, []joinDescriptor, error) {
	var out fragment
	if filters.IsEmpty() {
		return out, nil, nil
	}

	addFields := func(fields []query.FieldFilter) error {
		for _, ff := range fields {
			if ff.Field == query.JoinsKey || len(ff.Conditions) == 0 {
				continue
			}
			clause, params, err := fieldCondition(s, ff)
			if err != nil {
				return err
			}
			out = out.with(clause, params...)
		}
		return nil
	}

	before, after := filters.Split()
	if err := addFields(before); err != nil {
		return fragment{}, nil, err
	}

	var joins []joinDescriptor
	for _, spec := range filters.Joins {
		node, err := c.resolveJoin(s, spec, aliases)
		if err != nil {
			return fragment{}, nil, err
		}
		joins = append(joins, node.descriptor)

		nested, nestedJoins, err := c.filterConditions(node.scope, spec.NestedFilters(), aliases)
		if err != nil {
			return fragment{}, nil, fmt.Errorf("join '%s': %w", node.descriptor.Alias, err)
		}
		out = out.concat(nested)
		joins = append(joins, nestedJoins...)
	}

	if err := addFields(after); err != nil {
		return fragment{}, nil, err
	}
	return out, joins, nil
}

// fieldCondition renders the clause for one field.
func fieldCondition(s scope, ff query.FieldFilter) (string, []any, error) {
	if err := ff.ValidateConditions(); err != nil {
		return "", nil, fmt.Errorf("field '%s': %w", ff.Field, err)
	}
	if !s.resource.HasColumn(ff.Field) {
		return "", nil, query.NewValidationError(query.UnknownColumn, s.resource.Name, "cannot filter on unknown column '%s'", ff.Field)
	}
	col := s.column(ff.Field)

	if collapsed, ok := ff.Collapse(); ok {
		return collapsedCondition(col, collapsed), collapsed.Values, nil
	}

	parts := make([]string, 0, len(ff.Conditions))
	var params []any
	for _, cond := range ff.Conditions {
		clause, p, err := conditionClause(s.resource.Name, col, cond)
		if err != nil {
			return "", nil, fmt.Errorf("field '%s': %w", ff.Field, err)
		}
		parts = append(parts, clause)
		params = append(params, p...)
	}

	joiner := " OR "
	if ff.Logical() == query.LogicalAnd {
		joiner = " AND "
	}
	return "(" + strings.Join(parts, joiner) + ")", params, nil
}

// collapsedCondition renders an IN / NOT IN membership test. SQL IN never
// matches NULL, so a null value adds an explicit IS [NOT] NULL branch.
func collapsedCondition(col string, c query.Collapsed) string {
	membership, nullTest := "IN", "IS NULL"
	if c.Negated {
		membership, nullTest = "NOT IN", "IS NOT NULL"
	}

	var parts []string
	if len(c.Values) > 0 {
		parts = append(parts, fmt.Sprintf("%s %s (%s)", col, membership, placeholders(len(c.Values))))
	}
	if c.HasNull {
		parts = append(parts, col+" "+nullTest)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// conditionClause translates a single condition into SQL.
func conditionClause(resource, col string, cond query.Condition) (string, []any, error) {
	switch cond.Operator {
	case query.OperatorEquals:
		if query.IsNull(cond.Value) {
			return col + " IS NULL", nil, nil
		}
		return col + " = ?", []any{query.SerializeValue(cond.Value)}, nil
	case query.OperatorNotEquals:
		if query.IsNull(cond.Value) {
			return col + " IS NOT NULL", nil, nil
		}
		return col + " != ?", []any{query.SerializeValue(cond.Value)}, nil
	case query.OperatorContains:
		if query.IsNull(cond.Value) {
			return "", nil, query.NewValidationError(query.InvalidFilter, resource, "contains requires a value")
		}
		return col + " LIKE ?", []any{"%" + fmt.Sprint(query.SerializeValue(cond.Value)) + "%"}, nil
	case query.OperatorGreaterThan:
		return col + " > ?", []any{query.SerializeValue(cond.Value)}, nil
	case query.OperatorGreaterThanOrEqual:
		return col + " >= ?", []any{query.SerializeValue(cond.Value)}, nil
	case query.OperatorLessThan:
		return col + " < ?", []any{query.SerializeValue(cond.Value)}, nil
	case query.OperatorLessThanOrEqual:
		return col + " <= ?", []any{query.SerializeValue(cond.Value)}, nil
	default:
		return "", nil, &query.UnknownOperatorError{Operator: string(cond.Operator)}
	}
}
