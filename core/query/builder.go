// Package query provides a fluent API for building query Descriptions and
// their Options. The builder is a convenience for Go callers; JSON callers
// decode a Description directly.
package query

import (
	"encoding/json"
	"fmt"
)

// QueryBuilder provides a fluent and intuitive API for building Descriptions.
type QueryBuilder struct {
	desc Description
	opts Options
}

// NewQueryBuilder creates a new, empty query builder instance.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// Build returns the constructed Description.
func (qb *QueryBuilder) Build() Description {
	return qb.desc
}

// Options returns the constructed select and pagination options.
func (qb *QueryBuilder) Options() Options {
	return qb.opts
}

// Clone creates a deep copy of the builder so derived queries never share
// slices with the original.
func (qb *QueryBuilder) Clone() *QueryBuilder {
	clone := &QueryBuilder{opts: qb.opts}
	clone.opts.Select = append([]SelectField(nil), qb.opts.Select...)
	if qb.desc.Search != nil {
		s := *qb.desc.Search
		s.Fields = append([]string(nil), s.Fields...)
		clone.desc.Search = &s
	}
	clone.desc.Filters = cloneFilters(qb.desc.Filters)
	if qb.desc.Sort != nil {
		s := *qb.desc.Sort
		s.Attributes = append([]string(nil), s.Attributes...)
		if s.CustomSort != nil {
			cs := CustomSort{AttributeMap: append(AttributeMap(nil), s.CustomSort.AttributeMap...)}
			s.CustomSort = &cs
		}
		clone.desc.Sort = &s
	}
	return clone
}

func cloneFilters(f *Filters) *Filters {
	if f == nil {
		return nil
	}
	out := &Filters{FieldsAfterJoins: f.FieldsAfterJoins}
	for _, ff := range f.Fields {
		ff.Conditions = append([]Condition(nil), ff.Conditions...)
		out.Fields = append(out.Fields, ff)
	}
	for _, j := range f.Joins {
		if j.Query != nil {
			j.Query = &JoinQuery{Filters: cloneFilters(j.Query.Filters)}
		}
		out.Joins = append(out.Joins, j)
	}
	return out
}

// Reset clears all configuration from the builder.
func (qb *QueryBuilder) Reset() *QueryBuilder {
	qb.desc = Description{}
	qb.opts = Options{}
	return qb
}

// Search sets a prefix search term. With fields, the term is matched against
// each listed column.
func (qb *QueryBuilder) Search(text string, fields ...string) *QueryBuilder {
	qb.desc.Search = &Search{Text: text, Fields: fields}
	return qb
}

func (qb *QueryBuilder) filters() *Filters {
	if qb.desc.Filters == nil {
		qb.desc.Filters = &Filters{}
	}
	return qb.desc.Filters
}

// fieldFilter returns the filter declared for field, creating it on first use.
func fieldFilter(f *Filters, field string) *FieldFilter {
	for i := range f.Fields {
		if f.Fields[i].Field == field {
			return &f.Fields[i]
		}
	}
	f.Fields = append(f.Fields, FieldFilter{Field: field})
	return &f.Fields[len(f.Fields)-1]
}

// Where begins a condition on field. Repeated calls for the same field add
// to its condition list, combined with OR unless MatchAll is used.
func (qb *QueryBuilder) Where(field string) *FilterConditionBuilder[*QueryBuilder] {
	return &FilterConditionBuilder[*QueryBuilder]{
		filters: qb.filters(),
		field:   field,
		parent:  qb,
	}
}

// MatchAll combines the conditions of field with AND.
func (qb *QueryBuilder) MatchAll(field string) *QueryBuilder {
	fieldFilter(qb.filters(), field).LogicalOperator = LogicalAnd
	return qb
}

// MatchAny combines the conditions of field with OR.
func (qb *QueryBuilder) MatchAny(field string) *QueryBuilder {
	fieldFilter(qb.filters(), field).LogicalOperator = LogicalOr
	return qb
}

// FilterConditionBuilder adds a single condition to a field and returns to
// its parent builder.
type FilterConditionBuilder[P any] struct {
	filters *Filters
	field   string
	parent  P
}

// Equals adds an equality condition. A nil value matches NULL.
func (fcb *FilterConditionBuilder[P]) Equals(value any) P {
	return fcb.addCondition(OperatorEquals, value)
}

// NotEquals adds an inequality condition. A nil value matches NOT NULL.
func (fcb *FilterConditionBuilder[P]) NotEquals(value any) P {
	return fcb.addCondition(OperatorNotEquals, value)
}

// In adds one equality condition per value.
func (fcb *FilterConditionBuilder[P]) In(values ...any) P {
	for _, v := range values {
		fcb.addCondition(OperatorEquals, v)
	}
	return fcb.parent
}

// NotIn adds one inequality condition per value.
func (fcb *FilterConditionBuilder[P]) NotIn(values ...any) P {
	for _, v := range values {
		fcb.addCondition(OperatorNotEquals, v)
	}
	return fcb.parent
}

// Contains adds a substring condition.
func (fcb *FilterConditionBuilder[P]) Contains(value any) P {
	return fcb.addCondition(OperatorContains, value)
}

// Gt adds a greater-than condition.
func (fcb *FilterConditionBuilder[P]) Gt(value any) P {
	return fcb.addCondition(OperatorGreaterThan, value)
}

// Gte adds a greater-than-or-equal condition.
func (fcb *FilterConditionBuilder[P]) Gte(value any) P {
	return fcb.addCondition(OperatorGreaterThanOrEqual, value)
}

// Lt adds a less-than condition.
func (fcb *FilterConditionBuilder[P]) Lt(value any) P {
	return fcb.addCondition(OperatorLessThan, value)
}

// Lte adds a less-than-or-equal condition.
func (fcb *FilterConditionBuilder[P]) Lte(value any) P {
	return fcb.addCondition(OperatorLessThanOrEqual, value)
}

// IsNull matches rows where the field is NULL.
func (fcb *FilterConditionBuilder[P]) IsNull() P {
	return fcb.addCondition(OperatorEquals, nil)
}

// IsNotNull matches rows where the field is not NULL.
func (fcb *FilterConditionBuilder[P]) IsNotNull() P {
	return fcb.addCondition(OperatorNotEquals, nil)
}

func (fcb *FilterConditionBuilder[P]) addCondition(op Operator, value any) P {
	ff := fieldFilter(fcb.filters, fcb.field)
	ff.Conditions = append(ff.Conditions, Condition{Operator: op, Value: value})
	return fcb.parent
}

// JoinBuilder builds a join declaration and its nested filters.
type JoinBuilder struct {
	parent  *QueryBuilder
	outer   *JoinBuilder
	owner   *Filters
	spec    JoinSpec
	filters *Filters
}

// Join begins an INNER join on resource, matching parent.id to resource.joinOn.
func (qb *QueryBuilder) Join(resource, joinOn string) *JoinBuilder {
	return &JoinBuilder{
		parent: qb,
		owner:  qb.filters(),
		spec:   JoinSpec{Resource: resource, JoinOn: joinOn},
	}
}

// LeftJoin begins a LEFT join on resource.
func (qb *QueryBuilder) LeftJoin(resource, joinOn string) *JoinBuilder {
	return qb.Join(resource, joinOn).Type(JoinLeft)
}

// From sets the parent column of the join.
func (jb *JoinBuilder) From(column string) *JoinBuilder {
	jb.spec.JoinFrom = column
	return jb
}

// Type sets the join type.
func (jb *JoinBuilder) Type(t JoinType) *JoinBuilder {
	jb.spec.JoinType = t
	return jb
}

// Where adds a condition on a column of the joined resource.
func (jb *JoinBuilder) Where(field string) *FilterConditionBuilder[*JoinBuilder] {
	if jb.filters == nil {
		jb.filters = &Filters{}
	}
	return &FilterConditionBuilder[*JoinBuilder]{
		filters: jb.filters,
		field:   field,
		parent:  jb,
	}
}

// MatchAll combines the joined resource's conditions on field with AND.
func (jb *JoinBuilder) MatchAll(field string) *JoinBuilder {
	if jb.filters == nil {
		jb.filters = &Filters{}
	}
	fieldFilter(jb.filters, field).LogicalOperator = LogicalAnd
	return jb
}

// Join nests a further join under this one.
func (jb *JoinBuilder) Join(resource, joinOn string) *JoinBuilder {
	if jb.filters == nil {
		jb.filters = &Filters{}
	}
	return &JoinBuilder{
		parent: jb.parent,
		outer:  jb,
		owner:  jb.filters,
		spec:   JoinSpec{Resource: resource, JoinOn: joinOn},
	}
}

func (jb *JoinBuilder) finish() {
	if jb.filters != nil {
		jb.spec.Query = &JoinQuery{Filters: jb.filters}
	}
	jb.owner.Joins = append(jb.owner.Joins, jb.spec)
}

// End finalizes the join and returns to the query builder.
func (jb *JoinBuilder) End() *QueryBuilder {
	jb.finish()
	return jb.parent
}

// EndNested finalizes a nested join and returns to the enclosing join.
func (jb *JoinBuilder) EndNested() *JoinBuilder {
	jb.finish()
	if jb.outer == nil {
		return jb
	}
	return jb.outer
}

func (qb *QueryBuilder) sort() *Sort {
	if qb.desc.Sort == nil {
		qb.desc.Sort = &Sort{}
	}
	return qb.desc.Sort
}

// OrderBy sorts on the given attributes, ascending.
func (qb *QueryBuilder) OrderBy(attributes ...string) *QueryBuilder {
	s := qb.sort()
	s.Attributes = append(s.Attributes, attributes...)
	if s.Direction == "" {
		s.Direction = SortAsc
	}
	return qb
}

// OrderByDesc sorts on the given attributes, descending.
func (qb *QueryBuilder) OrderByDesc(attributes ...string) *QueryBuilder {
	qb.OrderBy(attributes...)
	qb.desc.Sort.Direction = SortDesc
	return qb
}

// Coalesce orders on the first non-null of the sort attributes.
func (qb *QueryBuilder) Coalesce() *QueryBuilder {
	qb.sort().IsCoalesced = true
	return qb
}

// OrderByPriority orders on attribute by remapping raw values to priorities.
func (qb *QueryBuilder) OrderByPriority(attribute string, mappings ...Mapping) *QueryBuilder {
	s := qb.sort()
	s.Attributes = append(s.Attributes, attribute)
	s.CustomSort = &CustomSort{AttributeMap: append(AttributeMap(nil), mappings...)}
	return qb
}

// Page requests one page of pageSize rows, counting pages from 1.
func (qb *QueryBuilder) Page(page, pageSize int) *QueryBuilder {
	qb.opts.Page = page
	qb.opts.PageSize = pageSize
	return qb
}

// Select adds plain columns to the projection.
func (qb *QueryBuilder) Select(fields ...string) *QueryBuilder {
	for _, f := range fields {
		qb.opts.Select = append(qb.opts.Select, SelectField{Field: f})
	}
	return qb
}

// SelectAs adds a column projected under alias.
func (qb *QueryBuilder) SelectAs(field, alias string) *QueryBuilder {
	qb.opts.Select = append(qb.opts.Select, SelectField{Field: field, Alias: alias})
	return qb
}

// Distinct adds columns to a DISTINCT projection.
func (qb *QueryBuilder) Distinct(fields ...string) *QueryBuilder {
	for _, f := range fields {
		qb.opts.Select = append(qb.opts.Select, SelectField{Field: f, IsDistinct: true})
	}
	return qb
}

// Count adds a count(field) aggregate.
func (qb *QueryBuilder) Count(field, alias string) *QueryBuilder {
	qb.opts.Select = append(qb.opts.Select, SelectField{Field: field, IsCount: true, Alias: alias})
	return qb
}

// CountDistinct adds a count(DISTINCT field) aggregate.
func (qb *QueryBuilder) CountDistinct(field, alias string) *QueryBuilder {
	qb.opts.Select = append(qb.opts.Select, SelectField{Field: field, IsCount: true, IsDistinct: true, Alias: alias})
	return qb
}

// String returns the JSON form of the description, for logging and debugging.
func (qb *QueryBuilder) String() string {
	data, err := json.Marshal(qb.desc)
	if err != nil {
		return fmt.Sprintf("<invalid query: %v>", err)
	}
	return string(data)
}
