package query

import "github.com/asaidimu/mirrorql/core/schema"

// Collapsed is a field filter rewritten as a single IN / NOT IN membership
// test plus an optional NULL branch.
type Collapsed struct {
	// Negated selects NOT IN / IS NOT NULL.
	Negated bool
	// Values are the serialized non-null values, in encounter order.
	Values []any
	// HasNull is set when some condition compared against null.
	HasNull bool
}

// Collapse reports whether the filter qualifies for the IN / NOT IN rewrite:
// more than one condition, all sharing one operator that is equals or
// notEquals.
func (f FieldFilter) Collapse() (Collapsed, bool) {
	if len(f.Conditions) < 2 {
		return Collapsed{}, false
	}
	op := f.Conditions[0].Operator
	if op != OperatorEquals && op != OperatorNotEquals {
		return Collapsed{}, false
	}
	for _, c := range f.Conditions[1:] {
		if c.Operator != op {
			return Collapsed{}, false
		}
	}

	out := Collapsed{Negated: op == OperatorNotEquals}
	for _, c := range f.Conditions {
		if IsNull(c.Value) {
			out.HasNull = true
			continue
		}
		out.Values = append(out.Values, SerializeValue(c.Value))
	}
	return out, true
}

// ValidateConditions checks every operator of the filter against the
// supported set. Conditions built in Go bypass ParseOperator, so consumers
// call this before translating.
func (f FieldFilter) ValidateConditions() error {
	for _, c := range f.Conditions {
		if !c.Operator.Valid() {
			return &UnknownOperatorError{Operator: string(c.Operator)}
		}
	}
	switch f.LogicalOperator {
	case "", LogicalAnd, LogicalOr:
		return nil
	}
	return NewValidationError(InvalidFilter, "", "field '%s': unsupported logical operator '%s'", f.Field, f.LogicalOperator)
}

// SelectPlan is a validated projection, partitioned into distinct and
// plain columns.
type SelectPlan struct {
	Distinct []SelectField
	Plain    []SelectField
	// Aggregate is set when some distinct column is a count. Every distinct
	// column then renders on its own: counts as count(DISTINCT col), the
	// rest as the bare column.
	Aggregate bool
}

// PlanSelect validates fields against res and partitions them. An empty
// projection selects the wildcard.
func PlanSelect(res *schema.Resource, fields []SelectField) (SelectPlan, error) {
	if len(fields) == 0 {
		fields = DefaultSelect()
	}

	var plan SelectPlan
	for _, f := range fields {
		if f.Field != Wildcard && !res.HasColumn(f.Field) {
			return SelectPlan{}, NewValidationError(UnknownColumn, res.Name, "cannot select unknown column '%s'", f.Field)
		}
		if f.Alias != "" && !schema.ValidIdentifier(f.Alias) {
			return SelectPlan{}, NewValidationError(InvalidIdentifier, res.Name, "alias '%s' is not a valid identifier", f.Alias)
		}
		if f.Field == Wildcard && f.Alias != "" && !f.IsCount {
			return SelectPlan{}, NewValidationError(InvalidIdentifier, res.Name, "the wildcard cannot be aliased")
		}
		if f.IsDistinct {
			plan.Distinct = append(plan.Distinct, f)
			plan.Aggregate = plan.Aggregate || f.IsCount
		} else {
			plan.Plain = append(plan.Plain, f)
		}
	}

	switch {
	case plan.Aggregate:
		for _, f := range plan.Distinct {
			if f.IsCount && f.Field == Wildcard {
				return SelectPlan{}, NewValidationError(ConflictingSelect, res.Name, "count(DISTINCT *) is not valid")
			}
		}
	case len(plan.Distinct) > 0 && len(plan.Plain) > 0:
		return SelectPlan{}, NewValidationError(ConflictingSelect, res.Name,
			"DISTINCT on %d column(s) cannot be combined with %d non-distinct column(s)", len(plan.Distinct), len(plan.Plain))
	}
	return plan, nil
}

// Counts reports whether the projection aggregates rows.
func (p SelectPlan) Counts() bool {
	if p.Aggregate {
		return true
	}
	for _, f := range p.Plain {
		if f.IsCount {
			return true
		}
	}
	return false
}
