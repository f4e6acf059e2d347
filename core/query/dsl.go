// Package query defines the declarative description of a resource query:
// a search term, per-field filters with nested joins, a sort description
// and select/pagination options. Descriptions are JSON-serializable and are
// consumed both by the SQLite compiler and by the in-memory Evaluator.
package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Operator is a filter comparison operator. The set is closed: ParseOperator
// rejects anything else with an UnknownOperatorError.
type Operator string

// Supported comparison operators.
const (
	OperatorEquals             Operator = "equals"
	OperatorNotEquals          Operator = "notEquals"
	OperatorContains           Operator = "contains"
	OperatorGreaterThan        Operator = "gt"
	OperatorGreaterThanOrEqual Operator = "gte"
	OperatorLessThan           Operator = "lt"
	OperatorLessThanOrEqual    Operator = "lte"
)

var operators = map[Operator]struct{}{
	OperatorEquals:             {},
	OperatorNotEquals:          {},
	OperatorContains:           {},
	OperatorGreaterThan:        {},
	OperatorGreaterThanOrEqual: {},
	OperatorLessThan:           {},
	OperatorLessThanOrEqual:    {},
}

// ParseOperator returns the Operator named s.
func ParseOperator(s string) (Operator, error) {
	op := Operator(s)
	if !op.Valid() {
		return "", &UnknownOperatorError{Operator: s}
	}
	return op, nil
}

// Valid reports whether o is in the supported set.
func (o Operator) Valid() bool {
	_, ok := operators[o]
	return ok
}

// LogicalOperator combines the conditions declared for one field.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "and"
	LogicalOr  LogicalOperator = "or"
)

// JoinType is the SQL join flavour of a JoinSpec.
type JoinType string

const (
	JoinInner JoinType = "INNER"
	JoinLeft  JoinType = "LEFT"
	JoinRight JoinType = "RIGHT"
	JoinFull  JoinType = "FULL"
)

// ParseJoinType normalizes s, defaulting to INNER when empty.
func ParseJoinType(s string) (JoinType, error) {
	if s == "" {
		return JoinInner, nil
	}
	jt := JoinType(strings.ToUpper(s))
	switch jt {
	case JoinInner, JoinLeft, JoinRight, JoinFull:
		return jt, nil
	}
	return "", NewValidationError(InvalidJoin, "", "unsupported join type '%s'", s)
}

// JoinsKey is the reserved filters key holding join declarations.
const JoinsKey = "joins"

// DefaultJoinFrom is the parent column a join matches on when none is given.
const DefaultJoinFrom = "id"

// Condition is a single operator/value pair, encoded in JSON as an object
// with exactly one key: {"equals": "x"}.
type Condition struct {
	Operator Operator
	Value    any
}

// MarshalJSON encodes the condition as {"<operator>": value}.
func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{string(c.Operator): c.Value})
}

// UnmarshalJSON decodes {"<operator>": value}, rejecting unknown operators.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("filter condition must be an object: %w", err)
	}
	if len(raw) != 1 {
		return NewValidationError(InvalidFilter, "", "filter condition must have exactly one operator, got %d", len(raw))
	}
	for key, value := range raw {
		op, err := ParseOperator(key)
		if err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("invalid value for operator '%s': %w", key, err)
		}
		c.Operator = op
		c.Value = v
	}
	return nil
}

// FieldFilter holds the conditions declared for one column.
type FieldFilter struct {
	Field string
	// LogicalOperator combines Conditions; empty means "or".
	LogicalOperator LogicalOperator
	Conditions      []Condition
}

// Logical returns the effective logical operator.
func (f FieldFilter) Logical() LogicalOperator {
	if f.LogicalOperator == "" {
		return LogicalOr
	}
	return f.LogicalOperator
}

type fieldFilterObject struct {
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty"`
	Values          []Condition     `json:"values"`
}

// MarshalJSON emits the bare array form unless a logical operator is set.
func (f FieldFilter) MarshalJSON() ([]byte, error) {
	if f.LogicalOperator == "" {
		if f.Conditions == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(f.Conditions)
	}
	return json.Marshal(fieldFilterObject{LogicalOperator: f.LogicalOperator, Values: f.Conditions})
}

// UnmarshalJSON accepts a bare array of conditions or
// {"logicalOperator": "and"|"or", "values": [...]}. Field is left untouched.
func (f *FieldFilter) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		f.Conditions = nil
		return nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var conds []Condition
		if err := json.Unmarshal(trimmed, &conds); err != nil {
			return err
		}
		f.Conditions = conds
		return nil
	}

	var obj fieldFilterObject
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	switch obj.LogicalOperator {
	case "", LogicalAnd, LogicalOr:
	default:
		return NewValidationError(InvalidFilter, "", "field '%s': unsupported logical operator '%s'", f.Field, obj.LogicalOperator)
	}
	f.LogicalOperator = obj.LogicalOperator
	f.Conditions = obj.Values
	return nil
}

// JoinQuery is the nested query carried by a join. Only filters apply.
type JoinQuery struct {
	Filters *Filters `json:"filters,omitempty"`
}

// JoinSpec joins another resource and optionally filters on its columns.
type JoinSpec struct {
	Resource string     `json:"resource"`
	Query    *JoinQuery `json:"query,omitempty"`
	// JoinFrom is the parent column; defaults to "id".
	JoinFrom string `json:"joinFrom,omitempty"`
	// JoinOn is the column of the joined resource matched against JoinFrom.
	JoinOn   string   `json:"joinOn"`
	JoinType JoinType `json:"joinType,omitempty"`
}

// From returns the effective parent column.
func (j JoinSpec) From() string {
	if j.JoinFrom == "" {
		return DefaultJoinFrom
	}
	return j.JoinFrom
}

// NestedFilters returns the join's own filters, or nil.
func (j JoinSpec) NestedFilters() *Filters {
	if j.Query == nil {
		return nil
	}
	return j.Query.Filters
}

// Filters is the ordered set of field filters plus join declarations.
// Fields keep the order in which they were declared. Joins are processed
// together, in declaration order, at the position of the joins key.
type Filters struct {
	Fields []FieldFilter
	Joins  []JoinSpec
	// FieldsAfterJoins counts the trailing Fields declared after the joins
	// key. Zero processes joins after every field.
	FieldsAfterJoins int
}

// IsEmpty reports whether the filters declare nothing.
func (f *Filters) IsEmpty() bool {
	return f == nil || (len(f.Fields) == 0 && len(f.Joins) == 0)
}

// Split returns the fields declared before and after the joins key.
func (f *Filters) Split() (before, after []FieldFilter) {
	if f == nil {
		return nil, nil
	}
	n := min(max(len(f.Fields)-f.FieldsAfterJoins, 0), len(f.Fields))
	return f.Fields[:n], f.Fields[n:]
}

// MarshalJSON encodes the filters as an object, preserving key order.
func (f Filters) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	writeKey := func(key string) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		return nil
	}
	writeFields := func(fields []FieldFilter) error {
		for _, ff := range fields {
			value, err := json.Marshal(ff)
			if err != nil {
				return fmt.Errorf("field '%s': %w", ff.Field, err)
			}
			if err := writeKey(ff.Field); err != nil {
				return err
			}
			buf.Write(value)
		}
		return nil
	}

	before, after := f.Split()
	if err := writeFields(before); err != nil {
		return nil, err
	}
	if len(f.Joins) > 0 {
		joins, err := json.Marshal(f.Joins)
		if err != nil {
			return nil, err
		}
		if err := writeKey(JoinsKey); err != nil {
			return nil, err
		}
		buf.Write(joins)
	}
	if err := writeFields(after); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a filters object, preserving the declaration order
// of its keys.
func (f *Filters) UnmarshalJSON(data []byte) error {
	var out Filters
	joinsAt := -1
	err := decodeOrderedObject(data, func(key string, value json.RawMessage) error {
		if key == JoinsKey {
			if err := json.Unmarshal(value, &out.Joins); err != nil {
				return fmt.Errorf("invalid joins: %w", err)
			}
			joinsAt = len(out.Fields)
			return nil
		}
		ff := FieldFilter{Field: key}
		if err := json.Unmarshal(value, &ff); err != nil {
			return fmt.Errorf("invalid filter for field '%s': %w", key, err)
		}
		out.Fields = append(out.Fields, ff)
		return nil
	})
	if err != nil {
		return err
	}
	if joinsAt >= 0 {
		out.FieldsAfterJoins = len(out.Fields) - joinsAt
	}
	*f = out
	return nil
}

// Search is the full-text search term. In JSON it is either a bare string or
// {"text": "...", "fields": [...]}.
type Search struct {
	Text   string
	Fields []string
}

type searchObject struct {
	Text   string   `json:"text,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

func (s Search) MarshalJSON() ([]byte, error) {
	if len(s.Fields) == 0 {
		return json.Marshal(s.Text)
	}
	return json.Marshal(searchObject{Text: s.Text, Fields: s.Fields})
}

func (s *Search) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*s = Search{Text: text}
		return nil
	}
	var obj searchObject
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return fmt.Errorf("search must be a string or an object: %w", err)
	}
	*s = Search{Text: obj.Text, Fields: obj.Fields}
	return nil
}

// SortDirection is the direction of a sort.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Mapping remaps one raw column value to a sort priority.
type Mapping struct {
	Value    any
	Priority any
}

// AttributeMap is an ordered value → priority map. JSON form is an object
// whose keys are the raw values.
type AttributeMap []Mapping

func (m AttributeMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(fmt.Sprint(entry.Value))
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(entry.Priority)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *AttributeMap) UnmarshalJSON(data []byte) error {
	var out AttributeMap
	err := decodeOrderedObject(data, func(key string, value json.RawMessage) error {
		var priority any
		if err := json.Unmarshal(value, &priority); err != nil {
			return fmt.Errorf("invalid priority for '%s': %w", key, err)
		}
		out = append(out, Mapping{Value: key, Priority: priority})
		return nil
	})
	if err != nil {
		return err
	}
	*m = out
	return nil
}

// CustomSort lets callers order by an arbitrary priority of raw values.
type CustomSort struct {
	AttributeMap AttributeMap `json:"attributeMap"`
}

// Sort describes the ordering of a query.
type Sort struct {
	Attributes  []string      `json:"attributes,omitempty"`
	CustomSort  *CustomSort   `json:"customSort,omitempty"`
	Direction   SortDirection `json:"direction,omitempty"`
	IsCoalesced bool          `json:"isCoalesced,omitempty"`
}

// Descending reports whether the sort runs descending. Anything other than
// exactly "desc" sorts ascending.
func (s *Sort) Descending() bool {
	return s != nil && s.Direction == SortDesc
}

// Description is the complete declarative query for one resource.
type Description struct {
	Search  *Search  `json:"search,omitempty"`
	Filters *Filters `json:"filters,omitempty"`
	Sort    *Sort    `json:"sort,omitempty"`
}

// SelectField is one projected column.
type SelectField struct {
	Field      string `json:"field" mapstructure:"field"`
	IsCount    bool   `json:"isCount,omitempty" mapstructure:"isCount"`
	IsDistinct bool   `json:"isDistinct,omitempty" mapstructure:"isDistinct"`
	Alias      string `json:"alias,omitempty" mapstructure:"alias"`
}

// Wildcard selects every column.
const Wildcard = "*"

// DefaultSelect is the projection used when none is given.
func DefaultSelect() []SelectField {
	return []SelectField{{Field: Wildcard}}
}

// Options carries the select and pagination parameters of a query.
type Options struct {
	Page     int           `json:"page,omitempty" mapstructure:"page"`
	PageSize int           `json:"pageSize,omitempty" mapstructure:"pageSize"`
	Select   []SelectField `json:"select,omitempty" mapstructure:"select"`
}

// Paginated reports whether both page and pageSize are set.
func (o Options) Paginated() bool {
	return o.Page != 0 && o.PageSize != 0
}

// Offset returns the row offset of the requested page.
func (o Options) Offset() int {
	return (o.Page - 1) * o.PageSize
}

// Compiled is a parameterized statement. Parameters line up one-to-one with
// the '?' placeholders of SQL, in order.
type Compiled struct {
	SQL        string `json:"sql"`
	Parameters []any  `json:"parameters"`
}

// decodeOrderedObject walks the keys of a JSON object in document order.
func decodeOrderedObject(data []byte, fn func(key string, value json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected a JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected an object key, got %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("key '%s': %w", key, err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}
