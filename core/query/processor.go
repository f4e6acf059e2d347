package query

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/asaidimu/mirrorql/core/schema"
	"go.uber.org/zap"
)

// Source returns every document of a resource. The Evaluator consults it to
// resolve joins.
type Source func(resource string) ([]schema.Document, error)

// Evaluator applies a Description to in-memory documents with the same
// filter, search, sort and pagination semantics as the compiled SQL, without
// going through SQL text. Values compare the way SQLite compares the stored
// primitives: NULL never matches a comparison, numbers sort before text,
// and text compares bytewise. Operands compared against a column first
// take on the column's type affinity, as SQLite applies it to bound
// parameters.
//
// Joins evaluate as semi-joins: a document is kept when some related
// document satisfies the join condition and its nested filters, and base
// documents are returned once rather than once per joined row.
type Evaluator struct {
	schema *schema.Table
	source Source
	logger *zap.Logger
}

// NewEvaluator creates a new Evaluator. source may be nil when no
// description uses joins.
func NewEvaluator(table *schema.Table, source Source, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{schema: table, source: source, logger: logger}
}

// evaluation carries the per-call state of Apply.
type evaluation struct {
	*Evaluator
	related map[string][]schema.Document
}

// Apply filters, searches, sorts, projects and paginates docs, which are the
// documents of resource. The input slice is not modified.
func (e *Evaluator) Apply(resource string, docs []schema.Document, desc *Description, opts Options) ([]schema.Document, error) {
	res, ok := e.schema.Lookup(resource)
	if !ok {
		return nil, NewValidationError(UnsupportedResource, resource, "resource is not in the schema table")
	}
	if desc == nil {
		desc = &Description{}
	}
	if opts.Page < 0 || opts.PageSize < 0 {
		return nil, NewValidationError(InvalidPagination, resource,
			"page (%d) and pageSize (%d) cannot be negative", opts.Page, opts.PageSize)
	}
	plan, err := PlanSelect(res, opts.Select)
	if err != nil {
		return nil, err
	}
	search, err := searchFields(res, desc.Search)
	if err != nil {
		return nil, err
	}

	ev := &evaluation{Evaluator: e, related: make(map[string][]schema.Document)}
	kept := make([]schema.Document, 0, len(docs))
	for _, doc := range docs {
		match, err := ev.matchFilters(res, doc, desc.Filters)
		if err != nil {
			return nil, fmt.Errorf("error evaluating filters: %w", err)
		}
		if match && (search == nil || matchSearch(doc, desc.Search.Text, search)) {
			kept = append(kept, doc)
		}
	}
	e.logger.Debug("Documents remaining after filters", zap.String("resource", resource), zap.Int("count", len(kept)))

	e.sortDocuments(res, kept, desc.Sort)

	var rows []schema.Document
	if plan.Counts() {
		rows = []schema.Document{aggregate(plan, kept)}
	} else {
		rows = project(plan, kept)
	}
	return paginate(rows, opts), nil
}

// Match reports whether a single document of resource passes the filters
// and search of desc.
func (e *Evaluator) Match(resource string, doc schema.Document, desc *Description) (bool, error) {
	out, err := e.Apply(resource, []schema.Document{doc}, &Description{Search: desc.Search, Filters: desc.Filters}, Options{})
	if err != nil {
		return false, err
	}
	return len(out) == 1, nil
}

// relatedDocuments loads the documents of a joined resource once per Apply.
func (ev *evaluation) relatedDocuments(resource string) ([]schema.Document, error) {
	if docs, ok := ev.related[resource]; ok {
		return docs, nil
	}
	if ev.source == nil {
		return nil, fmt.Errorf("no document source for joined resource '%s'", resource)
	}
	docs, err := ev.source(resource)
	if err != nil {
		return nil, fmt.Errorf("failed to load joined resource '%s': %w", resource, err)
	}
	ev.related[resource] = docs
	return docs, nil
}

func (ev *evaluation) matchFilters(res *schema.Resource, doc schema.Document, filters *Filters) (bool, error) {
	if filters.IsEmpty() {
		return true, nil
	}
	matchFields := func(fields []FieldFilter) (bool, error) {
		for _, ff := range fields {
			if ff.Field == JoinsKey || len(ff.Conditions) == 0 {
				continue
			}
			if err := ff.ValidateConditions(); err != nil {
				return false, fmt.Errorf("field '%s': %w", ff.Field, err)
			}
			if !res.HasColumn(ff.Field) {
				return false, NewValidationError(UnknownColumn, res.Name, "cannot filter on unknown column '%s'", ff.Field)
			}
			ok, err := matchField(res.Name, columnAffinity(res.Column(ff.Field)), doc[ff.Field], ff)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}

	before, after := filters.Split()
	if ok, err := matchFields(before); err != nil || !ok {
		return false, err
	}
	for _, spec := range filters.Joins {
		ok, err := ev.matchJoin(res, doc, spec)
		if err != nil || !ok {
			return false, err
		}
	}
	return matchFields(after)
}

func (ev *evaluation) matchJoin(parent *schema.Resource, doc schema.Document, spec JoinSpec) (bool, error) {
	target, ok := ev.schema.Lookup(spec.Resource)
	if !ok {
		return false, NewValidationError(UnsupportedResource, spec.Resource, "cannot join a resource that is not in the schema table")
	}
	joinType, err := ParseJoinType(string(spec.JoinType))
	if err != nil {
		return false, err
	}
	if !parent.HasColumn(spec.From()) {
		return false, NewValidationError(UnknownColumn, parent.Name, "join column '%s' does not exist", spec.From())
	}
	if spec.JoinOn == "" {
		return false, NewValidationError(InvalidJoin, spec.Resource, "joinOn is required")
	}
	if !target.HasColumn(spec.JoinOn) {
		return false, NewValidationError(UnknownColumn, target.Name, "join column '%s' does not exist", spec.JoinOn)
	}

	related, err := ev.relatedDocuments(target.Name)
	if err != nil {
		return false, err
	}

	fromAff := columnAffinity(parent.Column(spec.From()))
	onAff := columnAffinity(target.Column(spec.JoinOn))
	matched := false
	for _, r := range related {
		if !sqlEqual(affinityOperands(fromAff, doc[spec.From()], onAff, r[spec.JoinOn])) {
			continue
		}
		matched = true
		ok, err := ev.matchFilters(target, r, spec.NestedFilters())
		if err != nil || ok {
			return ok, err
		}
	}

	// An outer join with no partner row pairs the document with NULLs.
	if !matched && (joinType == JoinLeft || joinType == JoinFull) {
		return ev.matchFilters(target, schema.Document{}, spec.NestedFilters())
	}
	return false, nil
}

// matchField evaluates one field filter against value, including the
// IN / NOT IN rewrite applied by the compiler.
func matchField(resource string, aff affinity, value any, ff FieldFilter) (bool, error) {
	if c, ok := ff.Collapse(); ok {
		null := IsNull(value)
		member := false
		if !null {
			for _, v := range c.Values {
				if sqlEqual(value, aff.apply(v)) {
					member = true
					break
				}
			}
		}
		if c.Negated {
			return (len(c.Values) > 0 && !null && !member) || (c.HasNull && !null), nil
		}
		return member || (c.HasNull && null), nil
	}

	and := ff.Logical() == LogicalAnd
	for _, cond := range ff.Conditions {
		ok, err := matchCondition(resource, aff, value, cond)
		if err != nil {
			return false, err
		}
		if and && !ok {
			return false, nil
		}
		if !and && ok {
			return true, nil
		}
	}
	return and, nil
}

func matchCondition(resource string, aff affinity, value any, cond Condition) (bool, error) {
	switch cond.Operator {
	case OperatorEquals:
		if IsNull(cond.Value) {
			return IsNull(value), nil
		}
		return sqlEqual(value, aff.apply(cond.Value)), nil
	case OperatorNotEquals:
		if IsNull(cond.Value) {
			return !IsNull(value), nil
		}
		return !IsNull(value) && !sqlEqual(value, aff.apply(cond.Value)), nil
	case OperatorContains:
		if IsNull(cond.Value) {
			return false, NewValidationError(InvalidFilter, resource, "contains requires a value")
		}
		if IsNull(value) {
			return false, nil
		}
		return like(textOf(value), "%"+textOf(cond.Value)+"%"), nil
	case OperatorGreaterThan, OperatorGreaterThanOrEqual, OperatorLessThan, OperatorLessThanOrEqual:
		if IsNull(value) || IsNull(cond.Value) {
			return false, nil
		}
		n := compareValues(value, aff.apply(cond.Value), false)
		switch cond.Operator {
		case OperatorGreaterThan:
			return n > 0, nil
		case OperatorGreaterThanOrEqual:
			return n >= 0, nil
		case OperatorLessThan:
			return n < 0, nil
		default:
			return n <= 0, nil
		}
	default:
		return false, &UnknownOperatorError{Operator: string(cond.Operator)}
	}
}

// normalize reduces a value to the primitive SQLite would store: dates
// become ISO-8601 text, booleans become 0/1, numbers become float64.
func normalize(v any) any {
	v = SerializeValue(v)
	switch val := v.(type) {
	case bool:
		if val {
			return float64(1)
		}
		return float64(0)
	case string:
		return val
	case []byte:
		return string(val)
	}
	if isNumeric(v) {
		f, _ := ToFloat64(v)
		return f
	}
	return v
}

// affinity is the SQLite type affinity of a declared column.
type affinity int

const (
	affinityNone affinity = iota
	affinityText
	affinityNumeric
)

// columnAffinity mirrors the column types the mirror tables are created
// with: TEXT for strings, dates and objects, INTEGER or REAL otherwise.
func columnAffinity(c *schema.Column) affinity {
	if c == nil {
		return affinityNone
	}
	switch c.Type {
	case schema.FieldTypeString, schema.FieldTypeDateTime, schema.FieldTypeObject:
		return affinityText
	case schema.FieldTypeNumber, schema.FieldTypeInteger, schema.FieldTypeBoolean:
		return affinityNumeric
	}
	return affinityNone
}

// apply converts an operand that has no affinity of its own before it is
// compared against a column: numeric columns turn well-formed numeric text
// into numbers, text columns render numbers as text.
func (a affinity) apply(v any) any {
	v = SerializeValue(v)
	switch a {
	case affinityNumeric:
		if s, ok := v.(string); ok {
			if f, ok := numericText(s); ok {
				return f
			}
		}
	case affinityText:
		switch val := v.(type) {
		case bool:
			if val {
				return "1"
			}
			return "0"
		case float32:
			return realText(float64(val))
		case float64:
			return realText(val)
		}
		if isNumeric(v) {
			return fmt.Sprint(v)
		}
	}
	return v
}

// affinityOperands converts one side of a column-to-column comparison.
// Numeric affinity wins over text, and text wins over none.
func affinityOperands(left affinity, l any, right affinity, r any) (any, any) {
	switch {
	case left == affinityNumeric && right != affinityNumeric:
		r = left.apply(r)
	case right == affinityNumeric && left != affinityNumeric:
		l = right.apply(l)
	case left == affinityText && right == affinityNone:
		r = left.apply(r)
	case right == affinityText && left == affinityNone:
		l = right.apply(l)
	}
	return l, r
}

// numericText parses s when it is a decimal integer or real literal.
func numericText(s string) (float64, bool) {
	t := strings.TrimSpace(s)
	if t == "" || strings.ContainsAny(t, "xXnNiI_") {
		return 0, false
	}
	f, err := strconv.ParseFloat(t, 64)
	return f, err == nil
}

// realText renders f the way SQLite converts a REAL to TEXT.
func realText(f float64) string {
	s := strconv.FormatFloat(f, 'g', 15, 64)
	if !strings.ContainsAny(s, ".eIN") {
		s += ".0"
	}
	return s
}

// storageClass orders values the way SQLite orders storage classes.
func storageClass(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	default:
		return 3
	}
}

// compareValues orders a and b with NULLs first. nocase folds ASCII
// letters before comparing text.
func compareValues(a, b any, nocase bool) int {
	a, b = normalize(a), normalize(b)
	ca, cb := storageClass(a), storageClass(b)
	if ca != cb {
		return ca - cb
	}
	switch av := a.(type) {
	case nil:
		return 0
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		bv := b.(string)
		if nocase {
			av, bv = foldASCII(av), foldASCII(bv)
		}
		return strings.Compare(av, bv)
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// sqlEqual is SQL '=': false whenever either side is NULL.
func sqlEqual(a, b any) bool {
	if IsNull(a) || IsNull(b) {
		return false
	}
	return compareValues(a, b, false) == 0
}

func textOf(v any) string {
	switch val := normalize(v).(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprint(val)
	default:
		return fmt.Sprint(val)
	}
}

func foldASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}

// like matches s against a SQL LIKE pattern: '%' is any run, '_' any one
// character, and ASCII letters compare case-insensitively.
func like(s, pattern string) bool {
	text, pat := []rune(foldASCII(s)), []rune(foldASCII(pattern))
	ti, pi := 0, 0
	star, mark := -1, 0
	for ti < len(text) {
		switch {
		case pi < len(pat) && (pat[pi] == '_' || pat[pi] == text[ti]):
			ti++
			pi++
		case pi < len(pat) && pat[pi] == '%':
			star, mark = pi, ti
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			ti = mark
		default:
			return false
		}
	}
	for pi < len(pat) && pat[pi] == '%' {
		pi++
	}
	return pi == len(pat)
}

// searchFields returns the columns a search runs over, or nil when the
// search does not apply.
func searchFields(res *schema.Resource, search *Search) ([]string, error) {
	if search == nil || search.Text == "" || !res.Searchable() {
		return nil, nil
	}
	if len(search.Fields) == 0 {
		return res.SearchColumns, nil
	}
	for _, f := range search.Fields {
		if !res.IsSearchColumn(f) {
			return nil, NewValidationError(UnknownColumn, res.Name, "column '%s' is not full-text indexed", f)
		}
	}
	return search.Fields, nil
}

// tokenize splits text the way the default FTS tokenizer does: runs of
// letters and digits, lowercased.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// matchSearch reports whether any of fields contains the search text as a
// phrase whose last token may be a prefix.
func matchSearch(doc schema.Document, text string, fields []string) bool {
	phrase := tokenize(text)
	if len(phrase) == 0 {
		return false
	}
	for _, f := range fields {
		if IsNull(doc[f]) {
			continue
		}
		tokens := tokenize(textOf(doc[f]))
		for start := 0; start+len(phrase) <= len(tokens); start++ {
			if phraseAt(tokens[start:], phrase) {
				return true
			}
		}
	}
	return false
}

func phraseAt(tokens, phrase []string) bool {
	last := len(phrase) - 1
	for n, p := range phrase {
		if n == last {
			return strings.HasPrefix(tokens[n], p)
		}
		if tokens[n] != p {
			return false
		}
	}
	return true
}

// sortKey is one ORDER BY term.
type sortKey struct {
	value  func(schema.Document) any
	nocase bool
}

// sortDocuments orders docs in place. Ties keep their input order.
func (e *Evaluator) sortDocuments(res *schema.Resource, docs []schema.Document, s *Sort) {
	keys, desc := e.sortKeys(res, s)
	if len(keys) == 0 {
		return
	}
	slices.SortStableFunc(docs, func(a, b schema.Document) int {
		for _, k := range keys {
			n := compareValues(k.value(a), k.value(b), k.nocase)
			if n != 0 {
				if desc {
					return -n
				}
				return n
			}
		}
		return 0
	})
}

func (e *Evaluator) sortKeys(res *schema.Resource, s *Sort) ([]sortKey, bool) {
	fallback := func() ([]sortKey, bool) {
		if !res.HasColumn(schema.DefaultSortColumn) {
			return nil, false
		}
		return []sortKey{{value: column(schema.DefaultSortColumn)}}, true
	}
	if s == nil || len(s.Attributes) == 0 {
		return fallback()
	}
	for _, attr := range s.Attributes {
		if !res.HasColumn(attr) {
			e.logger.Warn("Unknown sort attribute, using default order",
				zap.String("resource", res.Name),
				zap.String("attribute", attr),
			)
			return fallback()
		}
	}

	expr := column(s.Attributes[0])
	if len(s.Attributes) > 1 {
		expr = coalesce(s.Attributes)
	}

	if s.CustomSort != nil && len(s.CustomSort.AttributeMap) > 0 {
		// Only a bare column carries affinity; COALESCE(...) has none.
		aff := affinityNone
		if len(s.Attributes) == 1 {
			aff = columnAffinity(res.Column(s.Attributes[0]))
		}
		mapping := make(AttributeMap, len(s.CustomSort.AttributeMap))
		for n, m := range s.CustomSort.AttributeMap {
			mapping[n] = Mapping{Value: aff.apply(m.Value), Priority: m.Priority}
		}
		return []sortKey{{value: func(d schema.Document) any {
			v := expr(d)
			for _, m := range mapping {
				if sqlEqual(v, m.Value) {
					return m.Priority
				}
			}
			return nil
		}}}, s.Descending()
	}

	if s.IsCoalesced {
		return []sortKey{{value: expr, nocase: true}, {value: expr}}, s.Descending()
	}

	keys := make([]sortKey, 0, 2*len(s.Attributes))
	for _, attr := range s.Attributes {
		keys = append(keys, sortKey{value: column(attr), nocase: true})
	}
	for _, attr := range s.Attributes {
		keys = append(keys, sortKey{value: column(attr)})
	}
	return keys, s.Descending()
}

func column(name string) func(schema.Document) any {
	return func(d schema.Document) any { return d[name] }
}

func coalesce(names []string) func(schema.Document) any {
	return func(d schema.Document) any {
		for _, n := range names {
			if !IsNull(d[n]) {
				return d[n]
			}
		}
		return nil
	}
}

// outputName is the key a projected column appears under.
func outputName(f SelectField) string {
	if f.Alias != "" {
		return f.Alias
	}
	switch {
	case f.IsCount && f.IsDistinct:
		return "count(DISTINCT " + f.Field + ")"
	case f.IsCount:
		return "count(" + f.Field + ")"
	}
	return f.Field
}

// project applies a non-aggregate projection. DISTINCT keeps the first
// document of each distinct tuple.
func project(plan SelectPlan, docs []schema.Document) []schema.Document {
	fields := plan.Plain
	if len(plan.Distinct) > 0 {
		fields = plan.Distinct
	}
	if len(fields) == 1 && fields[0].Field == Wildcard && len(plan.Distinct) == 0 {
		return docs
	}

	out := make([]schema.Document, 0, len(docs))
	seen := make(map[string]struct{})
	for _, d := range docs {
		row := make(schema.Document, len(fields))
		for _, f := range fields {
			if f.Field == Wildcard {
				for k, v := range d {
					row[k] = v
				}
				continue
			}
			row[outputName(f)] = d[f.Field]
		}
		if len(plan.Distinct) > 0 {
			key := tupleKey(row)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, row)
	}
	return out
}

func tupleKey(row schema.Document) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%T:%v;", k, normalize(row[k]), normalize(row[k]))
	}
	return sb.String()
}

// aggregate collapses docs into one row of counts. Bare columns take their
// value from the first document.
func aggregate(plan SelectPlan, docs []schema.Document) schema.Document {
	row := schema.Document{}
	count := func(f SelectField, distinct bool) int64 {
		if f.Field == Wildcard {
			return int64(len(docs))
		}
		var n int64
		seen := make(map[string]struct{})
		for _, d := range docs {
			v := d[f.Field]
			if IsNull(v) {
				continue
			}
			if distinct {
				key := fmt.Sprintf("%T:%v", normalize(v), normalize(v))
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
			n++
		}
		return n
	}

	bare := func(f SelectField) {
		switch {
		case len(docs) == 0:
			row[outputName(f)] = nil
		case f.Field == Wildcard:
			for k, v := range docs[0] {
				row[k] = v
			}
		default:
			row[outputName(f)] = docs[0][f.Field]
		}
	}

	for _, f := range plan.Distinct {
		if f.IsCount {
			row[outputName(f)] = count(f, true)
		} else {
			bare(f)
		}
	}
	for _, f := range plan.Plain {
		if f.IsCount {
			row[outputName(f)] = count(f, false)
		} else {
			bare(f)
		}
	}
	return row
}

func paginate(docs []schema.Document, opts Options) []schema.Document {
	if !opts.Paginated() {
		return docs
	}
	offset := opts.Offset()
	if offset >= len(docs) {
		return []schema.Document{}
	}
	end := min(offset+opts.PageSize, len(docs))
	return docs[offset:end]
}
