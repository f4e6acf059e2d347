package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueryBuilder(t *testing.T) {
	qb := NewQueryBuilder()
	assert.NotNil(t, qb)
	assert.Equal(t, Description{}, qb.Build())
	assert.Equal(t, Options{}, qb.Options())
}

func TestQueryBuilder_Build(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	qb := NewQueryBuilder().
		Search("ali", "name").
		Where("status").In("active", "pending").
		Where("created_time").Gte(created).
		MatchAll("created_time").
		Where("created_time").Lt(created.AddDate(0, 1, 0)).
		OrderByDesc("name").
		Page(2, 25).
		Select("id", "name")

	desc := qb.Build()
	require.NotNil(t, desc.Search)
	assert.Equal(t, Search{Text: "ali", Fields: []string{"name"}}, *desc.Search)

	require.NotNil(t, desc.Filters)
	require.Len(t, desc.Filters.Fields, 2)
	assert.Equal(t, FieldFilter{
		Field:      "status",
		Conditions: []Condition{{OperatorEquals, "active"}, {OperatorEquals, "pending"}},
	}, desc.Filters.Fields[0])
	assert.Equal(t, "created_time", desc.Filters.Fields[1].Field)
	assert.Equal(t, LogicalAnd, desc.Filters.Fields[1].LogicalOperator)
	assert.Len(t, desc.Filters.Fields[1].Conditions, 2)

	require.NotNil(t, desc.Sort)
	assert.Equal(t, []string{"name"}, desc.Sort.Attributes)
	assert.True(t, desc.Sort.Descending())

	opts := qb.Options()
	assert.Equal(t, 2, opts.Page)
	assert.Equal(t, 25, opts.PageSize)
	assert.Equal(t, []SelectField{{Field: "id"}, {Field: "name"}}, opts.Select)
}

func TestQueryBuilder_Conditions(t *testing.T) {
	tests := []struct {
		name string
		qb   *QueryBuilder
		want Condition
	}{
		{"equals", NewQueryBuilder().Where("a").Equals(1), Condition{OperatorEquals, 1}},
		{"not equals", NewQueryBuilder().Where("a").NotEquals(1), Condition{OperatorNotEquals, 1}},
		{"contains", NewQueryBuilder().Where("a").Contains("x"), Condition{OperatorContains, "x"}},
		{"gt", NewQueryBuilder().Where("a").Gt(1), Condition{OperatorGreaterThan, 1}},
		{"gte", NewQueryBuilder().Where("a").Gte(1), Condition{OperatorGreaterThanOrEqual, 1}},
		{"lt", NewQueryBuilder().Where("a").Lt(1), Condition{OperatorLessThan, 1}},
		{"lte", NewQueryBuilder().Where("a").Lte(1), Condition{OperatorLessThanOrEqual, 1}},
		{"is null", NewQueryBuilder().Where("a").IsNull(), Condition{OperatorEquals, nil}},
		{"is not null", NewQueryBuilder().Where("a").IsNotNull(), Condition{OperatorNotEquals, nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := tt.qb.Build()
			require.Len(t, desc.Filters.Fields, 1)
			assert.Equal(t, []Condition{tt.want}, desc.Filters.Fields[0].Conditions)
		})
	}
}

func TestQueryBuilder_Joins(t *testing.T) {
	desc := NewQueryBuilder().
		Where("name").Equals("x").
		Join("session", "user_id").
		Where("token").Equals("t").
		Join("device", "session_id").From("id").Where("platform").Equals("ios").EndNested().
		End().
		LeftJoin("auth-method", "user_id").End().
		Build()

	require.Len(t, desc.Filters.Fields, 1)
	require.Len(t, desc.Filters.Joins, 2)

	session := desc.Filters.Joins[0]
	assert.Equal(t, "session", session.Resource)
	assert.Equal(t, "user_id", session.JoinOn)
	assert.Equal(t, JoinType(""), session.JoinType)
	nested := session.NestedFilters()
	require.NotNil(t, nested)
	require.Len(t, nested.Fields, 1)
	assert.Equal(t, "token", nested.Fields[0].Field)
	require.Len(t, nested.Joins, 1)
	assert.Equal(t, "device", nested.Joins[0].Resource)
	assert.Equal(t, "id", nested.Joins[0].JoinFrom)
	require.NotNil(t, nested.Joins[0].NestedFilters())
	assert.Equal(t, "platform", nested.Joins[0].NestedFilters().Fields[0].Field)

	auth := desc.Filters.Joins[1]
	assert.Equal(t, JoinLeft, auth.JoinType)
	assert.Nil(t, auth.Query)
}

func TestQueryBuilder_Sort(t *testing.T) {
	desc := NewQueryBuilder().OrderBy("nickname", "name").Coalesce().Build()
	assert.Equal(t, &Sort{Attributes: []string{"nickname", "name"}, Direction: SortAsc, IsCoalesced: true}, desc.Sort)

	desc = NewQueryBuilder().OrderByPriority("status",
		Mapping{Value: "active", Priority: 1},
		Mapping{Value: "archived", Priority: 2},
	).Build()
	require.NotNil(t, desc.Sort.CustomSort)
	assert.Equal(t, []string{"status"}, desc.Sort.Attributes)
	assert.Len(t, desc.Sort.CustomSort.AttributeMap, 2)
	assert.False(t, desc.Sort.Descending())
}

func TestQueryBuilder_Select(t *testing.T) {
	opts := NewQueryBuilder().
		SelectAs("name", "label").
		Distinct("status").
		Count("*", "total").
		CountDistinct("owner_id", "owners").
		Options()

	assert.Equal(t, []SelectField{
		{Field: "name", Alias: "label"},
		{Field: "status", IsDistinct: true},
		{Field: "*", IsCount: true, Alias: "total"},
		{Field: "owner_id", IsCount: true, IsDistinct: true, Alias: "owners"},
	}, opts.Select)
}

func TestQueryBuilder_Clone(t *testing.T) {
	original := NewQueryBuilder().
		Search("a", "name").
		Where("status").Equals("active").
		Join("session", "user_id").Where("token").Equals("t").End().
		OrderByPriority("status", Mapping{Value: "active", Priority: 1}).
		Select("id")

	clone := original.Clone()
	assert.Equal(t, original.Build(), clone.Build())
	assert.Equal(t, original.Options(), clone.Options())

	clone.Where("status").Equals("pending").
		Join("device", "session_id").End().
		Select("name")
	clone.Build().Search.Fields[0] = "nickname"
	clone.Build().Filters.Joins[0].NestedFilters().Fields[0].Conditions[0].Value = "changed"
	clone.Build().Sort.CustomSort.AttributeMap[0].Priority = 9

	desc := original.Build()
	assert.Len(t, desc.Filters.Fields[0].Conditions, 1)
	assert.Len(t, desc.Filters.Joins, 1)
	assert.Equal(t, []string{"name"}, desc.Search.Fields)
	assert.Equal(t, "t", desc.Filters.Joins[0].NestedFilters().Fields[0].Conditions[0].Value)
	assert.Equal(t, 1, desc.Sort.CustomSort.AttributeMap[0].Priority)
	assert.Equal(t, []SelectField{{Field: "id"}}, original.Options().Select)
}

func TestQueryBuilder_Reset(t *testing.T) {
	qb := NewQueryBuilder().Where("a").Equals(1).OrderBy("a").Page(1, 10)
	qb.Reset()
	assert.Equal(t, Description{}, qb.Build())
	assert.Equal(t, Options{}, qb.Options())
}

func TestQueryBuilder_String(t *testing.T) {
	qb := NewQueryBuilder().Search("x").Where("b").Equals(1).Where("a").Equals(2)
	assert.Equal(t, `{"search":"x","filters":{"b":[{"equals":1}],"a":[{"equals":2}]}}`, qb.String())
}
