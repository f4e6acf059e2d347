package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/asaidimu/mirrorql/core/schema"
	"github.com/asaidimu/mirrorql/sqlite"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatedTime time.Time `json:"created_time"`
}

type session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Token  string `json:"token,omitempty"`
}

func mirrorTable() *schema.Table {
	return schema.MustTable(
		schema.Resource{
			Name: "user",
			Columns: []schema.Column{
				{Name: "id", Type: schema.FieldTypeString, Required: true},
				{Name: "name", Type: schema.FieldTypeString},
				{Name: "created_time", Type: schema.FieldTypeDateTime},
			},
		},
		schema.Resource{
			Name: "session",
			Columns: []schema.Column{
				{Name: "id", Type: schema.FieldTypeString, Required: true},
				{Name: "user_id", Type: schema.FieldTypeString},
				{Name: "token", Type: schema.FieldTypeString},
			},
		},
	)
}

func day(d int) time.Time {
	return time.Date(2024, 2, d, 8, 0, 0, 0, time.UTC)
}

func newSQLiteStore(t *testing.T, table *schema.Table) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := NewSQLiteStore(db, table, nil, &sqlite.InteractorOptions{IfNotExists: true, CreateIndexes: true})
	require.NoError(t, store.EnsureResources(context.Background(), "user", "session"))
	require.NoError(t, store.EnsureResources(context.Background(), "user"))
	return store
}

// stores returns one mirror per backing store, seeded with the same data.
func stores(t *testing.T) map[string]*Mirror {
	t.Helper()
	ctx := context.Background()
	table := mirrorTable()

	out := map[string]*Mirror{}
	for name, store := range map[string]Store{
		"sqlite": newSQLiteStore(t, table),
		"memory": NewMemoryStore(table, nil),
	} {
		m, err := NewMirror(table, store, nil)
		require.NoError(t, err)

		n, err := m.Ingest(ctx, "user", []user{
			{ID: "u1", Name: "ada", CreatedTime: day(1)},
			{ID: "u2", Name: "bob", CreatedTime: day(2)},
			{ID: "u3", Name: "cyd", CreatedTime: day(3)},
		})
		require.NoError(t, err)
		require.EqualValues(t, 3, n)

		_, err = m.Ingest(ctx, "session", []any{
			session{ID: "s1", UserID: "u1", Token: "x"},
			map[string]any{"id": "s2", "user_id": "u3"},
		})
		require.NoError(t, err)
		out[name] = m
	}
	return out
}

func ids(docs []schema.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d["id"].(string)
	}
	return out
}

func TestMirror_Read(t *testing.T) {
	ctx := context.Background()

	for name, m := range stores(t) {
		t.Run(name, func(t *testing.T) {
			tests := []struct {
				name string
				qb   *query.QueryBuilder
				want []string
			}{
				{"default order", query.NewQueryBuilder(), []string{"u3", "u2", "u1"}},
				{"filter", query.NewQueryBuilder().Where("name").In("ada", "cyd"), []string{"u3", "u1"}},
				{"date range", query.NewQueryBuilder().Where("created_time").Gte(day(2)).OrderBy("name"), []string{"u2", "u3"}},
				{"join", query.NewQueryBuilder().Join("session", "user_id").End().Select("id"), []string{"u3", "u1"}},
				{"join with filter", query.NewQueryBuilder().
					Join("session", "user_id").Where("token").IsNull().End().Select("id"), []string{"u3"}},
				{"page", query.NewQueryBuilder().OrderBy("name").Page(2, 2), []string{"u3"}},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					result, err := m.ReadBuilder(ctx, "user", tt.qb)
					require.NoError(t, err)
					assert.Equal(t, tt.want, ids(result.Data))
					assert.Equal(t, len(tt.want), result.Count)
				})
			}

			t.Run("count", func(t *testing.T) {
				result, err := m.ReadBuilder(ctx, "user", query.NewQueryBuilder().Count("*", "total"))
				require.NoError(t, err)
				require.Len(t, result.Data, 1)
				total, ok := query.ToFloat64(result.Data[0]["total"])
				require.True(t, ok)
				assert.Equal(t, 3.0, total)
			})

			t.Run("ReadAs", func(t *testing.T) {
				desc := query.NewQueryBuilder().Where("id").Equals("u2").Build()
				users, err := ReadAs[user](ctx, m, "user", &desc, query.Options{})
				require.NoError(t, err)
				assert.Equal(t, []user{{ID: "u2", Name: "bob", CreatedTime: day(2)}}, users)
			})

			t.Run("validation happens before the store", func(t *testing.T) {
				_, err := m.ReadBuilder(ctx, "gadget", query.NewQueryBuilder())
				assert.ErrorIs(t, err, &query.ValidationError{Kind: query.UnsupportedResource})

				_, err = m.ReadBuilder(ctx, "user", query.NewQueryBuilder().Where("email").Equals("x"))
				assert.ErrorIs(t, err, &query.ValidationError{Kind: query.UnknownColumn})

				_, err = m.ReadBuilder(ctx, "user", query.NewQueryBuilder().Page(-1, 10))
				assert.ErrorIs(t, err, &query.ValidationError{Kind: query.InvalidPagination})
			})
		})
	}
}

func TestMirror_Ingest(t *testing.T) {
	ctx := context.Background()

	for name, m := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := m.Ingest(ctx, "gadget", map[string]any{"id": "g1"})
			assert.ErrorIs(t, err, &query.ValidationError{Kind: query.UnsupportedResource})

			_, err = m.Ingest(ctx, "user", 42)
			assert.ErrorContains(t, err, "invalid records for user")

			_, err = m.Ingest(ctx, "user", []schema.Document{
				{"id": "u8", "name": "eve"},
				{"name": "nobody"},
			})
			var docErr *schema.DocumentError
			require.ErrorAs(t, err, &docErr)
			assert.Equal(t, schema.IssueRequiredFieldMissing, docErr.Issues[0].Code)

			result, err := m.ReadBuilder(ctx, "user", query.NewQueryBuilder().Where("id").Equals("u8"))
			require.NoError(t, err)
			assert.Empty(t, result.Data, "a failed batch writes nothing")

			n, err := m.Ingest(ctx, "user", &user{ID: "u9", Name: "fay", CreatedTime: day(9)})
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)
		})
	}
}

func TestMirror_CompileCache(t *testing.T) {
	m, err := NewMirror(mirrorTable(), NewMemoryStore(mirrorTable(), nil), &Options{CacheSize: 2})
	require.NoError(t, err)

	desc := query.NewQueryBuilder().Where("name").Equals("ada").Build()
	first, err := m.Compile("user", &desc, query.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, m.CachedStatements())

	first.Parameters[0] = "mutated"
	second, err := m.Compile("user", &desc, query.Options{})
	require.NoError(t, err)
	assert.Equal(t, []any{"ada"}, second.Parameters)
	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, 1, m.CachedStatements())

	other := query.NewQueryBuilder().Where("name").Equals("bob").Build()
	_, err = m.Compile("user", &other, query.Options{})
	require.NoError(t, err)
	_, err = m.Compile("session", nil, query.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, m.CachedStatements(), "the cache is bounded")

	_, err = m.Compile("user", &desc, query.Options{Page: -1})
	assert.Error(t, err)
	assert.Equal(t, 2, m.CachedStatements(), "failures are not cached")

	m.PurgeCache()
	assert.Zero(t, m.CachedStatements())

	uncached, err := NewMirror(mirrorTable(), NewMemoryStore(mirrorTable(), nil), &Options{CacheSize: -1})
	require.NoError(t, err)
	_, err = uncached.Compile("user", &desc, query.Options{})
	require.NoError(t, err)
	assert.Zero(t, uncached.CachedStatements())
}

func TestMirror_CompileCache_ValueTypes(t *testing.T) {
	m, err := NewMirror(mirrorTable(), NewMemoryStore(mirrorTable(), nil), nil)
	require.NoError(t, err)
	c, err := sqlite.NewCompiler(mirrorTable(), nil)
	require.NoError(t, err)

	byDate := query.NewQueryBuilder().Where("created_time").Equals(day(1)).Build()
	byText := query.NewQueryBuilder().Where("created_time").Equals("2024-02-01T08:00:00Z").Build()

	for _, desc := range []query.Description{byDate, byText, byDate} {
		got, err := m.Compile("user", &desc, query.Options{})
		require.NoError(t, err)
		want, err := c.Compile("user", &desc, query.Options{})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 2, m.CachedStatements())

	t.Run("reads follow the bound value", func(t *testing.T) {
		ctx := context.Background()
		for name, m := range stores(t) {
			t.Run(name, func(t *testing.T) {
				found, err := m.Read(ctx, "user", &byDate, query.Options{})
				require.NoError(t, err)
				assert.Equal(t, []string{"u1"}, ids(found.Data))

				found, err = m.Read(ctx, "user", &byText, query.Options{})
				require.NoError(t, err)
				assert.Empty(t, found.Data, "text is compared as stored, without reformatting")
			})
		}
	})
}

func TestCacheKey(t *testing.T) {
	key := func(resource string, desc query.Description) string {
		k, err := cacheKey(resource, &desc, query.Options{})
		require.NoError(t, err)
		return k
	}

	tests := []struct {
		name string
		a, b query.Description
		same bool
	}{
		{
			name: "priority value types",
			a:    query.NewQueryBuilder().OrderByPriority("name", query.Mapping{Value: 1, Priority: 1}).Build(),
			b:    query.NewQueryBuilder().OrderByPriority("name", query.Mapping{Value: "1", Priority: 1}).Build(),
		},
		{
			name: "date and its text",
			a:    query.NewQueryBuilder().Where("created_time").Gte(day(1)).Build(),
			b:    query.NewQueryBuilder().Where("created_time").Gte("2024-02-01T08:00:00Z").Build(),
		},
		{
			name: "integer and real",
			a:    query.NewQueryBuilder().Where("name").Equals(1).Build(),
			b:    query.NewQueryBuilder().Where("name").Equals(1.0).Build(),
		},
		{
			name: "inside a join",
			a:    query.NewQueryBuilder().Join("session", "user_id").Where("token").In(day(1), "x").End().Build(),
			b:    query.NewQueryBuilder().Join("session", "user_id").Where("token").In("2024-02-01T08:00:00Z", "x").End().Build(),
		},
		{
			name: "identical inputs",
			a:    query.NewQueryBuilder().Where("created_time").Lt(day(2)).Build(),
			b:    query.NewQueryBuilder().Where("created_time").Lt(day(2)).Build(),
			same: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.same {
				assert.Equal(t, key("user", tt.a), key("user", tt.b))
				return
			}
			assert.NotEqual(t, key("user", tt.a), key("user", tt.b))
		})
	}

	byDate := query.NewQueryBuilder().Where("created_time").Gte(day(1)).Build()
	assert.NotEqual(t, key("user", byDate), key("session", byDate))
}

func TestMirror_Events(t *testing.T) {
	ctx := context.Background()
	m, err := NewMirror(mirrorTable(), NewMemoryStore(mirrorTable(), nil), nil)
	require.NoError(t, err)

	received := make(chan MirrorEvent, 16)
	record := func(_ context.Context, e MirrorEvent) error {
		received <- e
		return nil
	}
	label := "compile-watch"
	compileID := m.RegisterSubscription(RegisterSubscriptionOptions{Event: QueryCompileSuccess, Label: &label, Callback: record})
	failID := m.RegisterSubscription(RegisterSubscriptionOptions{Event: IngestFailed, Callback: record})
	assert.NotEqual(t, compileID, failID)
	assert.Len(t, m.Subscriptions(), 2)

	next := func(t *testing.T) MirrorEvent {
		t.Helper()
		select {
		case e := <-received:
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
			return MirrorEvent{}
		}
	}

	desc := query.NewQueryBuilder().Where("name").Equals("ada").Build()
	_, err = m.Compile("user", &desc, query.Options{})
	require.NoError(t, err)
	e := next(t)
	assert.Equal(t, QueryCompileSuccess, e.Type)
	assert.Equal(t, "user", e.Resource)
	assert.False(t, e.Cached)
	assert.NotEmpty(t, e.ID)
	assert.IsType(t, query.Compiled{}, e.Output)

	_, err = m.Compile("user", &desc, query.Options{})
	require.NoError(t, err)
	assert.True(t, next(t).Cached)

	_, err = m.Ingest(ctx, "user", schema.Document{"name": "nobody"})
	require.Error(t, err)
	e = next(t)
	assert.Equal(t, IngestFailed, e.Type)
	require.NotNil(t, e.Error)
	require.Len(t, e.Issues, 1)
	assert.Equal(t, schema.IssueRequiredFieldMissing, e.Issues[0].Code)

	m.UnregisterSubscription(compileID)
	m.UnregisterSubscription("unknown")
	subs := m.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, failID, *subs[0].Id)
}

func TestNewMirror(t *testing.T) {
	_, err := NewMirror(mirrorTable(), nil, nil)
	assert.Error(t, err)

	_, err = NewMirror(nil, NewMemoryStore(mirrorTable(), nil), nil)
	assert.Error(t, err)

	m, err := NewMirror(mirrorTable(), NewMemoryStore(mirrorTable(), nil), nil)
	require.NoError(t, err)
	assert.NotNil(t, m.Schema())
}
