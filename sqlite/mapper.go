package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/asaidimu/mirrorql/core/schema"
	"go.uber.org/zap"
)

// InteractorOptions controls the DDL the interactor emits for a resource.
type InteractorOptions struct {
	// IfNotExists adds IF NOT EXISTS to CREATE statements.
	IfNotExists bool `mapstructure:"if_not_exists"`
	// CreateSearchIndexes creates the <table>_fts shadow index and its sync
	// triggers for searchable resources. Requires an FTS5-enabled SQLite
	// build (go-sqlite3 with the sqlite_fts5 tag).
	CreateSearchIndexes bool `mapstructure:"create_search_indexes"`
	// CreateIndexes indexes join columns (*_id) and created_time.
	CreateIndexes bool `mapstructure:"create_indexes"`
}

// DefaultInteractorOptions returns a set of sensible default options for the
// SQLite interactor.
func DefaultInteractorOptions() *InteractorOptions {
	return &InteractorOptions{
		IfNotExists:         true,
		CreateSearchIndexes: true,
		CreateIndexes:       true,
	}
}

// ColumnType maps a schema.FieldType to its SQLite column type. Dates are
// stored as ISO-8601 TEXT, matching the serialized filter values they are
// compared against.
func ColumnType(fieldType schema.FieldType) string {
	switch fieldType {
	case schema.FieldTypeString, schema.FieldTypeDateTime, schema.FieldTypeObject:
		return "TEXT"
	case schema.FieldTypeNumber:
		return "REAL"
	case schema.FieldTypeInteger, schema.FieldTypeBoolean:
		return "INTEGER"
	default:
		return "BLOB"
	}
}

func (i *Interactor) ifNotExists() string {
	if i.options.IfNotExists {
		return "IF NOT EXISTS "
	}
	return ""
}

// CreateTableSQL generates the CREATE TABLE statement for a resource. An id
// column, when declared, is the primary key.
func (i *Interactor) CreateTableSQL(res *schema.Resource) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE " + i.ifNotExists() + quoteIdentifier(res.TableName()) + " (\n")

	columns := make([]string, 0, len(res.Columns))
	for _, c := range res.Columns {
		def := "    " + quoteIdentifier(c.Name) + " " + ColumnType(c.Type)
		if c.Name == "id" {
			def += " PRIMARY KEY"
		} else if c.Required {
			def += " NOT NULL"
		}
		columns = append(columns, def)
	}
	sb.WriteString(strings.Join(columns, ",\n"))
	sb.WriteString("\n);")
	return sb.String()
}

// CreateSearchIndexSQL generates the FTS5 shadow index of a searchable
// resource plus the triggers keeping it in step with the content table.
// It returns nil for resources without search columns.
func (i *Interactor) CreateSearchIndexSQL(res *schema.Resource) []string {
	if !res.Searchable() {
		return nil
	}
	table := quoteIdentifier(res.TableName())
	fts := res.SearchTableName()
	cols := strings.Join(res.SearchColumns, ", ")
	newCols := prefixed("new.", res.SearchColumns)
	oldCols := prefixed("old.", res.SearchColumns)

	return []string{
		fmt.Sprintf("CREATE VIRTUAL TABLE %s%s USING fts5(%s, content='%s', content_rowid='rowid');",
			i.ifNotExists(), fts, cols, res.TableName()),
		fmt.Sprintf("CREATE TRIGGER %s%s_ai AFTER INSERT ON %s BEGIN INSERT INTO %s(rowid, %s) VALUES (new.rowid, %s); END;",
			i.ifNotExists(), fts, table, fts, cols, newCols),
		fmt.Sprintf("CREATE TRIGGER %s%s_ad AFTER DELETE ON %s BEGIN INSERT INTO %s(%s, rowid, %s) VALUES ('delete', old.rowid, %s); END;",
			i.ifNotExists(), fts, table, fts, fts, cols, oldCols),
		fmt.Sprintf("CREATE TRIGGER %s%s_au AFTER UPDATE ON %s BEGIN INSERT INTO %s(%s, rowid, %s) VALUES ('delete', old.rowid, %s); INSERT INTO %s(rowid, %s) VALUES (new.rowid, %s); END;",
			i.ifNotExists(), fts, table, fts, fts, cols, oldCols, fts, cols, newCols),
	}
}

func prefixed(prefix string, columns []string) string {
	out := make([]string, len(columns))
	for n, c := range columns {
		out[n] = prefix + c
	}
	return strings.Join(out, ", ")
}

// CreateIndexSQL generates a CREATE INDEX statement over columns of res.
func (i *Interactor) CreateIndexSQL(res *schema.Resource, columns ...string) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("index on '%s' needs at least one column", res.Name)
	}
	quoted := make([]string, len(columns))
	for n, c := range columns {
		if !res.HasColumn(c) {
			return "", fmt.Errorf("cannot index unknown column '%s' of '%s'", c, res.Name)
		}
		quoted[n] = quoteIdentifier(c)
	}
	name := fmt.Sprintf("idx_%s_%s", res.TableName(), strings.Join(columns, "_"))
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
		quoteIdentifier(name), quoteIdentifier(res.TableName()), strings.Join(quoted, ", ")), nil
}

// defaultIndexes lists the single-column indexes created for res: join
// columns and the default sort column.
func defaultIndexes(res *schema.Resource) []string {
	var out []string
	for _, c := range res.Columns {
		if strings.HasSuffix(c.Name, "_id") || c.Name == schema.DefaultSortColumn {
			out = append(out, c.Name)
		}
	}
	return out
}

// ResourceDDL lists the statements CreateResource executes for res: the
// table, then its indexes and search index as configured.
func (i *Interactor) ResourceDDL(res *schema.Resource) ([]string, error) {
	statements := []string{i.CreateTableSQL(res)}
	if i.options.CreateIndexes {
		for _, c := range defaultIndexes(res) {
			stmt, err := i.CreateIndexSQL(res, c)
			if err != nil {
				return nil, fmt.Errorf("failed to generate SQL for index on %s: %w", c, err)
			}
			statements = append(statements, stmt)
		}
	}
	if i.options.CreateSearchIndexes {
		statements = append(statements, i.CreateSearchIndexSQL(res)...)
	}
	return statements, nil
}

// CreateResource creates the table of a registered resource along with its
// indexes and search index, as configured.
func (i *Interactor) CreateResource(ctx context.Context, name string) error {
	res, ok := i.schema.Lookup(name)
	if !ok {
		return fmt.Errorf("resource '%s' is not in the schema table", name)
	}

	statements, err := i.ResourceDDL(res)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		i.logger.Debug("Executing DDL", zap.String("sql", stmt))
		if _, err := i.runner().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute SQL statement '%s': %w", stmt, err)
		}
	}
	return nil
}

// DropTableSQL generates the statements dropping a resource's table and
// its search index.
func (i *Interactor) DropTableSQL(res *schema.Resource) []string {
	out := []string{fmt.Sprintf("DROP TABLE IF EXISTS %s;", quoteIdentifier(res.TableName()))}
	if res.Searchable() {
		out = append([]string{fmt.Sprintf("DROP TABLE IF EXISTS %s;", res.SearchTableName())}, out...)
	}
	return out
}

// DropResource drops the table of a registered resource.
func (i *Interactor) DropResource(ctx context.Context, name string) error {
	res, ok := i.schema.Lookup(name)
	if !ok {
		return fmt.Errorf("resource '%s' is not in the schema table", name)
	}
	for _, stmt := range i.DropTableSQL(res) {
		if _, err := i.runner().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", res.TableName(), err)
		}
	}
	return nil
}

// TableExists checks if the table of a resource exists in the database.
func (i *Interactor) TableExists(ctx context.Context, name string) (bool, error) {
	res, ok := i.schema.Lookup(name)
	if !ok {
		return false, fmt.Errorf("resource '%s' is not in the schema table", name)
	}

	var found string
	err := i.runner().QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name = ?;", res.TableName()).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
