package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/asaidimu/mirrorql/core/schema"
	"go.uber.org/zap"
)

// dbRunner is an interface that abstracts the common methods of *sql.DB and *sql.Tx,
// allowing for the same code to be used for both transactional and non-transactional
// database operations.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Interactor is the execution layer of the mirror. It binds compiled
// statements to a SQLite connection, decodes rows by the resource's column
// types, and writes mirrored rows. It can operate in both transactional and
// non-transactional modes.
type Interactor struct {
	db      *sql.DB
	tx      *sql.Tx
	schema  *schema.Table
	logger  *zap.Logger
	options *InteractorOptions
}

// NewInteractor creates a new Interactor. It operates in transactional mode
// when tx is non-nil.
func NewInteractor(db *sql.DB, table *schema.Table, logger *zap.Logger, options *InteractorOptions, tx *sql.Tx) *Interactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		options = DefaultInteractorOptions()
	}
	return &Interactor{
		db:      db,
		tx:      tx,
		schema:  table,
		logger:  logger,
		options: options,
	}
}

// runner returns the active transaction, or the connection pool.
func (i *Interactor) runner() dbRunner {
	if i.tx != nil {
		return i.tx
	}
	return i.db
}

// readRows reads all rows from a *sql.Rows object and converts them into a slice
// of schema.Document maps, decoding values by the declared column type.
// Columns outside the resource (aliases, aggregates) keep their raw value.
func readRows(logger *zap.Logger, res *schema.Resource, rows *sql.Rows) ([]schema.Document, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	results := []schema.Document{}
	for rows.Next() {
		row := make(schema.Document, len(columns))
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for n := range values {
			scanArgs[n] = &values[n]
		}

		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		for n, name := range columns {
			val := values[n]
			if b, ok := val.([]byte); ok {
				val = string(b)
			}
			if val == nil {
				row[name] = nil
				continue
			}

			column := res.Column(name)
			if column == nil {
				logger.Debug("Column not in resource, using raw value", zap.String("resource", res.Name), zap.String("column", name))
				row[name] = val
				continue
			}
			row[name] = decodeValue(column.Type, val)
		}
		results = append(results, row)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return results, nil
}

func decodeValue(fieldType schema.FieldType, val any) any {
	switch fieldType {
	case schema.FieldTypeBoolean:
		switch v := val.(type) {
		case int64:
			return v != 0
		case bool:
			return v
		}
	case schema.FieldTypeInteger:
		if f, ok := val.(float64); ok {
			return int64(f)
		}
	case schema.FieldTypeNumber:
		if n, ok := val.(int64); ok {
			return float64(n)
		}
	case schema.FieldTypeObject:
		if s, ok := val.(string); ok {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return decoded
			}
		}
	}
	return val
}

// encodeValue converts a document value to the primitive stored for it.
func encodeValue(fieldType schema.FieldType, val any) (any, error) {
	if query.IsNull(val) {
		return nil, nil
	}
	if fieldType == schema.FieldTypeObject {
		if s, ok := val.(string); ok {
			return s, nil
		}
		data, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal object value: %w", err)
		}
		return string(data), nil
	}
	return query.SerializeValue(val), nil
}

// Select runs a compiled statement for resource and decodes its rows.
func (i *Interactor) Select(ctx context.Context, resource string, compiled query.Compiled) ([]schema.Document, error) {
	res, ok := i.schema.Lookup(resource)
	if !ok {
		return nil, query.NewValidationError(query.UnsupportedResource, resource, "resource is not in the schema table")
	}

	i.logger.Debug("Executing SQL SELECT", zap.String("sql", compiled.SQL), zap.Any("params", compiled.Parameters))

	rows, err := i.runner().QueryContext(ctx, compiled.SQL, compiled.Parameters...)
	if err != nil {
		i.logger.Error("Failed to execute SELECT query", zap.Error(err), zap.String("sql", compiled.SQL))
		return nil, fmt.Errorf("failed to execute SELECT query: %w", err)
	}
	defer rows.Close()
	return readRows(i.logger, res, rows)
}

// Insert writes documents into the table of resource, one statement per
// document, and returns the number of rows written. Documents may omit
// columns that are not required; keys that are not columns of the resource
// are rejected and values are checked against the column types.
func (i *Interactor) Insert(ctx context.Context, resource string, docs []schema.Document) (int64, error) {
	res, ok := i.schema.Lookup(resource)
	if !ok {
		return 0, query.NewValidationError(query.UnsupportedResource, resource, "resource is not in the schema table")
	}

	validator := schema.NewValidator(res)
	var written int64
	for _, doc := range docs {
		for key := range doc {
			if !res.HasColumn(key) {
				return written, query.NewValidationError(query.UnknownColumn, resource, "cannot insert unknown column '%s'", key)
			}
		}
		doc, err := validator.Check(doc, false)
		if err != nil {
			return written, err
		}

		var names []string
		var params []any
		for _, c := range res.Columns {
			val, present := doc[c.Name]
			if !present {
				continue
			}
			encoded, err := encodeValue(c.Type, val)
			if err != nil {
				return written, fmt.Errorf("column '%s': %w", c.Name, err)
			}
			names = append(names, quoteIdentifier(c.Name))
			params = append(params, encoded)
		}
		if len(names) == 0 {
			continue
		}

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdentifier(res.TableName()), strings.Join(names, ", "), placeholders(len(names)))
		i.logger.Debug("Executing SQL INSERT", zap.String("sql", stmt), zap.Any("params", params))

		result, err := i.runner().ExecContext(ctx, stmt, params...)
		if err != nil {
			i.logger.Error("Failed to execute INSERT query", zap.Error(err), zap.String("sql", stmt))
			return written, fmt.Errorf("failed to execute INSERT query: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Exec runs a raw statement and returns the number of affected rows.
func (i *Interactor) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	i.logger.Debug("Executing SQL", zap.String("sql", stmt), zap.Any("params", args))
	result, err := i.runner().ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute statement: %w", err)
	}
	return result.RowsAffected()
}

// StartTransaction begins a new database transaction and returns a new
// Interactor scoped to it.
func (i *Interactor) StartTransaction(ctx context.Context) (*Interactor, error) {
	if i.tx != nil {
		return nil, fmt.Errorf("cannot start a new transaction from an existing transactional interactor")
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	i.logger.Debug("Transaction initiated, returning new transactional interactor")
	return NewInteractor(i.db, i.schema, i.logger, i.options, tx), nil
}

// Commit commits the current transaction.
func (i *Interactor) Commit() error {
	if i.tx == nil {
		return fmt.Errorf("commit not applicable: not in a transactional context")
	}
	i.logger.Debug("Committing transaction")
	return i.tx.Commit()
}

// Rollback rolls back the current transaction.
func (i *Interactor) Rollback() error {
	if i.tx == nil {
		return fmt.Errorf("rollback not applicable: not in a transactional context")
	}
	i.logger.Debug("Rolling back transaction")
	return i.tx.Rollback()
}
