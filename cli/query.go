package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/asaidimu/mirrorql/core/persistence"
	"github.com/asaidimu/mirrorql/core/schema"
	"github.com/asaidimu/mirrorql/sqlite"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query description against a mirror database",
		Long: `Compile a JSON query description and run it against a SQLite mirror
database. Text output prints one JSON document per row.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	addQueryFlags(cmd)
	addDatabaseFlags(cmd)
	return cmd
}

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load documents into a mirror database",
		Long: `Validate a JSON document, or an array of documents, against a resource
and write them to the mirror database. A batch with any invalid document
writes nothing.`,
		Example:       `  mirrorql ingest -s schema.yaml -r user --db mirror.db --create -f users.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, cmd)
		},
	}

	cmd.Flags().StringP("schema", "s", "", "schema table file (.yaml, .yml or .json)")
	cmd.Flags().StringP("resource", "r", "", "resource the documents belong to")
	cmd.Flags().StringP("file", "f", "-", "documents: inline JSON, a file path, or - for stdin")
	addDatabaseFlags(cmd)
	return cmd
}

func addDatabaseFlags(cmd *cobra.Command) {
	cmd.Flags().String("db", "", "SQLite mirror database file")
	cmd.Flags().Bool("create", false, "create the database and any missing resource tables")
	cmd.Flags().Bool("search-index", false, "create FTS5 search indexes (needs a sqlite_fts5 build)")
}

// openMirror opens the database named by the db setting and wraps it in a
// mirror over table. The returned close function releases the database.
func openMirror(ctx context.Context, v *viper.Viper, table *schema.Table, logger *zap.Logger) (*persistence.Mirror, func() error, error) {
	path := v.GetString("db")
	if path == "" {
		return nil, nil, badInput("a database is required (--db or %s_DB)", EnvPrefix)
	}
	create := v.GetBool("create")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !create {
		return nil, nil, badInput("database %s not found (use --create to make it)", path)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	store := persistence.NewSQLiteStore(db, table, logger, &sqlite.InteractorOptions{
		IfNotExists:         true,
		CreateIndexes:       true,
		CreateSearchIndexes: v.GetBool("search-index"),
	})
	if create {
		names := make([]string, 0, len(table.Resources()))
		for _, res := range table.Resources() {
			names = append(names, res.Name)
		}
		if err := store.EnsureResources(ctx, names...); err != nil {
			db.Close()
			return nil, nil, err
		}
	}

	// one statement per invocation, nothing to cache
	mirror, err := persistence.NewMirror(table, store, &persistence.Options{CacheSize: -1, Logger: logger})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return mirror, db.Close, nil
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	v, err := opts.settings(cmd)
	if err != nil {
		return formatter.Fail(err)
	}
	req, err := loadRequest(v, cmd.InOrStdin())
	if err != nil {
		return formatter.Fail(err)
	}

	mirror, closeDB, err := openMirror(cmd.Context(), v, req.table, opts.log())
	if err != nil {
		return formatter.Fail(err)
	}
	defer closeDB()

	result, err := mirror.Read(cmd.Context(), req.resource, req.desc, req.opts)
	if err != nil {
		return formatter.Fail(err)
	}
	formatter.VerboseLog("Read %d row(s) from '%s'", result.Count, req.resource)

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	enc := json.NewEncoder(formatter.Writer)
	for _, doc := range result.Data {
		if err := enc.Encode(doc); err != nil {
			return formatter.Fail(fmt.Errorf("failed to encode row: %w", err))
		}
	}
	fmt.Fprintf(formatter.Writer, "(%d row(s))\n", result.Count)
	return nil
}

// IngestResult is the payload reported by the ingest command.
type IngestResult struct {
	Resource string `json:"resource"`
	Inserted int64  `json:"inserted"`
}

func runIngest(opts *IngestOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	v, err := opts.settings(cmd)
	if err != nil {
		return formatter.Fail(err)
	}
	table, err := loadTable(v)
	if err != nil {
		return formatter.Fail(err)
	}
	resource, err := requireResource(v)
	if err != nil {
		return formatter.Fail(err)
	}

	data, err := readInput(v.GetString("file"), cmd.InOrStdin())
	if err != nil {
		return formatter.Fail(err)
	}
	var records any
	if err := json.Unmarshal(data, &records); err != nil {
		return formatter.Fail(badInput("documents are not valid JSON: %v", err))
	}

	mirror, closeDB, err := openMirror(cmd.Context(), v, table, opts.log())
	if err != nil {
		return formatter.Fail(err)
	}
	defer closeDB()

	n, err := mirror.Ingest(cmd.Context(), resource, records)
	if err != nil {
		return formatter.Fail(err)
	}

	result := IngestResult{Resource: resource, Inserted: n}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "Ingested %d document(s) into %s\n", n, resource)
	return nil
}
