package cli

import (
	"fmt"
	"strings"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/asaidimu/mirrorql/sqlite"
	"github.com/spf13/cobra"
)

// SchemaOptions holds flags for the schema command.
type SchemaOptions struct {
	*RootOptions
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the DDL of a schema table",
		Long: `Print the CREATE statements of the mirror tables described by a schema
table: one table per resource, indexes on join columns and created_time,
and FTS5 shadow indexes for searchable resources.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(opts, cmd)
		},
	}

	cmd.Flags().StringP("schema", "s", "", "schema table file (.yaml, .yml or .json)")
	cmd.Flags().StringSliceP("resource", "r", nil, "only these resources (default all)")
	cmd.Flags().Bool("indexes", true, "include column indexes")
	cmd.Flags().Bool("search-index", true, "include FTS5 search indexes")
	return cmd
}

// SchemaDDL is the payload reported by the schema command.
type SchemaDDL struct {
	Resource   string   `json:"resource"`
	Statements []string `json:"statements"`
}

func runSchema(opts *SchemaOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	v, err := opts.settings(cmd)
	if err != nil {
		return formatter.Fail(err)
	}
	table, err := loadTable(v)
	if err != nil {
		return formatter.Fail(err)
	}

	resources := table.Resources()
	if names := v.GetStringSlice("resource"); len(names) > 0 {
		resources = nil
		for _, name := range names {
			res, ok := table.Lookup(name)
			if !ok {
				return formatter.Fail(query.NewValidationError(query.UnsupportedResource, name, "resource is not in the schema table"))
			}
			resources = append(resources, res)
		}
	}

	// DDL generation never touches the database
	interactor := sqlite.NewInteractor(nil, table, opts.log(), &sqlite.InteractorOptions{
		IfNotExists:         true,
		CreateIndexes:       v.GetBool("indexes"),
		CreateSearchIndexes: v.GetBool("search-index"),
	}, nil)

	out := make([]SchemaDDL, 0, len(resources))
	for _, res := range resources {
		statements, err := interactor.ResourceDDL(res)
		if err != nil {
			return formatter.Fail(err)
		}
		out = append(out, SchemaDDL{Resource: res.Name, Statements: statements})
	}

	if formatter.Format == "json" {
		return formatter.Success(out)
	}
	for n, ddl := range out {
		if n > 0 {
			fmt.Fprintln(formatter.Writer)
		}
		fmt.Fprintf(formatter.Writer, "-- %s\n%s\n", ddl.Resource, strings.Join(ddl.Statements, "\n"))
	}
	return nil
}
