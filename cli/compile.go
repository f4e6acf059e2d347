package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/asaidimu/mirrorql/core/schema"
	"github.com/asaidimu/mirrorql/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a query description to parameterized SQL",
		Long: `Compile a JSON query description against a schema table and print the
SQLite statement with its ordered parameters. Nothing is executed.`,
		Example: `  mirrorql compile -s schema.yaml -r user -q '{"filters":{"name":[{"equals":"ada"}]}}'
  mirrorql compile -s schema.yaml -r user -q query.json --page 2 --page-size 20 --select id,count(*):total`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, cmd)
		},
	}

	addQueryFlags(cmd)
	return cmd
}

// addQueryFlags registers the flags describing a single query.
func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("schema", "s", "", "schema table file (.yaml, .yml or .json)")
	cmd.Flags().StringP("resource", "r", "", "resource to query")
	cmd.Flags().StringP("query", "q", "", "query description: inline JSON, a file path, or - for stdin")
	cmd.Flags().Int("page", 0, "page number, starting at 1")
	cmd.Flags().Int("page-size", 0, "rows per page")
	cmd.Flags().StringSlice("select", nil, "projection: field, field:alias, count(field), count(distinct field) or distinct(field)")
}

// request is a query assembled from flags.
type request struct {
	table    *schema.Table
	resource string
	desc     *query.Description
	opts     query.Options
}

func loadTable(v *viper.Viper) (*schema.Table, error) {
	path := v.GetString("schema")
	if path == "" {
		return nil, badInput("a schema table is required (--schema or %s_SCHEMA)", EnvPrefix)
	}
	table, err := schema.LoadTableFile(path)
	if err != nil {
		return nil, &inputError{err: err}
	}
	return table, nil
}

func requireResource(v *viper.Viper) (string, error) {
	resource := v.GetString("resource")
	if resource == "" {
		return "", badInput("a resource is required (--resource or %s_RESOURCE)", EnvPrefix)
	}
	return resource, nil
}

func loadRequest(v *viper.Viper, stdin io.Reader) (*request, error) {
	table, err := loadTable(v)
	if err != nil {
		return nil, err
	}
	resource, err := requireResource(v)
	if err != nil {
		return nil, err
	}

	req := &request{table: table, resource: resource}

	data, err := readInput(v.GetString("query"), stdin)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if req.desc, err = query.ParseDescription(data); err != nil {
			return nil, err
		}
	}

	raw := map[string]any{
		"page":     v.GetInt("page"),
		"pageSize": v.GetInt("page-size"),
	}
	if specs := v.GetStringSlice("select"); len(specs) > 0 {
		fields := make([]map[string]any, len(specs))
		for i, spec := range specs {
			if fields[i], err = parseSelectField(spec); err != nil {
				return nil, err
			}
		}
		raw["select"] = fields
	}
	if req.opts, err = query.DecodeOptions(raw); err != nil {
		return nil, &inputError{err: err}
	}
	return req, nil
}

// parseSelectField reads one --select entry into the keys of a
// query.SelectField. An optional ":alias" suffix names the output column.
func parseSelectField(spec string) (map[string]any, error) {
	spec = strings.TrimSpace(spec)
	field := map[string]any{}

	if i := strings.LastIndex(spec, ":"); i >= 0 {
		alias := strings.TrimSpace(spec[i+1:])
		if alias == "" {
			return nil, badInput("select %q has an empty alias", spec)
		}
		field["alias"] = alias
		spec = strings.TrimSpace(spec[:i])
	}

	lower := strings.ToLower(spec)
	switch {
	case strings.HasPrefix(lower, "count(") && strings.HasSuffix(spec, ")"):
		field["isCount"] = true
		spec = strings.TrimSpace(spec[len("count(") : len(spec)-1])
		if strings.HasPrefix(strings.ToLower(spec), "distinct ") {
			field["isDistinct"] = true
			spec = strings.TrimSpace(spec[len("distinct "):])
		}
	case strings.HasPrefix(lower, "distinct(") && strings.HasSuffix(spec, ")"):
		field["isDistinct"] = true
		spec = strings.TrimSpace(spec[len("distinct(") : len(spec)-1])
	}

	if spec == "" {
		return nil, badInput("select entry names no field")
	}
	field["field"] = spec
	return field, nil
}

func runCompile(opts *CompileOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	v, err := opts.settings(cmd)
	if err != nil {
		return formatter.Fail(err)
	}
	req, err := loadRequest(v, cmd.InOrStdin())
	if err != nil {
		return formatter.Fail(err)
	}
	formatter.VerboseLog("Compiling query for '%s' (%d resource(s) in schema)", req.resource, len(req.table.Resources()))

	compiler, err := sqlite.NewCompiler(req.table, opts.log())
	if err != nil {
		return formatter.Fail(err)
	}
	compiled, err := compiler.Compile(req.resource, req.desc, req.opts)
	if err != nil {
		return formatter.Fail(err)
	}
	return outputCompiled(formatter, compiled)
}

func outputCompiled(formatter *OutputFormatter, compiled query.Compiled) error {
	if formatter.Format == "json" {
		return formatter.Success(compiled)
	}

	params, err := json.Marshal(compiled.Parameters)
	if err != nil {
		return formatter.Fail(fmt.Errorf("failed to encode parameters: %w", err))
	}
	fmt.Fprintln(formatter.Writer, compiled.SQL)
	fmt.Fprintf(formatter.Writer, "-- parameters: %s\n", params)
	return nil
}
