// Package cli implements the mirrorql command line: compiling query
// descriptions to SQLite, running them against a mirror database, loading
// documents into it, and printing the DDL of a schema table.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes the environment variables read for every flag, e.g.
// MIRRORQL_SCHEMA or MIRRORQL_PAGE_SIZE.
const EnvPrefix = "MIRRORQL"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // optional config file

	v      *viper.Viper
	logger *zap.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the mirrorql CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "mirrorql",
		Short: "mirrorql - query descriptions compiled to SQLite",
		Long: `Compile declarative resource queries into parameterized SQLite
statements and run them against a local mirror database.

Every flag can also be set through a MIRRORQL_* environment variable or a
config file given with --config.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.load(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))

	return cmd
}

// Execute runs the root command with os.Args and returns the process exit
// code.
func Execute() int {
	cmd := NewRootCommand()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	var exitErr *ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// flag and argument errors never reach a formatter
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return ExitCommandError
	}
	return GetExitCode(err)
}

// load reads the optional config file and builds the logger. It is safe to
// call more than once.
func (o *RootOptions) load(stderr io.Writer) error {
	v := o.registry()
	if o.Config != "" && v.ConfigFileUsed() == "" {
		v.SetConfigFile(o.Config)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", o.Config, err)
		}
	}
	if o.logger == nil {
		o.logger = newLogger(o.Verbose, zapcore.AddSync(stderr))
	}
	return nil
}

// registry returns the settings registry shared by the commands, creating it on
// first use.
func (o *RootOptions) registry() *viper.Viper {
	if o.v == nil {
		o.v = newViper()
	}
	return o.v
}

// log returns the command logger; a no-op logger until load has run.
func (o *RootOptions) log() *zap.Logger {
	if o.logger == nil {
		return zap.NewNop()
	}
	return o.logger
}

// settings binds the flags of cmd and returns the registry to read them
// from. Explicit flags win over environment variables, which win over the
// config file, which wins over flag defaults.
func (o *RootOptions) settings(cmd *cobra.Command) (*viper.Viper, error) {
	v := o.registry()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// newLogger builds a console logger writing to output. Verbose mode logs at
// debug level, otherwise only warnings and errors are shown.
func newLogger(verbose bool, output zapcore.WriteSyncer) *zap.Logger {
	econf := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		NameKey:        "logger",
		TimeKey:        "ts",
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	level := zap.WarnLevel
	if verbose {
		level = zap.DebugLevel
	}
	return zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(econf), output, level))
}

// readInput returns the contents of a flag value that is either inline JSON
// or a path to a file. "-" reads from stdin.
func readInput(value string, stdin io.Reader) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "":
		return nil, nil
	case trimmed == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, badInput("failed to read stdin: %v", err)
		}
		return data, nil
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		return []byte(trimmed), nil
	}
	data, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, badInput("failed to read %s: %v", trimmed, err)
	}
	return data, nil
}
