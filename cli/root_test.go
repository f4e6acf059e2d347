package cli

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns what it wrote to
// stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "mirrorql", cmd.Use)

	for _, name := range []string{"compile", "query", "ingest", "schema"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}

	for _, flag := range []string{"verbose", "format", "config"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	_, err := execute(t, "compile", "--format", "xml", "-s", "testdata/schema.yaml", "-r", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestRootCommand_ConfigFile(t *testing.T) {
	schemaPath, err := filepath.Abs("testdata/schema.yaml")
	require.NoError(t, err)

	config := filepath.Join(t.TempDir(), "mirrorql.yaml")
	require.NoError(t, os.WriteFile(config, []byte(
		"schema: "+schemaPath+"\nresource: session\npage: 1\npage-size: 5\n"), 0o600))

	out, err := execute(t, "--config", config, "compile")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM \"session\" LIMIT ? OFFSET ?\n-- parameters: [5,0]\n", out)

	t.Run("flags win over the file", func(t *testing.T) {
		out, err := execute(t, "--config", config, "compile", "--page-size", "20")
		require.NoError(t, err)
		assert.Contains(t, out, "-- parameters: [20,0]")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "compile")
		assert.ErrorContains(t, err, "failed to read config file")
	})
}

func TestRootCommand_Env(t *testing.T) {
	t.Setenv("MIRRORQL_SCHEMA", "testdata/schema.yaml")
	t.Setenv("MIRRORQL_RESOURCE", "session")
	t.Setenv("MIRRORQL_PAGE_SIZE", "3")
	t.Setenv("MIRRORQL_PAGE", "2")

	out, err := execute(t, "compile")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM \"session\" LIMIT ? OFFSET ?\n-- parameters: [3,3]\n", out)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))

	wrapped := WrapExitError(ExitFailure, "query rejected", errors.New("unknown column"))
	assert.Equal(t, "query rejected: unknown column", wrapped.Error())
	assert.Equal(t, "unknown column", errors.Unwrap(wrapped).Error())
}
