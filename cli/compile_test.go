package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "inline query",
			args: []string{"-r", "user", "-q", `{"filters":{"name":[{"equals":"ada"}]}}`},
			want: "SELECT * FROM \"user\" WHERE (\"user\".name = ?) ORDER BY \"user\".created_time DESC\n" +
				"-- parameters: [\"ada\"]\n",
		},
		{
			name: "query file",
			args: []string{"-r", "user", "-q", "testdata/query.json"},
			want: "SELECT * FROM \"user\" INNER JOIN \"session\" session_1 ON \"user\".id = session_1.user_id " +
				"WHERE (\"user\".name IN (?, ?)) ORDER BY \"user\".name COLLATE NOCASE ASC, \"user\".name ASC\n" +
				"-- parameters: [\"ada\",\"bob\"]\n",
		},
		{
			name: "select and pagination",
			args: []string{"-r", "session", "--select", "id,token:secret", "--page", "2", "--page-size", "10"},
			want: "SELECT \"session\".id, \"session\".token AS secret FROM \"session\" LIMIT ? OFFSET ?\n" +
				"-- parameters: [10,10]\n",
		},
		{
			name: "no query",
			args: []string{"-r", "session"},
			want: "SELECT * FROM \"session\"\n-- parameters: []\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			cmd := NewCompileCommand(&RootOptions{Format: "text"})
			cmd.SetOut(buf)
			cmd.SetArgs(append([]string{"-s", "testdata/schema.yaml"}, tt.args...))

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestCompileCommand_Stdin(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetIn(strings.NewReader(`{"filters":{"token":[{"equals":null}]}}`))
	cmd.SetArgs([]string{"-s", "testdata/schema.yaml", "-r", "session", "-q", "-"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "SELECT * FROM \"session\" WHERE (\"session\".token IS NULL)\n-- parameters: []\n", buf.String())
}

func TestCompileCommand_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", "testdata/schema.yaml", "-r", "session", "-q", `{"filters":{"user_id":[{"equals":"u1"}]}}`})
	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string         `json:"status"`
		Data   query.Compiled `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, `SELECT * FROM "session" WHERE ("session".user_id = ?)`, resp.Data.SQL)
	assert.Equal(t, []any{"u1"}, resp.Data.Parameters)
}

func TestCompileCommand_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		exitCode int
		errCode  string
	}{
		{"unknown resource", []string{"-s", "testdata/schema.yaml", "-r", "gadget"}, ExitFailure, ErrCodeValidation},
		{"unknown column", []string{"-s", "testdata/schema.yaml", "-r", "user", "-q", `{"filters":{"email":[{"equals":"x"}]}}`}, ExitFailure, ErrCodeValidation},
		{"unknown operator", []string{"-s", "testdata/schema.yaml", "-r", "user", "-q", `{"filters":{"name":[{"like":"x"}]}}`}, ExitFailure, ErrCodeOperator},
		{"negative page", []string{"-s", "testdata/schema.yaml", "-r", "user", "--page=-1", "--page-size", "5"}, ExitFailure, ErrCodeValidation},
		{"missing schema", []string{"-r", "user"}, ExitCommandError, ErrCodeInput},
		{"missing resource", []string{"-s", "testdata/schema.yaml"}, ExitCommandError, ErrCodeInput},
		{"unreadable query", []string{"-s", "testdata/schema.yaml", "-r", "user", "-q", "testdata/nope.json"}, ExitCommandError, ErrCodeInput},
		{"empty alias", []string{"-s", "testdata/schema.yaml", "-r", "user", "--select", "name:"}, ExitCommandError, ErrCodeInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			cmd := NewCompileCommand(&RootOptions{Format: "json"})
			cmd.SetOut(buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.errCode, resp.Error.Code)
		})
	}
}

func TestCompileCommand_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", "testdata/schema.yaml", "-r", "gadget"})

	require.Error(t, cmd.Execute())
	assert.Equal(t, "Error [E001]: unsupported_resource on resource 'gadget': resource is not in the schema table\n", buf.String())
}

func TestParseSelectField(t *testing.T) {
	tests := []struct {
		spec string
		want map[string]any
	}{
		{"name", map[string]any{"field": "name"}},
		{" name : label ", map[string]any{"field": "name", "alias": "label"}},
		{"count(*)", map[string]any{"field": "*", "isCount": true}},
		{"COUNT(id):total", map[string]any{"field": "id", "isCount": true, "alias": "total"}},
		{"count(distinct user_id)", map[string]any{"field": "user_id", "isCount": true, "isDistinct": true}},
		{"distinct(token)", map[string]any{"field": "token", "isDistinct": true}},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := parseSelectField(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "count()", "name:", ":alias"} {
		_, err := parseSelectField(bad)
		assert.Error(t, err, bad)
	}
}
