package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const users = `[
	{"id": "u1", "name": "ada", "age": 36, "created_time": "2024-02-01T08:00:00Z"},
	{"id": "u2", "name": "bob", "age": 41, "created_time": "2024-02-02T08:00:00Z"},
	{"id": "u3", "name": "cyd", "created_time": "2024-02-03T08:00:00+02:00"}
]`

// seededDB ingests users into a fresh mirror database and returns its path.
func seededDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "mirror.db")

	out, err := execute(t, "ingest", "-s", "testdata/schema.yaml", "-r", "user", "--db", db, "--create", "-f", users)
	require.NoError(t, err)
	assert.Equal(t, "Ingested 3 document(s) into user\n", out)

	out, err = execute(t, "ingest", "--format", "json", "-s", "testdata/schema.yaml", "-r", "session", "--db", db,
		"-f", `{"id": "s1", "user_id": "u2", "token": "t"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"resource":"session","inserted":1}}`, out)
	return db
}

func TestQueryCommand(t *testing.T) {
	db := seededDB(t)

	t.Run("text", func(t *testing.T) {
		out, err := execute(t, "query", "-s", "testdata/schema.yaml", "-r", "user", "--db", db,
			"-q", `{"filters":{"age":[{"gt":40}]}}`, "--select", "id,name")
		require.NoError(t, err)
		assert.Equal(t, "{\"id\":\"u2\",\"name\":\"bob\"}\n(1 row(s))\n", out)
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "query", "--format", "json", "-s", "testdata/schema.yaml", "-r", "user", "--db", db,
			"-q", "testdata/query.json")
		require.NoError(t, err)

		var resp struct {
			Status string `json:"status"`
			Data   struct {
				Data  []map[string]any `json:"data"`
				Count int              `json:"count"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, 1, resp.Data.Count)
		require.Len(t, resp.Data.Data, 1)
		assert.Equal(t, "bob", resp.Data.Data[0]["name"])
	})

	t.Run("default order and dates", func(t *testing.T) {
		out, err := execute(t, "query", "-s", "testdata/schema.yaml", "-r", "user", "--db", db,
			"-q", `{"filters":{"created_time":[{"gte":"2024-02-02"}]}}`, "--select", "id")
		require.NoError(t, err)
		assert.Equal(t, "{\"id\":\"u3\"}\n{\"id\":\"u2\"}\n(2 row(s))\n", out)
	})

	t.Run("count", func(t *testing.T) {
		out, err := execute(t, "query", "-s", "testdata/schema.yaml", "-r", "user", "--db", db, "--select", "count(*):total")
		require.NoError(t, err)
		assert.Equal(t, "{\"total\":3}\n(1 row(s))\n", out)
	})
}

func TestQueryCommand_Errors(t *testing.T) {
	db := seededDB(t)

	tests := []struct {
		name     string
		args     []string
		exitCode int
		message  string
	}{
		{"missing db flag", []string{"-r", "user"}, ExitCommandError, "a database is required"},
		{"db not found", []string{"-r", "user", "--db", filepath.Join(t.TempDir(), "none.db")}, ExitCommandError, "not found"},
		{"unknown column", []string{"-r", "user", "--db", db, "-q", `{"filters":{"email":[{"equals":"x"}]}}`}, ExitFailure, "unknown_column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"query", "-s", "testdata/schema.yaml"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, GetExitCode(err))
			assert.True(t, strings.HasPrefix(out, "Error [E0"), out)
			assert.Contains(t, out, tt.message)
		})
	}
}

func TestIngestCommand_Errors(t *testing.T) {
	db := seededDB(t)

	t.Run("invalid batch writes nothing", func(t *testing.T) {
		out, err := execute(t, "ingest", "--format", "json", "-s", "testdata/schema.yaml", "-r", "user", "--db", db,
			"-f", `[{"id": "u8", "name": "eve"}, {"id": "u9", "age": "old"}]`)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeDocument, resp.Error.Code)

		out, err = execute(t, "query", "-s", "testdata/schema.yaml", "-r", "user", "--db", db,
			"-q", `{"filters":{"id":[{"equals":"u8"}]}}`)
		require.NoError(t, err)
		assert.Equal(t, "(0 row(s))\n", out)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := execute(t, "ingest", "-s", "testdata/schema.yaml", "-r", "user", "--db", db, "-f", "{nope")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("unknown resource", func(t *testing.T) {
		_, err := execute(t, "ingest", "-s", "testdata/schema.yaml", "-r", "gadget", "--db", db, "-f", `{"id": "g1"}`)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
	})
}
