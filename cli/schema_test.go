package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaCommand(t *testing.T) {
	out, err := execute(t, "schema", "-s", "testdata/schema.yaml", "-r", "session")
	require.NoError(t, err)
	assert.Equal(t, "-- session\n"+
		"CREATE TABLE IF NOT EXISTS \"session\" (\n"+
		"    \"id\" TEXT PRIMARY KEY,\n"+
		"    \"user_id\" TEXT,\n"+
		"    \"token\" TEXT\n"+
		");\n"+
		`CREATE INDEX IF NOT EXISTS "idx_session_user_id" ON "session" ("user_id");`+"\n", out)

	t.Run("all resources", func(t *testing.T) {
		out, err := execute(t, "schema", "-s", "testdata/schema.yaml", "--indexes=false")
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(out, "CREATE TABLE"))
		assert.NotContains(t, out, "CREATE INDEX")
		assert.True(t, strings.HasPrefix(out, "-- user\n"))
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "schema", "--format", "json", "-s", "testdata/schema.yaml", "-r", "user")
		require.NoError(t, err)

		var resp struct {
			Status string      `json:"status"`
			Data   []SchemaDDL `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "user", resp.Data[0].Resource)
		require.Len(t, resp.Data[0].Statements, 2)
		assert.Contains(t, resp.Data[0].Statements[0], `"id" TEXT PRIMARY KEY`)
		assert.Contains(t, resp.Data[0].Statements[1], `"idx_user_created_time"`)
	})

	t.Run("unknown resource", func(t *testing.T) {
		_, err := execute(t, "schema", "-s", "testdata/schema.yaml", "-r", "gadget")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
	})
}
