package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebeca/migrations"
)

func TestSplitSQL_StripsCommentsAndBlankStatements(t *testing.T) {
	in := "-- header\nCREATE TABLE a (id INT);\n\n  -- inline note\nCREATE TABLE b (id INT);\n;\n"
	stmts := SplitSQL(StripSQLComments(in))
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"}, stmts)
}

func TestEmbeddedMigrationParses(t *testing.T) {
	content, err := migrations.FS.ReadFile("0001_init.sql")
	require.NoError(t, err)
	stmts := SplitSQL(StripSQLComments(string(content)))
	require.NotEmpty(t, stmts)
	for _, s := range stmts {
		assert.NotContains(t, s, "--")
	}
}
