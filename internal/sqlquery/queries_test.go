package sqlquery

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/metadata-extractor/internal/errkind"
	"github.com/nucleus/metadata-extractor/internal/filter"
)

func TestDefaultCatalogIsComplete(t *testing.T) {
	catalog, err := Default()
	require.NoError(t, err)
	assert.Equal(t, []string{"mysql", "postgres"}, catalog.Names())

	for _, name := range catalog.Names() {
		d, err := catalog.Dialect(name)
		require.NoError(t, err)
		assert.NotEmpty(t, d.URISource, name)
		assert.NotEmpty(t, d.Namespace, name)
		assert.NotEmpty(t, d.TestAuthentication, name)
		assert.NotEmpty(t, d.FilterMetadata, name)
		assert.Contains(t, d.TablesCheck, PlaceholderTempTableSQL, name)
		assert.Contains(t, d.TempTableRegex, PlaceholderExcludeTable, name)
		for _, typename := range []string{"database", "schema", "table", "column", "procedure"} {
			_, err := d.Query(typename)
			assert.NoError(t, err, "%s/%s", name, typename)
		}
	}
}

func TestRenderSubstitutesEveryPlaceholder(t *testing.T) {
	catalog, err := Default()
	require.NoError(t, err)
	d, err := catalog.Dialect("postgres")
	require.NoError(t, err)

	compiled, err := filter.Prepare(`{"mydb":["public"]}`, `{}`, "^tmp_")
	require.NoError(t, err)

	for _, typename := range []string{"schema", "table", "column", "procedure"} {
		t.Run(typename, func(t *testing.T) {
			q, err := d.RenderType(typename, compiled)
			require.NoError(t, err)
			assert.NotContains(t, q, "{normalized_")
			assert.NotContains(t, q, PlaceholderTempTableSQL)
			assert.NotContains(t, q, PlaceholderExcludeTable)
			assert.Contains(t, q, "~ 'mydb.public'")
			assert.Contains(t, q, "!~ '$^'")
		})
	}

	table, err := d.RenderType("TABLE", compiled)
	require.NoError(t, err)
	assert.Contains(t, table, "AND c.relname !~ '^tmp_'")
}

func TestRenderOmitsTempTableFragmentWhenUnset(t *testing.T) {
	catalog, err := Default()
	require.NoError(t, err)
	d, err := catalog.Dialect("postgres")
	require.NoError(t, err)

	compiled, err := filter.Prepare("{}", "{}", "")
	require.NoError(t, err)

	q := d.Render(d.TablesCheck, compiled)
	assert.NotContains(t, q, "c.relname !~")
	assert.Contains(t, q, "~ '.*'")
}

func TestRenderEscapesLiterals(t *testing.T) {
	compiled := filter.Compiled{IncludeRegex: `it's\d`, ExcludeRegex: filter.MatchNothing, ExcludeTableRegex: filter.MatchNothing}

	pg := Dialect{}
	assert.Equal(t, `'it''s\d'`, pg.Render("'{normalized_include_regex}'", compiled))

	my := Dialect{BackslashEscapes: true}
	assert.Equal(t, `'it''s\\d'`, my.Render("'{normalized_include_regex}'", compiled))
}

func TestUnknownDialectAndType(t *testing.T) {
	catalog, err := Default()
	require.NoError(t, err)

	_, err = catalog.Dialect("oracle")
	require.Error(t, err)
	assert.True(t, errkind.Config.Has(err))

	d, err := catalog.Dialect("POSTGRES")
	require.NoError(t, err)
	_, err = d.Query("trigger")
	require.Error(t, err)
	assert.True(t, errkind.Config.Has(err))
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.yaml")
	override := `
postgres:
  metadata:
    procedure: SELECT 1 AS procedure_name
custom:
  uri_source: custom
  namespace: custom-internal
  metadata:
    table: SELECT 'x' AS table_name
`
	require.NoError(t, os.WriteFile(path, []byte(override), 0o644))

	catalog, err := Load(path)
	require.NoError(t, err)

	pg, err := catalog.Dialect("postgres")
	require.NoError(t, err)
	proc, err := pg.Query("procedure")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 AS procedure_name", strings.TrimSpace(proc))
	table, err := pg.Query("table")
	require.NoError(t, err)
	assert.Contains(t, table, "pg_class")

	custom, err := catalog.Dialect("custom")
	require.NoError(t, err)
	assert.Equal(t, "custom-internal", custom.Namespace)

	def, err := Default()
	require.NoError(t, err)
	defProc, err := def["postgres"].Query("procedure")
	require.NoError(t, err)
	assert.Contains(t, defProc, "pg_proc")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errkind.Config.Has(err))
}
