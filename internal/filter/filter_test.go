package filter

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/metadata-extractor/internal/errkind"
)

func TestPrepareEmptyFilters(t *testing.T) {
	compiled, err := Prepare("{}", "{}", "")
	require.NoError(t, err)
	assert.Equal(t, Compiled{IncludeRegex: ".*", ExcludeRegex: "$^", ExcludeTableRegex: "$^"}, compiled)

	blank, err := Prepare("", "  ", "   ")
	require.NoError(t, err)
	assert.Equal(t, compiled, blank)
}

func TestPrepare(t *testing.T) {
	tests := []struct {
		name    string
		include string
		exclude string
		temp    string
		want    Compiled
	}{
		{
			name:    "single schema",
			include: `{"mydb":["public"]}`,
			exclude: `{}`,
			want:    Compiled{IncludeRegex: "mydb.public", ExcludeRegex: "$^", ExcludeTableRegex: "$^"},
		},
		{
			name:    "whole database and anchors",
			include: `{"^db1$":[],"db2":["^sales$","^hr"]}`,
			exclude: `{"db2":["^tmp_"]}`,
			temp:    "^temp_.*",
			want: Compiled{
				IncludeRegex:      "db1.*|db2.sales$|db2.hr",
				ExcludeRegex:      "db2.tmp_",
				ExcludeTableRegex: "^temp_.*",
			},
		},
		{
			name:    "null schema list",
			include: `{"db":null}`,
			want:    Compiled{IncludeRegex: "db.*", ExcludeRegex: "$^", ExcludeTableRegex: "$^"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Prepare(tt.include, tt.exclude, tt.temp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDuplicateDatabaseLastWins(t *testing.T) {
	spec, err := Parse(`{"db1":["a"],"db2":[],"db1":["b","c"]}`)
	require.NoError(t, err)
	assert.Equal(t, Spec{
		{Database: "db1", Schemas: []string{"b", "c"}},
		{Database: "db2", Schemas: []string{}},
	}, spec)

	compiled, err := Prepare(`{"db1":["a"],"db1":["b"]}`, "", "")
	require.NoError(t, err)
	assert.Equal(t, "db1.b", compiled.IncludeRegex)
}

func TestPrepareMalformed(t *testing.T) {
	tests := []struct {
		name    string
		include string
		exclude string
	}{
		{"broken include", `{"db":`, `{}`},
		{"broken exclude", `{}`, `{"db": "public"}`},
		{"array", `["db"]`, `{}`},
		{"trailing data", `{} {}`, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Prepare(tt.include, tt.exclude, "")
			require.Error(t, err)
			assert.True(t, errkind.Config.Has(err))
			assert.False(t, errkind.IsRetryable(err))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	specs := []string{
		`{}`,
		`{"mydb":["public"]}`,
		`{"^db1$":["^a$","b"],"db2":[]}`,
		`{"$^weird^$":["^^x$$"]}`,
	}
	samples := []string{"mydb.public", "mydb.other", "db1.a", "db1.ab", "db1.b", "db2.x", "weird.x", "", "other.public"}

	for _, raw := range specs {
		t.Run(raw, func(t *testing.T) {
			spec, err := Parse(raw)
			require.NoError(t, err)

			canonical := spec.Canonical()
			assert.Equal(t, canonical, canonical.Canonical())
			assert.Equal(t, spec.Normalize(), canonical.Normalize())

			first := regexp.MustCompile(spec.Regex(MatchAll))
			second := regexp.MustCompile(canonical.Regex(MatchAll))
			for _, sample := range samples {
				assert.Equal(t, first.MatchString(sample), second.MatchString(sample), sample)
			}
		})
	}
}

func TestMatchNothingNeverMatchesNames(t *testing.T) {
	re := regexp.MustCompile(MatchNothing)
	for _, name := range []string{"mydb.public", "a", " ", "$^"} {
		assert.False(t, re.MatchString(name), name)
	}
}

func TestPairs(t *testing.T) {
	spec, err := Parse(`{"^mydb$":["^public$","sales"],"other":[]}`)
	require.NoError(t, err)

	dbs, schemas := spec.Pairs()
	assert.Equal(t, []string{"mydb", "other"}, dbs)
	assert.Equal(t, []string{"mydb.public", "mydb.sales"}, schemas)
}
