package keywords

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTablesLoad(t *testing.T) {
	tables, err := Default()
	require.NoError(t, err)

	assert.NotEmpty(t, tables.Version)
	assert.Equal(t, "nl", tables.Language)
	assert.Equal(t, 2.0, tables.MinThemeScore)
	require.Len(t, tables.Risk, 3)
	assert.Equal(t, "suicidality", tables.Risk[0].Type)
	assert.Len(t, tables.Themes, 9)
	assert.Equal(t, 10, tables.ActionHeuristics.MinSentenceLength)
	assert.Equal(t, 3, tables.Outcome.Window)
	assert.Contains(t, tables.CrisisResponse, "0800-0432")
}

func TestKeywordAcceptsScalarAndMapping(t *testing.T) {
	tables, err := Default()
	require.NoError(t, err)

	var school Theme
	for _, theme := range tables.Themes {
		if theme.ID == "school" {
			school = theme
		}
	}
	require.NotEmpty(t, school.Keywords)

	weights := map[string]float64{}
	for _, kw := range school.Keywords {
		weights[kw.Word] = kw.Weight
	}
	assert.Equal(t, 2.0, weights["tentamen"])
	assert.Equal(t, 1.0, weights["huiswerk"])
}

func TestParseRejectsInvalidTables(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{name: "missing version", doc: "language: nl\n"},
		{name: "unknown field", doc: "version: x\nbogus: true\n"},
		{
			name: "empty risk keywords",
			doc:  "version: x\nrisk:\n  - type: suicidality\n    level: critical\n    keywords: []\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	data, err := os.ReadFile("nl.yaml")
	require.NoError(t, err)

	broken := append(append([]byte{}, data...), []byte("\nextra: [")...)
	_, err = Parse(broken)
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	data, err := os.ReadFile("nl.yaml")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	tables, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, tables.Themes, 9)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
