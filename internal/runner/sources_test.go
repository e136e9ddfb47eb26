package runner

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSources(t *testing.T) {
	in := `# weekly refresh
https://example.com/reports/payments

cards https://example.com/reports/credit-cards
https://example.com/reports/payments
`
	got, err := ParseSources(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Source{
		{URL: "https://example.com/reports/payments"},
		{Key: "cards", URL: "https://example.com/reports/credit-cards"},
	}, got)
}

func TestParseSources_Invalid(t *testing.T) {
	_, err := ParseSources(strings.NewReader("a b c\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = ParseSources(strings.NewReader("ftp://example.com/x\n"))
	assert.ErrorContains(t, err, "not an http(s) URL")
}

func TestLoadSources_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- url: https://example.com/reports/payments
- key: cards
  url: https://example.com/reports/credit-cards
`), 0o644))

	got, err := LoadSources(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cards", got[1].Key)
}

func TestLoadSources_Missing(t *testing.T) {
	_, err := LoadSources(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestWriteSources_RoundTrips(t *testing.T) {
	in := []Source{
		{URL: "https://example.com/industry-reports/payments"},
		{Key: "cards", URL: "https://example.com/industry-reports/cards"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteSources(&buf, in))
	assert.Equal(t, "https://example.com/industry-reports/payments\ncards https://example.com/industry-reports/cards\n", buf.String())

	got, err := ParseSources(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}
