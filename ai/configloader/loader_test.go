package configloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterofNull/hybrid-coordinator/ai/knowledge"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadSeeds(t *testing.T) {
	base := t.TempDir()
	seedDir := filepath.Join(base, "seeds")
	require.NoError(t, os.Mkdir(seedDir, 0o755))

	writeFile(t, seedDir, "b.yaml", `
collection: error-solutions
documents:
  - id: eaddrinuse
    text: Another process holds the port; find it with ss -ltnp.
`)
	writeFile(t, seedDir, "a.yml", `
min_version: 0.1.0
collection: best-practices
documents:
  - id: systemd-enable
    text: Declare the service and rebuild.
    source: https://nixos.org/manual
`)
	writeFile(t, seedDir, "notes.txt", "ignored")

	seeds, err := NewLoader(base, "0.3.0").LoadSeeds("seeds")
	require.NoError(t, err)
	require.Len(t, seeds, 2)

	assert.Equal(t, filepath.Join("seeds", "a.yml"), seeds[0].Path)
	assert.Equal(t, "best-practices", seeds[0].Collection)
	assert.Equal(t, []knowledge.Document{{
		ID:     "systemd-enable",
		Text:   "Declare the service and rebuild.",
		Source: "https://nixos.org/manual",
	}}, seeds[0].Documents)
	assert.Equal(t, "error-solutions", seeds[1].Collection)
}

func TestLoadSeed_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "newer version required", content: "min_version: 9.0.0\ncollection: best-practices\ndocuments: [{id: a, text: x}]\n"},
		{name: "bad version", content: "min_version: latest\ncollection: best-practices\ndocuments: [{id: a, text: x}]\n"},
		{name: "owned collection", content: "collection: patterns\ndocuments: [{id: a, text: x}]\n"},
		{name: "missing text", content: "collection: code-context\ndocuments: [{id: a}]\n"},
		{name: "malformed yaml", content: "collection: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "seed.yaml", tt.content)
			_, err := NewLoader(dir, "0.3.0").LoadSeed("seed.yaml")
			assert.Error(t, err)
		})
	}
}

func TestLoadSeeds_MissingDir(t *testing.T) {
	_, err := NewLoader(t.TempDir(), "").LoadSeeds("nope")
	assert.Error(t, err)
}
