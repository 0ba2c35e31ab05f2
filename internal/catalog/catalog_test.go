package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nadzzz/serenity/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogJSON = `[
  {"title": "Calm Morning", "ssml": "<speak>Breathe in.</speak>"},
  {"title": "Deep Sleep", "ssml": "<speak>Let go.</speak>"}
]`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestScriptsTitles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ssml_meditations.json")
	writeFile(t, path, catalogJSON)

	titles, err := catalog.NewScripts(path).Titles()
	require.NoError(t, err)
	assert.Equal(t, []string{"Calm Morning", "Deep Sleep"}, titles)
}

func TestScriptsLookupIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ssml_meditations.json")
	writeFile(t, path, catalogJSON)
	scripts := catalog.NewScripts(path)

	for _, title := range []string{"Calm Morning", "calm morning", "CALM MORNING"} {
		sc, err := scripts.Lookup(title)
		require.NoError(t, err, title)
		assert.Equal(t, "<speak>Breathe in.</speak>", sc.SSML)
	}

	_, err := scripts.Lookup("Unknown")
	require.ErrorIs(t, err, catalog.ErrScriptNotFound)
}

func TestScriptsErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := catalog.NewScripts(filepath.Join(dir, "missing.json")).Titles()
	require.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty.json")
	writeFile(t, empty, "[]")
	_, err = catalog.NewScripts(empty).Lookup("x")
	require.ErrorIs(t, err, catalog.ErrEmptyCatalog)

	broken := filepath.Join(dir, "broken.json")
	writeFile(t, broken, "{not json")
	_, err = catalog.NewScripts(broken).All()
	require.Error(t, err)
}

func TestAmbiancesList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rain.mp3"), "x")
	writeFile(t, filepath.Join(dir, "Forest.MP3"), "x")
	writeFile(t, filepath.Join(dir, "notes.txt"), "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "waves.mp3"), 0o750))

	lib := catalog.NewAmbiances(dir)

	names, err := lib.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"Forest", "rain"}, names)

	path, err := lib.Path("Forest")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Forest.MP3"), path)

	_, err = lib.Path("notes")
	require.ErrorIs(t, err, catalog.ErrAmbianceNotFound)
	_, err = lib.Path("../rain")
	require.ErrorIs(t, err, catalog.ErrAmbianceNotFound)
}

func TestAmbiancesMissingDir(t *testing.T) {
	t.Parallel()

	_, err := catalog.NewAmbiances(filepath.Join(t.TempDir(), "none")).List()
	require.ErrorIs(t, err, os.ErrNotExist)
}
