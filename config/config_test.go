package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// the tests move $HOME around
	homedir.DisableCache = true
}

func TestDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	v := New()
	require.NoError(t, Read(v, ""))
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "moat", c.General.RootName)
	assert.Equal(t, []string{"main", "moat"}, c.General.Branches)
	assert.Equal(t, ".tested.yaml", c.Build.CacheFile)
	assert.Equal(t, "make test", c.Build.TestCommand)
	assert.Equal(t, "Update MoaT requirements", c.Build.CommitMessage)
	assert.Equal(t, "Update", c.Build.RootMessage)
	assert.Equal(t, "Update from MoaT template", c.Setup.Message)
	assert.Equal(t, "merge-to-deb", c.Publish.DebCommand)
	assert.Equal(t, "https://pypi.org/pypi", c.Publish.IndexURL)
	assert.Equal(t, "info", c.Log.Level)
}

func TestFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
[general]
root_name = "tree"
branches = ["trunk"]

[build]
test_command = "tox -q"
`), 0644))
	t.Setenv("MOAT_PUBLISH_INDEX_URL", "http://localhost:3141/pypi")

	v := New()
	require.NoError(t, Read(v, file))
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "tree", c.General.RootName)
	assert.Equal(t, []string{"trunk"}, c.General.Branches)
	assert.Equal(t, "tox -q", c.Build.TestCommand)
	assert.Equal(t, "http://localhost:3141/pypi", c.Publish.IndexURL)
	assert.Equal(t, "Update", c.Build.RootMessage)
}

func TestMissingExplicitFile(t *testing.T) {
	v := New()
	err := Read(v, filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestHomeConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, DirName), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(home, DirName, "config.toml"),
		[]byte("[setup]\nmessage = \"Sync templates\"\n"), 0644))

	v := New()
	require.NoError(t, Read(v, ""))
	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "Sync templates", c.Setup.Message)
}
