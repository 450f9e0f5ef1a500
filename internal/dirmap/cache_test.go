package dirmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeFinalPathSingleComponent(t *testing.T) {
	c := NewCache()

	got, err := c.ComposeFinalPath("/dest", []string{"a.txt"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/dest", "a.txt"), got)
}

func TestComposeFinalPathMultiComponentFreshDir(t *testing.T) {
	dir := t.TempDir()
	c := NewCache()

	got, err := c.ComposeFinalPath(dir, []string{"photos", "a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "photos", "a.jpg"), got)
}

func TestComposeFinalPathReusesChosenName(t *testing.T) {
	dir := t.TempDir()
	c := NewCache()

	first, err := c.ComposeFinalPath(dir, []string{"photos", "a.jpg"})
	require.NoError(t, err)

	second, err := c.ComposeFinalPath(dir, []string{"photos", "b.jpg"})
	require.NoError(t, err)

	assert.Equal(t, filepath.Dir(first), filepath.Dir(second))
}

func TestComposeFinalPathAvoidsExistingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "photos"), 0o755))

	c := NewCache()

	got, err := c.ComposeFinalPath(dir, []string{"photos", "a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "photos(1)", "a.jpg"), got)
}

func TestComposeFinalPathDetectsDanglingSymlink(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(dir, "nowhere"), filepath.Join(dir, "photos")))

	c := NewCache()

	got, err := c.ComposeFinalPath(dir, []string{"photos", "a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "photos(1)", "a.jpg"), got, "a dangling symlink still counts as existing")
}

func TestComposeFinalPathRejectsTraversal(t *testing.T) {
	c := NewCache()

	_, err := c.ComposeFinalPath("/dest", []string{"..", "a.txt"})
	require.Error(t, err)
}

func TestComposeFinalPathRejectsSeparatorInComponent(t *testing.T) {
	c := NewCache()

	_, err := c.ComposeFinalPath("/dest", []string{"a/b.txt"})
	require.Error(t, err)
}

func TestRegisterPreexistingFinalPathSingleComponentNoop(t *testing.T) {
	c := NewCache()

	err := c.RegisterPreexistingFinalPath([]string{"a.txt"}, "/dest/a.txt")
	require.NoError(t, err)

	got, err := c.ComposeFinalPath("/dest", []string{"photos", "b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/dest", "photos", "b.jpg"), got)
}

func TestRegisterPreexistingFinalPathPopulatesCache(t *testing.T) {
	dir := t.TempDir()
	c := NewCache()

	err := c.RegisterPreexistingFinalPath([]string{"photos", "a.jpg"}, filepath.Join(dir, "photos(2)", "a.jpg"))
	require.NoError(t, err)

	got, err := c.ComposeFinalPath(dir, []string{"photos", "b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "photos(2)", "b.jpg"), got)
}

func TestRegisterPreexistingFinalPathDeepNesting(t *testing.T) {
	dir := t.TempDir()
	c := NewCache()

	err := c.RegisterPreexistingFinalPath(
		[]string{"album", "2024", "a.jpg"},
		filepath.Join(dir, "album(1)", "2024", "a.jpg"),
	)
	require.NoError(t, err)

	got, err := c.ComposeFinalPath(dir, []string{"album", "2024", "b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "album(1)", "2024", "b.jpg"), got)
}
