package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"partysync/pkg/kemono"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	creator := kemono.Creator{ID: "42", Name: "Alice", Service: "patreon"}
	post := kemono.Post{ID: "1001", Title: "  Weekly pack ", Published: "2024-02-01T10:00:00"}

	meta := FromPost("kemono", creator, post, []File{
		{Name: "a.png", RemotePath: "/x/a.png", Size: 10},
		{Name: "b.zip", RemotePath: "/x/b.zip", Size: 32},
	})
	assert.Equal(t, "patreon", meta.Service)
	assert.Equal(t, "Weekly pack", meta.Title)
	assert.Equal(t, int64(42), meta.TotalSize())

	require.False(t, Exists(dir, ""))
	require.NoError(t, meta.Save(dir, ""))
	assert.True(t, Exists(dir, ""))

	loaded, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, meta.ID, loaded.ID)
	assert.Equal(t, meta.Files, loaded.Files)
	assert.Equal(t, "Alice", loaded.Creator.Name)
}

func TestPrefixedSidecars(t *testing.T) {
	dir := t.TempDir()
	meta := FromPost("coomer", kemono.Creator{ID: "x", Service: "onlyfans"}, kemono.Post{ID: "9"}, nil)

	require.NoError(t, meta.Save(dir, "Title_2024_"))
	require.NoError(t, SaveContent(dir, "Title_2024_", "hello"))

	assert.FileExists(t, filepath.Join(dir, "Title_2024_post.json"))
	data, err := os.ReadFile(filepath.Join(dir, "Title_2024_content.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestSaveContentSkipsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveContent(dir, "", "  \n"))
	assert.NoFileExists(t, filepath.Join(dir, "content.txt"))
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir(), "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestGetFormattedTitle(t *testing.T) {
	meta := &PostMetadata{ID: "7", Title: "a very\nlong   title indeed"}
	assert.Equal(t, "a very ...", meta.GetFormattedTitle(10))
	assert.Equal(t, "a very long title indeed", meta.GetFormattedTitle(100))

	meta.Title = ""
	assert.Equal(t, "7", meta.GetFormattedTitle(10))
}
