package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectSeedFiles_SkipsOversized(t *testing.T) {
	dir := writeSeedTree(t, map[string]string{
		"a/SKILL.md":  "---\nname: a\ndescription: A\n---\n",
		"a/small.txt": "small",
		"big.bin":     string(make([]byte, 64)),
	})

	files, err := CollectSeedFiles(context.Background(), SeedConfig{
		SourceDir:   dir,
		DestDir:     "/home/daytona/skills",
		MaxFileSize: 32,
	}, nil)
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{
		"/home/daytona/skills/a/SKILL.md",
		"/home/daytona/skills/a/small.txt",
	}, paths)
	assert.Equal(t, []byte("small"), files[1].Content)
}

func TestCollectSeedFiles_MissingOrDisabled(t *testing.T) {
	files, err := CollectSeedFiles(context.Background(), SeedConfig{SourceDir: filepath.Join(t.TempDir(), "nope")}, nil)
	require.NoError(t, err)
	assert.Empty(t, files)

	files, err = CollectSeedFiles(context.Background(), SeedConfig{}, nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestCollectSeedFiles_SkipsSymlinks(t *testing.T) {
	dir := writeSeedTree(t, map[string]string{"real.txt": "real"})
	if err := os.Symlink(filepath.Join(dir, "real.txt"), filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	files, err := CollectSeedFiles(context.Background(), SeedConfig{SourceDir: dir, DestDir: "/s"}, nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/s/real.txt", files[0].Path)
}

func TestCollectSeedFiles_Cancelled(t *testing.T) {
	dir := writeSeedTree(t, map[string]string{"a.txt": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CollectSeedFiles(ctx, SeedConfig{SourceDir: dir, DestDir: "/s"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
