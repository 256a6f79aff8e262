package dedup

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediagrab/pkg/utils"
)

func writeTestPNG(t *testing.T, path string, fill color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, fill)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestStore_ShouldProcessReserves(t *testing.T) {
	s := NewStore(false)

	assert.True(t, s.ShouldProcess("https://example.com/a.jpg"))
	assert.False(t, s.ShouldProcess("https://example.com/a.jpg"), "second caller sees the reservation")
	assert.True(t, s.ShouldProcess("https://example.com/b.jpg"))
	assert.Equal(t, 2, s.DownloadedCount())
}

func TestStore_ReleaseURLAllowsRetry(t *testing.T) {
	s := NewStore(false)

	require.True(t, s.ShouldProcess("https://example.com/a.jpg"))
	s.ReleaseURL("https://example.com/a.jpg")
	assert.True(t, s.ShouldProcess("https://example.com/a.jpg"))
}

func TestStore_PerceptualCheckCatchesIdenticalImages(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.png")
	second := filepath.Join(dir, "second.png")
	writeTestPNG(t, first, color.White)
	writeTestPNG(t, second, color.White)

	s := NewStore(true)

	dup, digest, err := s.PerceptualCheck(first)
	require.NoError(t, err)
	assert.False(t, dup)
	require.NotEmpty(t, digest)
	s.AddPerceptual(digest)

	dup, _, err = s.PerceptualCheck(second)
	require.NoError(t, err)
	assert.True(t, dup, "same pixels from a different file collide")
}

func TestStore_PerceptualDigestNotRecordedUntilAdded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	writeTestPNG(t, path, color.White)

	s := NewStore(true)

	// checking alone must not poison the set: a download whose final
	// rename fails never commits its digest
	dup, digest, err := s.PerceptualCheck(path)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, _, err = s.PerceptualCheck(path)
	require.NoError(t, err)
	assert.False(t, dup, "uncommitted digest must not reject a retry")

	s.AddPerceptual(digest)
	dup, _, err = s.PerceptualCheck(path)
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestStore_PerceptualCheckDisabled(t *testing.T) {
	s := NewStore(false)
	dup, digest, err := s.PerceptualCheck(filepath.Join(t.TempDir(), "does-not-exist.png"))
	require.NoError(t, err)
	assert.False(t, dup, "disabled gate never touches the file")
	assert.Empty(t, digest)

	// empty digest commits are ignored
	s.AddPerceptual(digest)
	assert.Empty(t, s.SnapshotPerceptual())
}

func TestStore_PerceptualCheckRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	s := NewStore(true)
	_, _, err := s.PerceptualCheck(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrInvalidMedia)
}

func TestStore_SnapshotAndRestore(t *testing.T) {
	s := NewStore(true)
	require.True(t, s.ShouldProcess("https://example.com/a.jpg"))

	dir := t.TempDir()
	img := filepath.Join(dir, "img.png")
	writeTestPNG(t, img, color.Black)
	_, digest, err := s.PerceptualCheck(img)
	require.NoError(t, err)
	s.AddPerceptual(digest)

	restored := NewStore(true)
	restored.Restore(s.SnapshotDownloaded(), s.SnapshotPerceptual())

	assert.False(t, restored.ShouldProcess("https://example.com/a.jpg"))
	dup, _, err := restored.PerceptualCheck(img)
	require.NoError(t, err)
	assert.True(t, dup)
}
