package download

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestImageOutputDir_BucketsByDomainAndPath(t *testing.T) {
	base := t.TempDir()

	dir, err := ImageOutputDir(base, mustURL(t, "https://example.com/news/2024/may/story-title/extra"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "example.com", "news_2024_may"), dir)
	assert.DirExists(t, dir)
}

func TestImageOutputDir_RootPage(t *testing.T) {
	base := t.TempDir()
	dir, err := ImageOutputDir(base, mustURL(t, "https://example.com/"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "example.com"), dir)
}

func TestImageOutputDir_PortSanitized(t *testing.T) {
	base := t.TempDir()
	dir, err := ImageOutputDir(base, mustURL(t, "http://example.com:8080/a"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "example.com_8080", "a"), dir)
}

func TestVideoOutputDir_StripsWWWAndFlattensPath(t *testing.T) {
	base := t.TempDir()
	dir, err := VideoOutputDir(base, mustURL(t, "https://www.example.com/videos/show/episode-1"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "example.com_videos_show_episode-1"), dir)
	assert.DirExists(t, dir)
}

func TestMediaFilename(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		contentType string
		fallbackExt string
		want        string
	}{
		{"basename kept", "https://example.com/img/photo.jpg", "", ".jpg", "photo.jpg"},
		{"extension from content type", "https://example.com/img/photo", "image/png", ".jpg", "photo.png"},
		{"fallback extension", "https://example.com/img/photo", "", ".jpg", "photo.jpg"},
		{"unsafe chars replaced", "https://example.com/img/ph%20oto:1.jpg", "", ".jpg", "ph_oto_1.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MediaFilename(mustURL(t, tt.url), tt.contentType, tt.fallbackExt)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMediaFilename_EmptyBasenameGetsHashName(t *testing.T) {
	got := MediaFilename(mustURL(t, "https://example.com/"), "video/mp4", ".mp4")
	assert.Regexp(t, `^media_[0-9a-f]{8}\.`, got)
}

func TestUniquePath_CollisionSuffix(t *testing.T) {
	dir := t.TempDir()

	first := UniquePath(dir, "photo.jpg")
	assert.Equal(t, filepath.Join(dir, "photo.jpg"), first)
	require.NoError(t, os.WriteFile(first, []byte("x"), 0o644))

	second := UniquePath(dir, "photo.jpg")
	assert.Equal(t, filepath.Join(dir, "photo_1.jpg"), second)
	require.NoError(t, os.WriteFile(second, []byte("x"), 0o644))

	third := UniquePath(dir, "photo.jpg")
	assert.Equal(t, filepath.Join(dir, "photo_2.jpg"), third)
}

func TestForceMP4(t *testing.T) {
	assert.Equal(t, "clip.mp4", ForceMP4("clip.m3u8"))
	assert.Equal(t, "clip.mp4", ForceMP4("clip.mp4"))
	assert.Equal(t, "manifest.mp4", ForceMP4("manifest.mpd"))
}

func TestForceJPG(t *testing.T) {
	assert.Equal(t, "photo.jpg", ForceJPG("photo.webp"))
	assert.Equal(t, "photo.jpg", ForceJPG("photo.jpg"))
	assert.Equal(t, "photo.jpeg", ForceJPG("photo.jpeg"))
}
