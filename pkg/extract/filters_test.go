package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mediagrab/pkg/config"
	"mediagrab/pkg/models"
)

func TestURLFilter_Check(t *testing.T) {
	f := NewURLFilter(config.DefaultThresholds())

	tests := []struct {
		name   string
		url    string
		skip   bool
		reason models.Outcome
	}{
		{"plain photo passes", "https://example.com/images/photo.jpg", false, ""},
		{"full size article image passes", "https://example.com/2024/05/story-hero.jpeg", false, ""},
		{"svg vetoed", "https://example.com/art/drawing.svg", true, models.SkipSVGExtension},
		{"svgz vetoed", "https://example.com/art/drawing.svgz", true, models.SkipSVGExtension},
		{"thumbs dir vetoed", "https://example.com/thumbs/photo.jpg", true, models.SkipThumbnailURL},
		{"thumb suffix vetoed", "https://example.com/img/photo-thumb.jpg", true, models.SkipThumbnailURL},
		{"square thumbnail vetoed", "https://example.com/img/photo-400x400.png", true, models.SkipSquareThumbnail},
		{"large square passes", "https://example.com/img/photo-1000x1000.png", false, ""},
		{"non-square WxH passes", "https://example.com/img/photo-800x600.jpg", false, ""},
		{"icon path vetoed", "https://example.com/assets/icons/close.png", true, models.SkipUIAssetIconPath},
		{"logo path vetoed", "https://example.com/logos/brand.png", true, models.SkipUIAssetLogoPath},
		{"favicon vetoed", "https://example.com/favicon.ico", true, models.SkipUIAssetFavicon},
		{"sprite vetoed", "https://example.com/img/sprite.png", true, models.SkipUIAssetSprite},
		{"icon keyword filename vetoed", "https://example.com/img/app-icon.png", true, models.SkipUIAssetKeyword},
		{"query ignored", "https://example.com/images/photo.jpg?w=120&thumb=1", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, skip := f.Check(tt.url)
			assert.Equal(t, tt.skip, skip)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestURLFilter_SquareThumbRespectsThreshold(t *testing.T) {
	thresholds := config.DefaultThresholds()
	thresholds.SquareThumbMaxSide = 300
	f := NewURLFilter(thresholds)

	_, skip := f.Check("https://example.com/img/photo-400x400.png")
	assert.False(t, skip, "400x400 passes when the ceiling is 300")

	reason, skip := f.Check("https://example.com/img/photo-300x300.png")
	assert.True(t, skip)
	assert.Equal(t, models.SkipSquareThumbnail, reason)
}

func TestURLFilter_QuickThumbCheck(t *testing.T) {
	f := NewURLFilter(config.DefaultThresholds())

	assert.True(t, f.quickThumbCheck("https://example.com/thumb/img.jpg"))
	assert.True(t, f.quickThumbCheck("https://example.com/img/thumbnail.photo.jpg"))
	assert.False(t, f.quickThumbCheck("https://example.com/img/photo.jpg"))
	// the quick check does not cover UI assets
	assert.False(t, f.quickThumbCheck("https://example.com/assets/icons/x.png"))
}
