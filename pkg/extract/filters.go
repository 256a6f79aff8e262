package extract

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"mediagrab/pkg/config"
	"mediagrab/pkg/models"
)

// URL veto patterns, tuned against news/CMS sites. Matched against the
// lowercased URL path only, never the query.
var (
	thumbnailURLRe  = regexp.MustCompile(`(?i)(?:/thumbs?/|[-_](?:thumb|thumbnail))`)
	squareThumbRe   = regexp.MustCompile(`-(\d{2,4})x(\d{2,4})\.(png|jpg|jpeg|webp)$`)
	iconPathRe      = regexp.MustCompile(`/(assets/)?icons?/`)
	logoPathRe      = regexp.MustCompile(`/(assets/)?logos?/`)
	uiKeywordRe     = regexp.MustCompile(`(?:^|[\W_])(icon|logo|favicon|sprite|badge|appicon|app-icon)(?:[\W_]|$)`)
	thumbFilenameRe = regexp.MustCompile(`(?:^|[._-])(thumb|thumbnail)(?:[._-]|$)`)
)

// URLFilter is the veto chain applied to every image URL before any bytes
// are fetched. The first matching rule wins and its reason goes to the
// audit log.
type URLFilter struct {
	thresholds config.Thresholds
}

// NewURLFilter creates a filter with the run's thresholds.
func NewURLFilter(t config.Thresholds) *URLFilter {
	return &URLFilter{thresholds: t}
}

// Check runs the chain. skip is true when the URL should not be downloaded;
// reason then holds the audit outcome.
func (f *URLFilter) Check(rawURL string) (reason models.Outcome, skip bool) {
	p := urlPathLower(rawURL)
	filename := path.Base(p)

	// extension and generic thumbnail markers
	if thumbnailURLRe.MatchString(p) {
		return models.SkipThumbnailURL, true
	}
	if strings.HasSuffix(p, ".svg") || strings.HasSuffix(p, ".svgz") {
		return models.SkipSVGExtension, true
	}

	// -WxH filename suffix, square and small means a generated thumbnail
	if m := squareThumbRe.FindStringSubmatch(filename); m != nil {
		w := atoiSafe(m[1])
		h := atoiSafe(m[2])
		if w == h && w <= f.thresholds.SquareThumbMaxSide {
			return models.SkipSquareThumbnail, true
		}
	}

	// UI assets
	if iconPathRe.MatchString(p) {
		return models.SkipUIAssetIconPath, true
	}
	if logoPathRe.MatchString(p) {
		return models.SkipUIAssetLogoPath, true
	}
	if strings.Contains(p, "favicon") {
		return models.SkipUIAssetFavicon, true
	}
	if strings.Contains(p, "sprite") {
		return models.SkipUIAssetSprite, true
	}
	if uiKeywordRe.MatchString(filename) {
		return models.SkipUIAssetKeyword, true
	}

	// explicit thumb names and folders
	if thumbFilenameRe.MatchString(filename) {
		return models.SkipThumbFilename, true
	}
	if strings.Contains(p, "/thumb/") || strings.Contains(p, "/thumbs/") || strings.Contains(p, "/thumbnail") {
		return models.SkipThumbPath, true
	}

	return "", false
}

// quickThumbCheck is the cheap subset applied at extraction time so obvious
// thumbnails never enter the candidate set. The full chain runs again, with
// audit logging, in the download pipeline.
func (f *URLFilter) quickThumbCheck(rawURL string) bool {
	p := urlPathLower(rawURL)
	filename := path.Base(p)
	if thumbFilenameRe.MatchString(filename) {
		return true
	}
	return strings.Contains(p, "/thumb/") || strings.Contains(p, "/thumbs/") || strings.Contains(p, "/thumbnail")
}

func urlPathLower(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Path)
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
