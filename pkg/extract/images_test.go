package extract

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediagrab/pkg/config"
	"mediagrab/pkg/fetch"
)

func extractTestOptions() *config.Options {
	var o config.Options
	o.Positional.SeedURL = "https://example.com/"
	o.MaxRetries = 1
	o.Timeout = 5 * time.Second
	o.UserAgent = "mediagrab-test/1.0"
	o.Thresholds = config.DefaultThresholds()
	return &o
}

func newImageExtractor(t *testing.T, opts *config.Options) *ImageExtractor {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	client := fetch.NewClient(opts, log)
	fetcher := fetch.NewFetcher(client, opts, log)
	return NewImageExtractor(opts, fetcher, fetch.NewLimiterPool(100), log)
}

func extractImages(t *testing.T, ie *ImageExtractor, html, pageURL string) []string {
	t.Helper()
	doc := docFrom(t, html)
	base, err := url.Parse(pageURL)
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)
	return ie.Extract(context.Background(), doc, base, logrus.NewEntry(log))
}

func TestExtract_ImgSrcSrcsetDataSrc(t *testing.T) {
	ie := newImageExtractor(t, extractTestOptions())
	got := extractImages(t, ie, `<html><body><div id="page-article">
		<img src="/img/a.jpg" srcset="/img/b.jpg 480w, /img/c.jpg 800w" data-src="/img/d.jpg">
	</div></body></html>`, "https://example.com/story")

	assert.ElementsMatch(t, []string{
		"https://example.com/img/a.jpg",
		"https://example.com/img/b.jpg",
		"https://example.com/img/c.jpg",
		"https://example.com/img/d.jpg",
	}, got)
}

func TestExtract_PictureSourceAndMeta(t *testing.T) {
	ie := newImageExtractor(t, extractTestOptions())
	got := extractImages(t, ie, `<html><head>
		<meta property="og:image" content="https://cdn.example.com/og.jpg">
		<meta name="twitter:image" content="/tw.jpg">
	</head><body><div id="page-article">
		<picture><source srcset="/img/wide.webp 1200w"><img src="/img/base.jpg"></picture>
	</div></body></html>`, "https://example.com/story")

	assert.Contains(t, got, "https://cdn.example.com/og.jpg")
	assert.Contains(t, got, "https://example.com/tw.jpg")
	assert.Contains(t, got, "https://example.com/img/wide.webp")
	assert.Contains(t, got, "https://example.com/img/base.jpg")
}

func TestExtract_InlineBackgroundImage(t *testing.T) {
	ie := newImageExtractor(t, extractTestOptions())
	got := extractImages(t, ie, `<html><body><div id="page-article">
		<div style="background-image: url('/img/bg.jpg'); color: red"></div>
	</div></body></html>`, "https://example.com/story")

	assert.Equal(t, []string{"https://example.com/img/bg.jpg"}, got)
}

func TestExtract_ScopingExcludesChrome(t *testing.T) {
	ie := newImageExtractor(t, extractTestOptions())
	got := extractImages(t, ie, `<html><body>
		<header><img src="/img/header.jpg"></header>
		<div id="page-article"><img src="/img/story.jpg"></div>
		<div class="related"><img src="/img/related.jpg"></div>
		<footer><img src="/img/footer.jpg"></footer>
	</body></html>`, "https://example.com/story")

	assert.Equal(t, []string{"https://example.com/img/story.jpg"}, got)
}

func TestExtract_LinkedThumbnailVetoed(t *testing.T) {
	ie := newImageExtractor(t, extractTestOptions())
	got := extractImages(t, ie, `<html><body><div id="page-article">
		<a href="/other"><img src="/img/teaser.jpg" width="120" height="90"></a>
		<img src="/img/hero.jpg" width="1200" height="800">
	</div></body></html>`, "https://example.com/story")

	assert.Equal(t, []string{"https://example.com/img/hero.jpg"}, got)
}

func TestExtract_ThumbURLsDroppedEarly(t *testing.T) {
	ie := newImageExtractor(t, extractTestOptions())
	got := extractImages(t, ie, `<html><body><div id="page-article">
		<img src="/thumbs/small.jpg">
		<img src="/img/photo-thumbnail.jpg">
		<img src="/img/photo.jpg">
	</div></body></html>`, "https://example.com/story")

	assert.Equal(t, []string{"https://example.com/img/photo.jpg"}, got)
}

func TestExtract_StylesheetSweep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/site.css", r.URL.Path)
		w.Header().Set("Content-Type", "text/css")
		w.Write([]byte(`.hero { background: url("/img/css-bg.jpg"); } .x { background: url(rel.png); }`))
	}))
	defer server.Close()

	opts := extractTestOptions()
	opts.ParseCSS = true
	ie := newImageExtractor(t, opts)

	got := extractImages(t, ie, `<html><head>
		<link rel="stylesheet" href="`+server.URL+`/site.css">
	</head><body><div id="page-article"></div></body></html>`, server.URL+"/story")

	assert.ElementsMatch(t, []string{
		server.URL + "/img/css-bg.jpg",
		server.URL + "/rel.png",
	}, got)
}

func TestExtract_StylesheetSweepDisabledByDefault(t *testing.T) {
	ie := newImageExtractor(t, extractTestOptions())
	got := extractImages(t, ie, `<html><head>
		<link rel="stylesheet" href="https://unreachable.invalid/site.css">
	</head><body><div id="page-article"></div></body></html>`, "https://example.com/story")

	assert.Empty(t, got)
}
