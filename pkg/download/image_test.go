package download

import (
	"bytes"
	"context"
	"encoding/csv"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediagrab/pkg/audit"
	"mediagrab/pkg/config"
	"mediagrab/pkg/dedup"
	"mediagrab/pkg/fetch"
	"mediagrab/pkg/models"
)

func pipelineOptions(t *testing.T) *config.Options {
	t.Helper()
	var o config.Options
	o.Positional.SeedURL = "https://example.com/"
	o.OutputDir = t.TempDir()
	o.MaxRetries = 1
	o.Timeout = 5 * time.Second
	o.UserAgent = "mediagrab-test/1.0"
	o.IgnoreRobots = true
	o.Thresholds = config.DefaultThresholds()
	o.Thresholds.MinImageBytes = 10 // tiny test fixtures
	return &o
}

type imageHarness struct {
	pipeline *ImagePipeline
	store    *dedup.Store
	stats    *models.CrawlStats
	opts     *config.Options
	auditDir string
}

func newImageHarness(t *testing.T, opts *config.Options) *imageHarness {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	auditDir := t.TempDir()
	auditLog, err := audit.Open(auditDir)
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	client := fetch.NewClient(opts, log)
	fetcher := fetch.NewFetcher(client, opts, log)
	limiters := fetch.NewLimiterPool(1000)
	robots := fetch.NewRobotsHandler(fetcher, limiters, opts.UserAgent, opts.IgnoreRobots, logrus.NewEntry(log))
	store := dedup.NewStore(opts.PerceptualHash)
	stats := &models.CrawlStats{}

	return &imageHarness{
		pipeline: NewImagePipeline(fetcher, limiters, robots, store, auditLog, stats, opts, log),
		store:    store,
		stats:    stats,
		opts:     opts,
		auditDir: auditDir,
	}
}

func (h *imageHarness) auditRows(t *testing.T) [][]string {
	t.Helper()
	f, err := os.Open(filepath.Join(h.auditDir, "download_log.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows[1:] // drop header
}

func pngBytes(t *testing.T, w, h int, fill color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImagePipeline_DownloadsAndRecordsSuccess(t *testing.T) {
	body := pngBytes(t, 64, 64, color.White)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer server.Close()

	h := newImageHarness(t, pipelineOptions(t))
	h.pipeline.Download(context.Background(), models.MediaCandidate{
		SourcePageURL: server.URL + "/story",
		MediaURL:      server.URL + "/img/photo.png",
	})

	rows := h.auditRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "success", rows[0][3])
	assert.FileExists(t, rows[0][2])
	assert.Equal(t, int64(1), h.stats.Downloaded.Load())

	// saved under the source page's bucket
	saved, err := os.ReadFile(rows[0][2])
	require.NoError(t, err)
	assert.Equal(t, body, saved)
}

func TestImagePipeline_VetoedURLNeverFetched(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	h := newImageHarness(t, pipelineOptions(t))
	h.pipeline.Download(context.Background(), models.MediaCandidate{
		SourcePageURL: server.URL + "/story",
		MediaURL:      server.URL + "/assets/icons/close.png",
	})

	assert.Equal(t, 0, hits)
	rows := h.auditRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "skipped_ui_asset_icon_path", rows[0][3])
	assert.Equal(t, int64(1), h.stats.Skipped.Load())
}

func TestImagePipeline_SVGContentTypeSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write([]byte("<svg xmlns='http://www.w3.org/2000/svg'/>"))
	}))
	defer server.Close()

	h := newImageHarness(t, pipelineOptions(t))
	h.pipeline.Download(context.Background(), models.MediaCandidate{
		SourcePageURL: server.URL + "/story",
		MediaURL:      server.URL + "/img/picture",
	})

	rows := h.auditRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "skipped_svg_content_type", rows[0][3])
}

func TestImagePipeline_SmallContentLengthSkipped(t *testing.T) {
	opts := pipelineOptions(t)
	opts.Thresholds.MinImageBytes = 10 * 1024
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes(t, 4, 4, color.White)) // well under 10KiB
	}))
	defer server.Close()

	h := newImageHarness(t, opts)
	h.pipeline.Download(context.Background(), models.MediaCandidate{
		SourcePageURL: server.URL + "/story",
		MediaURL:      server.URL + "/img/tiny.png",
	})

	rows := h.auditRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "skipped_small_content_length", rows[0][3])
}

func TestImagePipeline_InvalidImageDeleted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("this is definitely not a png image, just some bytes"))
	}))
	defer server.Close()

	opts := pipelineOptions(t)
	h := newImageHarness(t, opts)
	h.pipeline.Download(context.Background(), models.MediaCandidate{
		SourcePageURL: server.URL + "/story",
		MediaURL:      server.URL + "/img/fake.png",
	})

	rows := h.auditRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "invalid_image", rows[0][3])

	// nothing left on disk anywhere under the output dir
	var files []string
	filepath.Walk(opts.OutputDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	assert.Empty(t, files)
}

func TestImagePipeline_DuplicateURLSilent(t *testing.T) {
	body := pngBytes(t, 64, 64, color.White)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer server.Close()

	h := newImageHarness(t, pipelineOptions(t))
	c := models.MediaCandidate{
		SourcePageURL: server.URL + "/story",
		MediaURL:      server.URL + "/img/photo.png",
	}
	h.pipeline.Download(context.Background(), c)
	h.pipeline.Download(context.Background(), c)

	assert.Len(t, h.auditRows(t), 1, "second attempt leaves no audit row")
}

func TestImagePipeline_QueryVariantsDedupedOnce(t *testing.T) {
	body := pngBytes(t, 64, 64, color.White)
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer server.Close()

	h := newImageHarness(t, pipelineOptions(t))
	// cache-buster query strings point at the same underlying asset
	h.pipeline.Download(context.Background(), models.MediaCandidate{
		SourcePageURL: server.URL + "/story",
		MediaURL:      server.URL + "/img/photo.png?v=1",
	})
	h.pipeline.Download(context.Background(), models.MediaCandidate{
		SourcePageURL: server.URL + "/story",
		MediaURL:      server.URL + "/img/photo.png?v=2",
	})

	assert.Equal(t, 1, hits)
	assert.Len(t, h.auditRows(t), 1)

	var files []string
	filepath.Walk(h.opts.OutputDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	assert.Len(t, files, 1)
}

func TestImagePipeline_PerceptualDuplicateDeleted(t *testing.T) {
	body := pngBytes(t, 64, 64, color.White)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer server.Close()

	opts := pipelineOptions(t)
	opts.PerceptualHash = true
	h := newImageHarness(t, opts)

	h.pipeline.Download(context.Background(), models.MediaCandidate{
		SourcePageURL: server.URL + "/story",
		MediaURL:      server.URL + "/img/first.png",
	})
	h.pipeline.Download(context.Background(), models.MediaCandidate{
		SourcePageURL: server.URL + "/story",
		MediaURL:      server.URL + "/img/second.png",
	})

	rows := h.auditRows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, "success", rows[0][3])
	assert.Equal(t, "perceptual_duplicate", rows[1][3])
	assert.Empty(t, rows[1][2])
}

func TestImagePipeline_CompressReencodesOpaque(t *testing.T) {
	body := pngBytes(t, 64, 64, color.White) // fully opaque
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer server.Close()

	opts := pipelineOptions(t)
	opts.Compress = true
	opts.JPEGQuality = 85
	h := newImageHarness(t, opts)

	h.pipeline.Download(context.Background(), models.MediaCandidate{
		SourcePageURL: server.URL + "/story",
		MediaURL:      server.URL + "/img/photo.png",
	})

	rows := h.auditRows(t)
	require.Len(t, rows, 1)
	require.Equal(t, "success", rows[0][3])
	assert.Equal(t, ".jpg", filepath.Ext(rows[0][2]))

	f, err := os.Open(rows[0][2])
	require.NoError(t, err)
	defer f.Close()
	_, format, err := image.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestImagePipeline_CompressKeepsAlphaImages(t *testing.T) {
	// half-transparent image must keep its original PNG bytes
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 128})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	opts := pipelineOptions(t)
	opts.Compress = true
	h := newImageHarness(t, opts)

	h.pipeline.Download(context.Background(), models.MediaCandidate{
		SourcePageURL: server.URL + "/story",
		MediaURL:      server.URL + "/img/overlay.png",
	})

	rows := h.auditRows(t)
	require.Len(t, rows, 1)
	require.Equal(t, "success", rows[0][3])
	assert.Equal(t, ".png", filepath.Ext(rows[0][2]))
}

func TestReencodeJPEG_FailureKeepsOriginalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	original := pngBytes(t, 64, 64, color.White)
	require.NoError(t, os.WriteFile(path, original, 0o644))

	// a uniform image has unbounded dimensions, which the JPEG encoder
	// rejects before emitting any bytes
	err := reencodeJPEG(image.NewUniform(color.White), path, 85)
	require.Error(t, err)

	saved, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, original, saved, "failed re-encode must not disturb the saved file")

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	require.Len(t, entries, 1, "no stray temp files after a failed re-encode")
	assert.Equal(t, "photo.jpg", entries[0].Name())
}
