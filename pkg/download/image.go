package download

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "image/gif"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"mediagrab/pkg/audit"
	"mediagrab/pkg/config"
	"mediagrab/pkg/dedup"
	"mediagrab/pkg/extract"
	"mediagrab/pkg/fetch"
	"mediagrab/pkg/models"
	"mediagrab/pkg/parse"
	"mediagrab/pkg/utils"
)

// ImagePipeline takes an image URL through vetting, polite fetch, on-disk
// validation, dedup, and optional re-encoding. Every terminal decision is
// recorded in the audit log and the run stats. Failed candidates never
// leave a file behind.
type ImagePipeline struct {
	fetcher  *fetch.Fetcher
	limiters *fetch.LimiterPool
	robots   *fetch.RobotsHandler
	store    *dedup.Store
	filter   *extract.URLFilter
	auditLog *audit.Log
	stats    *models.CrawlStats
	opts     *config.Options
	log      *logrus.Logger
}

// NewImagePipeline wires the image download path.
func NewImagePipeline(
	fetcher *fetch.Fetcher,
	limiters *fetch.LimiterPool,
	robots *fetch.RobotsHandler,
	store *dedup.Store,
	auditLog *audit.Log,
	stats *models.CrawlStats,
	opts *config.Options,
	log *logrus.Logger,
) *ImagePipeline {
	return &ImagePipeline{
		fetcher:  fetcher,
		limiters: limiters,
		robots:   robots,
		store:    store,
		filter:   extract.NewURLFilter(opts.Thresholds),
		auditLog: auditLog,
		stats:    stats,
		opts:     opts,
		log:      log,
	}
}

// record writes the outcome to audit and stats, logging audit failures
// instead of failing the download over them.
func (ip *ImagePipeline) record(r models.DownloadResult) {
	ip.stats.Record(r.Status)
	if err := ip.auditLog.Record(r); err != nil {
		ip.log.Errorf("Audit write failed: %v", err)
	}
}

// Download processes one image candidate. Duplicate URLs return silently;
// everything else ends in exactly one audit row.
func (ip *ImagePipeline) Download(ctx context.Context, c models.MediaCandidate) {
	imgLog := ip.log.WithFields(logrus.Fields{"img_url": c.MediaURL, "page": c.SourcePageURL})

	// URL veto chain, re-run here so candidates from every extraction
	// source get the same treatment and an audit row
	if reason, skip := ip.filter.Check(c.MediaURL); skip {
		imgLog.Infof("Filtered: %s", reason)
		ip.record(models.DownloadResult{SourcePageURL: c.SourcePageURL, MediaURL: c.MediaURL, Status: reason})
		return
	}

	// the dedup key drops the query string, so cache-buster parameters
	// cannot defeat exact dedup; the fetch still uses the full URL
	normalized, mediaURL, err := parse.ParseAndNormalizePage(c.MediaURL)
	if err != nil {
		imgLog.Warnf("Unparseable image URL: %v", err)
		return
	}

	// exact dedup, silent like the rest of the pipeline treats re-seen URLs
	if !ip.store.ShouldProcess(normalized) {
		return
	}

	if !ip.robots.Allowed(ctx, mediaURL, false) {
		imgLog.Info("Blocked by robots.txt")
		ip.store.ReleaseURL(normalized)
		ip.record(models.DownloadResult{SourcePageURL: c.SourcePageURL, MediaURL: c.MediaURL, Status: models.OutcomeRobotsBlocked})
		return
	}

	result := ip.fetchAndStore(ctx, c, mediaURL, imgLog)
	if result.Status != models.OutcomeSuccess {
		ip.store.ReleaseURL(normalized)
	}
	ip.record(result)
}

// fetchAndStore is the wire-to-disk half of the pipeline. It returns the
// terminal result; on anything but success no file remains.
func (ip *ImagePipeline) fetchAndStore(ctx context.Context, c models.MediaCandidate, mediaURL *url.URL, imgLog *logrus.Entry) models.DownloadResult {
	res := models.DownloadResult{SourcePageURL: c.SourcePageURL, MediaURL: c.MediaURL}
	minBytes := ip.opts.Thresholds.MinImageBytes

	if err := ip.limiters.Wait(ctx, mediaURL.Hostname()); err != nil {
		res.Status = models.OutcomeFailed
		res.Note = "rate limiter: " + err.Error()
		return res
	}

	req, err := ip.fetcher.NewRequest(ctx, c.MediaURL, "")
	if err != nil {
		res.Status = models.OutcomeFailed
		res.Note = utils.CategorizeError(err)
		return res
	}
	resp, err := ip.fetcher.FetchWithRetry(req, ctx)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		imgLog.Warnf("Fetch failed: %v", err)
		res.Status = models.OutcomeFailed
		res.Note = utils.CategorizeError(err)
		return res
	}
	defer resp.Body.Close()

	contentType := strings.ToLower(strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0]))
	if contentType == "image/svg+xml" {
		imgLog.Info("SVG content type, skipping")
		res.Status = models.SkipSVGContentType
		return res
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n < minBytes {
			imgLog.Infof("Too small by Content-Length (%d bytes)", n)
			res.Status = models.SkipSmallContentLength
			return res
		}
	}

	outDir, err := imageDirFor(ip.opts.OutputDir, c.SourcePageURL)
	if err != nil {
		res.Status = models.OutcomeFailed
		res.Note = utils.CategorizeError(err)
		return res
	}

	// stream into a temp file; only a fully validated image is renamed in
	tmpPath := filepath.Join(outDir, fmt.Sprintf(".dl-%s.tmp", uuid.NewString()))
	size, err := streamToFile(resp.Body, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		res.Status = models.OutcomeFailed
		res.Note = utils.CategorizeError(err)
		return res
	}

	if size < minBytes {
		os.Remove(tmpPath)
		imgLog.Infof("Too small on disk (%d bytes)", size)
		res.Status = models.SkipSmallActual
		return res
	}

	img, _, err := decodeImageFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		imgLog.Warnf("Not a decodable image: %v", err)
		res.Status = models.SkipInvalidImage
		return res
	}

	isDup, digest, err := ip.store.PerceptualCheck(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		res.Status = models.SkipInvalidImage
		return res
	}
	if isDup {
		os.Remove(tmpPath)
		imgLog.Info("Perceptual duplicate")
		res.Status = models.SkipPerceptualDup
		return res
	}

	// alpha images keep their original bytes; opaque ones re-encode as JPEG
	filename := MediaFilename(mediaURL, contentType, ".jpg")
	if ip.opts.Compress && opaque(img) {
		if err := reencodeJPEG(img, tmpPath, ip.opts.JPEGQuality); err != nil {
			imgLog.Warnf("Re-encode failed, keeping original bytes: %v", err)
		} else {
			filename = ForceJPG(filename)
		}
	}

	finalPath := UniquePath(outDir, filename)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		res.Status = models.OutcomeFailed
		res.Note = utils.CategorizeError(fmt.Errorf("%w: %v", utils.ErrFilesystem, err))
		return res
	}

	// the digest is committed only now that the file is durably in place;
	// a failed rename must not poison the perceptual set
	ip.store.AddPerceptual(digest)

	imgLog.Infof("Saved %s (%d bytes)", filepath.Base(finalPath), size)
	res.Status = models.OutcomeSuccess
	res.LocalPath = finalPath
	return res
}

func imageDirFor(baseDir, sourcePage string) (string, error) {
	pageURL, err := url.Parse(sourcePage)
	if err != nil {
		return "", fmt.Errorf("%w: source page %s: %v", utils.ErrParsing, sourcePage, err)
	}
	return ImageOutputDir(baseDir, pageURL)
}

// streamToFile copies the body to path and returns the byte count.
func streamToFile(r io.Reader, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("%w: creating %s: %v", utils.ErrFilesystem, path, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("%w: writing %s: %v", utils.ErrResponseBodyRead, path, err)
	}
	return n, nil
}

func decodeImageFile(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", utils.ErrFilesystem, err)
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", utils.ErrInvalidMedia, err)
	}
	return img, format, nil
}

// opaque reports whether the image carries no usable alpha channel.
func opaque(img image.Image) bool {
	type opaquer interface{ Opaque() bool }
	if o, ok := img.(opaquer); ok {
		return o.Opaque()
	}
	return false
}

// reencodeJPEG rewrites the file as a JPEG at the given quality. The encode
// goes to its own temp file and only replaces path on success, so a failed
// encode leaves the original bytes untouched.
func reencodeJPEG(img image.Image, path string, quality int) error {
	encPath := filepath.Join(filepath.Dir(path), fmt.Sprintf(".enc-%s.tmp", uuid.NewString()))
	f, err := os.Create(encPath)
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrFilesystem, err)
	}
	err = jpeg.Encode(f, img, &jpeg.Options{Quality: quality})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(encPath)
		return err
	}
	if err := os.Rename(encPath, path); err != nil {
		os.Remove(encPath)
		return fmt.Errorf("%w: %v", utils.ErrFilesystem, err)
	}
	return nil
}

// ForceJPG swaps the extension for .jpg after a JPEG re-encode.
func ForceJPG(filename string) string {
	ext := filepath.Ext(filename)
	if strings.EqualFold(ext, ".jpg") || strings.EqualFold(ext, ".jpeg") {
		return filename
	}
	return strings.TrimSuffix(filename, ext) + ".jpg"
}
