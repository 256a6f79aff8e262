package download

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mediagrab/pkg/audit"
	"mediagrab/pkg/config"
	"mediagrab/pkg/dedup"
	"mediagrab/pkg/fetch"
	"mediagrab/pkg/models"
	"mediagrab/pkg/parse"
	"mediagrab/pkg/utils"
)

// VideoPipeline routes discovered video URLs: direct MP4 files download
// over HTTP, HLS/DASH manifests remux through ffmpeg, and when ffmpeg is
// missing the manifest URL is preserved in the sidecar instead of being
// lost.
type VideoPipeline struct {
	fetcher    *fetch.Fetcher
	limiters   *fetch.LimiterPool
	robots     *fetch.RobotsHandler
	store      *dedup.Store
	auditLog   *audit.Log
	stats      *models.CrawlStats
	opts       *config.Options
	ffmpegPath string
	log        *logrus.Logger
}

// NewVideoPipeline wires the video download path. ffmpegPath may be empty
// when no transcoder is installed.
func NewVideoPipeline(
	fetcher *fetch.Fetcher,
	limiters *fetch.LimiterPool,
	robots *fetch.RobotsHandler,
	store *dedup.Store,
	auditLog *audit.Log,
	stats *models.CrawlStats,
	opts *config.Options,
	log *logrus.Logger,
) *VideoPipeline {
	return &VideoPipeline{
		fetcher:    fetcher,
		limiters:   limiters,
		robots:     robots,
		store:      store,
		auditLog:   auditLog,
		stats:      stats,
		opts:       opts,
		ffmpegPath: FindFFmpeg(),
		log:        log,
	}
}

// FindFFmpeg locates the ffmpeg binary on PATH. Empty string when absent.
func FindFFmpeg() string {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return ""
	}
	return path
}

// FFmpegAvailable reports whether stream conversion is possible.
func (vp *VideoPipeline) FFmpegAvailable() bool { return vp.ffmpegPath != "" }

func (vp *VideoPipeline) record(r models.DownloadResult) {
	vp.stats.Record(r.Status)
	if err := vp.auditLog.Record(r); err != nil {
		vp.log.Errorf("Audit write failed: %v", err)
	}
}

// Process handles one discovered video URL end to end.
func (vp *VideoPipeline) Process(ctx context.Context, c models.MediaCandidate) {
	if strings.HasPrefix(c.MediaURL, "data:") {
		return
	}

	normalized, mediaURL, err := parse.ParseAndNormalizeStream(c.MediaURL)
	if err != nil {
		vp.log.Warnf("Unparseable video URL %s: %v", c.MediaURL, err)
		return
	}

	if !vp.store.ShouldProcess(normalized) {
		return
	}
	vp.stats.Found.Add(1)

	vidLog := vp.log.WithFields(logrus.Fields{"video_url": normalized, "page": c.SourcePageURL})

	// media files are exempt from robots rules unless the run ignores
	// robots entirely anyway; keep the check for the blocked audit row
	if !vp.robots.Allowed(ctx, mediaURL, true) {
		vp.store.ReleaseURL(normalized)
		vp.record(models.DownloadResult{SourcePageURL: c.SourcePageURL, MediaURL: normalized, Status: models.OutcomeRobotsBlocked})
		return
	}

	lower := strings.ToLower(normalized)
	switch {
	case strings.Contains(lower, ".mpd") || strings.Contains(lower, ".m4s"):
		vp.processStream(ctx, c.SourcePageURL, normalized, mediaURL, "DASH", vidLog)
	case strings.Contains(lower, ".m3u8"):
		vp.processStream(ctx, c.SourcePageURL, normalized, mediaURL, "HLS", vidLog)
	default:
		vp.processDirect(ctx, c.SourcePageURL, normalized, mediaURL, vidLog)
	}
}

// processStream remuxes an HLS or DASH manifest into an MP4, or records the
// manifest for later when ffmpeg is unavailable.
func (vp *VideoPipeline) processStream(ctx context.Context, sourcePage, normalized string, mediaURL *url.URL, streamType string, vidLog *logrus.Entry) {
	detected := models.OutcomeHLSDetected
	converted := models.OutcomeConvertedHLS
	if streamType == "DASH" {
		detected = models.OutcomeDASHDetected
		converted = models.OutcomeConvertedDASH
	}

	if !vp.FFmpegAvailable() {
		vidLog.Infof("%s detected, no transcoder available", streamType)
		if err := vp.auditLog.SaveStreamURL(normalized, streamType); err != nil {
			vidLog.Errorf("Stream sidecar write failed: %v", err)
		}
		vp.record(models.DownloadResult{SourcePageURL: sourcePage, MediaURL: normalized, Status: detected, Note: "ffmpeg not available"})
		return
	}

	outDir, err := videoDirFor(vp.opts.OutputDir, sourcePage)
	if err != nil {
		vp.store.ReleaseURL(normalized)
		vp.record(models.DownloadResult{SourcePageURL: sourcePage, MediaURL: normalized, Status: models.OutcomeFailed, Note: utils.CategorizeError(err)})
		return
	}
	outPath := UniquePath(outDir, ForceMP4(MediaFilename(mediaURL, "", ".mp4")))

	vidLog.Infof("Converting %s stream...", streamType)
	size, err := vp.remux(ctx, normalized, outPath)
	if err != nil {
		vp.store.ReleaseURL(normalized)
		vidLog.Errorf("Conversion failed: %v", err)
		if serr := vp.auditLog.SaveStreamURL(normalized, streamType); serr != nil {
			vidLog.Errorf("Stream sidecar write failed: %v", serr)
		}
		vp.record(models.DownloadResult{SourcePageURL: sourcePage, MediaURL: normalized, Status: models.OutcomeConversionFailed, Note: err.Error()})
		return
	}

	vidLog.Infof("Converted %s: %s (%.1f MB)", streamType, filepath.Base(outPath), float64(size)/1024/1024)
	vp.record(models.DownloadResult{SourcePageURL: sourcePage, MediaURL: normalized, LocalPath: outPath, Status: converted, Note: fmt.Sprintf("%d bytes", size)})
}

// remux runs ffmpeg with stream copy under a wall-clock timeout. On any
// failure the output file is removed.
func (vp *VideoPipeline) remux(ctx context.Context, streamURL, outPath string) (int64, error) {
	timeout := time.Duration(vp.opts.Thresholds.RemuxTimeoutSec) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, vp.ffmpegPath,
		"-i", streamURL,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-y",
		outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outPath)
		if ctx.Err() == context.DeadlineExceeded {
			return 0, fmt.Errorf("%w: timed out after %s", utils.ErrTranscoder, timeout)
		}
		msg := strings.TrimSpace(string(output))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return 0, fmt.Errorf("%w: %v: %s", utils.ErrTranscoder, err, msg)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return 0, fmt.Errorf("%w: output missing: %v", utils.ErrTranscoder, err)
	}
	if info.Size() < vp.opts.Thresholds.MinVideoBytes {
		os.Remove(outPath)
		return 0, fmt.Errorf("%w: output too small (%d bytes)", utils.ErrMediaTooSmall, info.Size())
	}
	return info.Size(), nil
}

// processDirect downloads an MP4 (or other direct file) with the source
// page as Referer.
func (vp *VideoPipeline) processDirect(ctx context.Context, sourcePage, normalized string, mediaURL *url.URL, vidLog *logrus.Entry) {
	fail := func(note string) {
		vp.store.ReleaseURL(normalized)
		vp.record(models.DownloadResult{SourcePageURL: sourcePage, MediaURL: normalized, Status: models.OutcomeFailed, Note: note})
	}

	if err := vp.limiters.Wait(ctx, mediaURL.Hostname()); err != nil {
		fail("rate limiter: " + err.Error())
		return
	}

	req, err := vp.fetcher.NewRequest(ctx, normalized, sourcePage)
	if err != nil {
		fail(utils.CategorizeError(err))
		return
	}
	resp, err := vp.fetcher.FetchWithRetry(req, ctx)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		vidLog.Warnf("Fetch failed: %v", err)
		fail(utils.CategorizeError(err))
		return
	}
	defer resp.Body.Close()

	outDir, err := videoDirFor(vp.opts.OutputDir, sourcePage)
	if err != nil {
		fail(utils.CategorizeError(err))
		return
	}

	tmpPath := filepath.Join(outDir, fmt.Sprintf(".dl-%s.tmp", uuid.NewString()))
	size, err := streamToFile(resp.Body, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		fail(utils.CategorizeError(err))
		return
	}
	if size < vp.opts.Thresholds.MinVideoBytes {
		os.Remove(tmpPath)
		vidLog.Infof("Too small (%d bytes)", size)
		fail(fmt.Sprintf("file too small (%d bytes)", size))
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0]))
	finalPath := UniquePath(outDir, MediaFilename(mediaURL, contentType, ".mp4"))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		fail(utils.CategorizeError(fmt.Errorf("%w: %v", utils.ErrFilesystem, err)))
		return
	}

	vidLog.Infof("Downloaded: %s (%.1f MB)", filepath.Base(finalPath), float64(size)/1024/1024)
	vp.record(models.DownloadResult{SourcePageURL: sourcePage, MediaURL: normalized, LocalPath: finalPath, Status: models.OutcomeDownloaded, Note: fmt.Sprintf("%d bytes", size)})
}

func videoDirFor(baseDir, sourcePage string) (string, error) {
	pageURL, err := url.Parse(sourcePage)
	if err != nil {
		return "", fmt.Errorf("%w: source page %s: %v", utils.ErrParsing, sourcePage, err)
	}
	return VideoOutputDir(baseDir, pageURL)
}
