// Package crawler runs the breadth-first crawl: pages come off a FIFO
// queue, media candidates go to the download pipelines, and in-scope links
// feed the next depth level. One crawler instance serves one seed URL.
package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"mediagrab/pkg/checkpoint"
	"mediagrab/pkg/config"
	"mediagrab/pkg/dedup"
	"mediagrab/pkg/download"
	"mediagrab/pkg/extract"
	"mediagrab/pkg/fetch"
	"mediagrab/pkg/models"
	"mediagrab/pkg/parse"
	"mediagrab/pkg/render"
	"mediagrab/pkg/utils"
)

// checkpointInterval is how many processed pages pass between checkpoint
// writes. A final write always happens at shutdown.
const checkpointInterval = 10

// Deps bundles the shared components a crawl needs. Everything is required
// except Renderer, which is nil unless JavaScript rendering is on, and the
// pipeline not matching Mode.
type Deps struct {
	Fetcher    *fetch.Fetcher
	Limiters   *fetch.LimiterPool
	Robots     *fetch.RobotsHandler
	Visited    *dedup.VisitedSet
	Store      *dedup.Store
	Images     *download.ImagePipeline
	Videos     *download.VideoPipeline
	Extractor  *extract.ImageExtractor
	Discoverer *extract.VideoDiscoverer
	Renderer   *render.Renderer
	Stats      *models.CrawlStats
}

// Crawler orchestrates the breadth-first crawl for one seed URL.
type Crawler struct {
	opts *config.Options
	mode models.MediaKind
	deps Deps
	log  *logrus.Logger

	allowedDomain string
	dlSem         *semaphore.Weighted
	queue         []models.PageTask
	pagesDone     int
}

// New creates a crawler in the given mode. The allowed domain is fixed to
// the seed's hostname; links leading anywhere else are never followed.
func New(opts *config.Options, mode models.MediaKind, deps Deps, log *logrus.Logger) (*Crawler, error) {
	seed, err := url.ParseRequestURI(opts.SeedURL())
	if err != nil {
		return nil, fmt.Errorf("%w: seed URL: %v", utils.ErrConfigValidation, err)
	}
	return &Crawler{
		opts:          opts,
		mode:          mode,
		deps:          deps,
		log:           log,
		allowedDomain: seed.Hostname(),
		dlSem:         semaphore.NewWeighted(int64(opts.Workers)),
	}, nil
}

// Run drives the crawl until the queue drains, the page cap is reached, or
// ctx is cancelled. A checkpoint is written periodically and always once at
// the end, so an interrupted run loses at most the pages since the last
// interval.
func (c *Crawler) Run(ctx context.Context) error {
	startTime := time.Now()
	c.queue = []models.PageTask{{URL: c.opts.SeedURL(), Depth: 0}}

	c.log.WithFields(logrus.Fields{
		"seed":      c.opts.SeedURL(),
		"mode":      c.mode.String(),
		"max_depth": c.opts.MaxDepth,
		"max_pages": c.opts.MaxPages,
	}).Info("Starting crawl")

	for len(c.queue) > 0 && c.pagesDone < c.opts.MaxPages {
		if ctx.Err() != nil {
			c.log.Warn("Crawl interrupted, writing final checkpoint")
			break
		}

		task := c.queue[0]
		c.queue = c.queue[1:]

		if c.processPage(ctx, task) {
			c.pagesDone++
			if c.pagesDone%checkpointInterval == 0 {
				c.saveCheckpoint()
			}
		}
	}

	c.saveCheckpoint()
	c.logSummary(time.Since(startTime))
	return ctx.Err()
}

// processPage handles one queued page end to end. Returns true when the
// page counted against the page cap (i.e. it was not a duplicate or
// unparseable URL).
func (c *Crawler) processPage(ctx context.Context, task models.PageTask) bool {
	taskLog := c.log.WithFields(logrus.Fields{"url": task.URL, "depth": task.Depth})

	normalized, pageURL, err := parse.ParseAndNormalizePage(task.URL)
	if err != nil {
		taskLog.Debugf("Unparseable page URL: %v", err)
		return false
	}
	if !c.deps.Visited.CheckAndAdd(normalized) {
		return false
	}

	c.deps.Stats.PagesProcessed.Add(1)

	if !c.deps.Robots.Allowed(ctx, pageURL, false) {
		taskLog.Info("Page blocked by robots.txt")
		c.deps.Stats.RobotsBlocked.Add(1)
		return true
	}

	doc, rawHTML, finalURL, err := c.fetchPage(ctx, normalized, pageURL, taskLog)
	if err != nil {
		taskLog.Warnf("Page fetch failed: %v", err)
		return true
	}

	// rendering is additive: the static extraction always runs, the
	// rendered DOM and the browser's network capture extend it
	var rendered *render.Result
	var renderedDoc *goquery.Document
	if c.deps.Renderer != nil {
		rendered, renderedDoc = c.renderPage(ctx, normalized, taskLog)
	}

	switch c.mode {
	case models.KindVideo:
		c.handleVideos(ctx, doc, renderedDoc, rendered, rawHTML, finalURL, taskLog)
	default:
		c.handleImages(ctx, doc, renderedDoc, rendered, finalURL, taskLog)
	}

	if task.Depth < c.opts.MaxDepth {
		c.enqueueLinks(doc, renderedDoc, finalURL, task.Depth, taskLog)
	}
	return true
}

// fetchPage performs the polite HTTP fetch and parses the body. Returns the
// parsed document, the raw markup, and the URL after redirects.
func (c *Crawler) fetchPage(ctx context.Context, normalized string, pageURL *url.URL, taskLog *logrus.Entry) (*goquery.Document, string, *url.URL, error) {
	if err := c.deps.Limiters.Wait(ctx, pageURL.Hostname()); err != nil {
		return nil, "", nil, err
	}

	req, err := c.deps.Fetcher.NewRequest(ctx, normalized, "")
	if err != nil {
		return nil, "", nil, err
	}
	resp, err := c.deps.Fetcher.FetchWithRetry(req, ctx)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, "", nil, err
	}
	defer resp.Body.Close()

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		return nil, "", nil, fmt.Errorf("%w: not an HTML page (%s)", utils.ErrParsing, contentType)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, "", nil, fmt.Errorf("%w: %v", utils.ErrParsing, err)
	}

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	return doc, string(body), finalURL, nil
}

// renderPage runs the headless browser pass. Failures degrade to the
// static-HTML result rather than failing the page.
func (c *Crawler) renderPage(ctx context.Context, normalized string, taskLog *logrus.Entry) (*render.Result, *goquery.Document) {
	res, err := c.deps.Renderer.Render(ctx, normalized)
	if err != nil {
		taskLog.Warnf("Render failed, using static HTML only: %v", err)
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
	if err != nil {
		taskLog.Warnf("Rendered DOM unparseable: %v", err)
		return res, nil
	}
	return res, doc
}

// handleImages extracts image candidates and downloads them with bounded
// parallelism. All downloads of a page complete before the crawl moves on.
func (c *Crawler) handleImages(ctx context.Context, doc, renderedDoc *goquery.Document, rendered *render.Result, pageURL *url.URL, taskLog *logrus.Entry) {
	seen := make(map[string]struct{})
	var candidates []string
	add := func(urls []string) {
		for _, u := range urls {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			candidates = append(candidates, u)
		}
	}

	add(c.deps.Extractor.Extract(ctx, doc, pageURL, taskLog))
	if renderedDoc != nil {
		add(c.deps.Extractor.Extract(ctx, renderedDoc, pageURL, taskLog))
	}
	if rendered != nil {
		add(rendered.Images)
	}

	if len(candidates) == 0 {
		return
	}
	taskLog.Infof("Found %d image candidates", len(candidates))

	done := make(chan struct{}, len(candidates))
	launched := 0
	for _, imgURL := range candidates {
		if err := c.dlSem.Acquire(ctx, 1); err != nil {
			break
		}
		launched++
		go func(u string) {
			defer c.dlSem.Release(1)
			defer func() { done <- struct{}{} }()
			c.deps.Images.Download(ctx, models.MediaCandidate{
				SourcePageURL: pageURL.String(),
				MediaURL:      u,
			})
		}(imgURL)
	}
	for i := 0; i < launched; i++ {
		<-done
	}
}

// handleVideos discovers stream and file URLs and routes them through the
// video pipeline. Remuxing is serial: one ffmpeg at a time is plenty.
func (c *Crawler) handleVideos(ctx context.Context, doc, renderedDoc *goquery.Document, rendered *render.Result, rawHTML string, pageURL *url.URL, taskLog *logrus.Entry) {
	seen := make(map[string]struct{})
	var candidates []string
	add := func(urls []string) {
		for _, u := range urls {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			candidates = append(candidates, u)
		}
	}

	add(c.deps.Discoverer.Discover(ctx, doc, rawHTML, pageURL, taskLog))
	if renderedDoc != nil && rendered != nil {
		add(c.deps.Discoverer.Discover(ctx, renderedDoc, rendered.HTML, pageURL, taskLog))
	}
	if rendered != nil {
		add(rendered.Videos)
	}

	if len(candidates) == 0 {
		return
	}
	taskLog.Infof("Found %d video candidates", len(candidates))

	for _, vidURL := range candidates {
		if ctx.Err() != nil {
			return
		}
		c.deps.Videos.Process(ctx, models.MediaCandidate{
			SourcePageURL: pageURL.String(),
			MediaURL:      vidURL,
		})
	}
}

// enqueueLinks pushes same-domain links onto the BFS queue at depth+1.
func (c *Crawler) enqueueLinks(doc, renderedDoc *goquery.Document, pageURL *url.URL, depth int, taskLog *logrus.Entry) {
	links := extract.ExtractLinks(doc, pageURL, c.allowedDomain)
	if renderedDoc != nil {
		links = append(links, extract.ExtractLinks(renderedDoc, pageURL, c.allowedDomain)...)
	}

	added := 0
	for _, link := range links {
		if c.deps.Visited.Contains(link) {
			continue
		}
		c.queue = append(c.queue, models.PageTask{URL: link, Depth: depth + 1})
		added++
	}
	if added > 0 {
		taskLog.Debugf("Queued %d links at depth %d", added, depth+1)
	}
}

// saveCheckpoint snapshots the visited set and dedup state. Failures are
// logged and the crawl continues; losing a checkpoint is recoverable, a
// crashed crawl is not.
func (c *Crawler) saveCheckpoint() {
	st := &checkpoint.State{
		VisitedURLs:      c.deps.Visited.Snapshot(),
		DownloadedHashes: c.deps.Store.SnapshotDownloaded(),
		PerceptualHashes: c.deps.Store.SnapshotPerceptual(),
	}
	if err := checkpoint.Save(c.opts.CheckpointPath, st); err != nil {
		c.log.Errorf("Checkpoint write failed: %v", err)
		return
	}
	c.log.Debugf("Checkpoint saved (%d visited)", len(st.VisitedURLs))
}

// logSummary prints the end-of-run accounting block.
func (c *Crawler) logSummary(elapsed time.Duration) {
	s := c.deps.Stats
	c.log.Info("----- Crawl Summary -----")
	c.log.Infof("Elapsed:         %s", elapsed.Round(time.Second))
	c.log.Infof("Pages processed: %d", s.PagesProcessed.Load())
	if c.mode == models.KindVideo {
		c.log.Infof("Videos found:    %d", s.Found.Load())
		c.log.Infof("Downloaded:      %d", s.Downloaded.Load())
		c.log.Infof("Converted:       %d", s.Converted.Load())
		c.log.Infof("Detected only:   %d", s.Detected.Load())
	} else {
		c.log.Infof("Downloaded:      %d", s.Downloaded.Load())
		c.log.Infof("Skipped:         %d", s.Skipped.Load())
	}
	c.log.Infof("Failed:          %d", s.Failed.Load())
	c.log.Infof("Robots blocked:  %d", s.RobotsBlocked.Load())
	c.log.Info("-------------------------")
}
