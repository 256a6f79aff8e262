// Package render drives a headless Chrome session to obtain the
// post-JavaScript DOM of a page and the media requests the page made while
// loading. Rendering is strictly additive: the crawler merges its findings
// with the static-HTML extraction, it never replaces it.
package render

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"mediagrab/pkg/config"
	"mediagrab/pkg/models"
	"mediagrab/pkg/utils"
)

// maxIframeRenders caps how many same-origin iframes get their own
// navigation per page. Embedded players are almost always the first one.
const maxIframeRenders = 3

// Result is one rendered page: the final DOM, plus every media URL the
// browser was observed requesting while the page loaded, already routed by
// kind. Classification happens at capture time, where the response MIME
// type is available; extensionless manifest URLs would be unroutable later.
type Result struct {
	HTML     string
	FinalURL string
	Images   []string
	Videos   []string
}

// Renderer owns a Chrome exec allocator shared by all renders of a run.
type Renderer struct {
	opts     *config.Options
	log      *logrus.Logger
	allocCtx context.Context
	cancel   context.CancelFunc
}

// New starts the allocator. Returns ErrRenderDisabled when the run was not
// started with rendering on, so callers can treat the renderer as optional.
func New(opts *config.Options, log *logrus.Logger) (*Renderer, error) {
	if !opts.RenderJS {
		return nil, utils.ErrRenderDisabled
	}

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.UserAgent(opts.UserAgent),
	)
	if opts.ChromePath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(opts.ChromePath))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	return &Renderer{opts: opts, log: log, allocCtx: allocCtx, cancel: cancel}, nil
}

// Close shuts the allocator down. Safe to call on a nil receiver so callers
// can defer it unconditionally.
func (r *Renderer) Close() {
	if r == nil {
		return
	}
	r.cancel()
}

// Render navigates to pageURL, waits for the load plus the settle window,
// and returns the resulting DOM together with the media URLs seen on the
// wire. Same-origin iframes get a bounded follow-up navigation in the same
// tab so their network traffic lands in the same capture.
func (r *Renderer) Render(ctx context.Context, pageURL string) (*Result, error) {
	browserCtx, cancelBrowser := chromedp.NewContext(r.allocCtx)
	defer cancelBrowser()

	timeout := r.opts.Timeout + r.opts.JSWait
	runCtx, cancelRun := context.WithTimeout(browserCtx, timeout)
	defer cancelRun()

	// propagate caller cancellation into the browser run
	go func() {
		select {
		case <-ctx.Done():
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	var mu sync.Mutex
	seen := make(map[string]models.MediaKind)
	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		kind, ok := classifyMediaResponse(e.Response.URL, e.Response.MimeType)
		if !ok {
			return
		}
		mu.Lock()
		seen[e.Response.URL] = kind
		mu.Unlock()
	})

	var html, finalURL string
	err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.opts.JSWait),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", pageURL, err)
	}

	// visiting an embedded player frame triggers its manifest requests,
	// which the listener above then picks up
	for _, frameURL := range sameOriginIframes(html, finalURL) {
		frameErr := chromedp.Run(runCtx,
			chromedp.Navigate(frameURL),
			chromedp.Sleep(r.opts.JSWait),
		)
		if frameErr != nil {
			r.log.WithField("iframe", frameURL).Debugf("Iframe render failed: %v", frameErr)
		}
	}

	mu.Lock()
	var images, videos []string
	for u, kind := range seen {
		if kind == models.KindVideo {
			videos = append(videos, u)
		} else {
			images = append(images, u)
		}
	}
	mu.Unlock()
	sort.Strings(images)
	sort.Strings(videos)

	return &Result{HTML: html, FinalURL: finalURL, Images: images, Videos: videos}, nil
}

// manifestMIMEs are the stream manifest types whose URLs often carry no
// media file extension.
var manifestMIMEs = map[string]struct{}{
	"application/vnd.apple.mpegurl": {},
	"application/x-mpegurl":         {},
	"application/dash+xml":          {},
}

// classifyMediaResponse routes a network response to a download pipeline.
// The MIME type decides first so extensionless manifest and image URLs are
// kept; the URL extension is the fallback for mislabeled responses.
func classifyMediaResponse(rawURL, mimeType string) (models.MediaKind, bool) {
	if strings.HasPrefix(rawURL, "data:") {
		return 0, false
	}
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if strings.HasPrefix(mt, "image/") {
		return models.KindImage, true
	}
	if strings.HasPrefix(mt, "video/") {
		return models.KindVideo, true
	}
	if _, ok := manifestMIMEs[mt]; ok {
		return models.KindVideo, true
	}
	ext := utils.URLExtension(rawURL)
	if utils.ImageExtensions[ext] {
		return models.KindImage, true
	}
	if utils.VideoExtensions[ext] {
		return models.KindVideo, true
	}
	return 0, false
}

// sameOriginIframes returns absolute iframe URLs sharing the page's host,
// capped at maxIframeRenders. Cross-origin frames are handled by the embed
// resolver instead.
func sameOriginIframes(html, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var frames []string
	doc.Find("iframe[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		u, err := base.Parse(strings.TrimSpace(src))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return true
		}
		if !strings.EqualFold(u.Hostname(), base.Hostname()) {
			return true
		}
		frames = append(frames, u.String())
		return len(frames) < maxIframeRenders
	})
	return frames
}
