package extract

import (
	"context"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"mediagrab/pkg/config"
	"mediagrab/pkg/fetch"
)

// cssURLRe pulls url(...) references out of style attributes and
// stylesheets.
var cssURLRe = regexp.MustCompile(`url\(["']?([^"')]+)["']?\)`)

// ImageExtractor collects candidate image URLs from a parsed page. All
// extraction happens inside the scoped content root except the meta tags,
// which are page-global by nature.
type ImageExtractor struct {
	filter     *URLFilter
	thresholds config.Thresholds
	fetcher    *fetch.Fetcher
	limiters   *fetch.LimiterPool
	parseCSS   bool
	log        *logrus.Logger
}

// NewImageExtractor creates an ImageExtractor. fetcher and limiters are
// only used for the optional linked-stylesheet sweep.
func NewImageExtractor(opts *config.Options, fetcher *fetch.Fetcher, limiters *fetch.LimiterPool, log *logrus.Logger) *ImageExtractor {
	return &ImageExtractor{
		filter:     NewURLFilter(opts.Thresholds),
		thresholds: opts.Thresholds,
		fetcher:    fetcher,
		limiters:   limiters,
		parseCSS:   opts.ParseCSS,
		log:        log,
	}
}

// Extract returns the unique candidate image URLs of a page, absolute and
// in no particular order.
func (ie *ImageExtractor) Extract(ctx context.Context, doc *goquery.Document, pageURL *url.URL, taskLog *logrus.Entry) []string {
	images := make(map[string]struct{})
	add := func(raw string) {
		full, err := pageURL.Parse(strings.TrimSpace(raw))
		if err != nil {
			return
		}
		if full.Scheme != "http" && full.Scheme != "https" {
			return
		}
		s := full.String()
		if ie.filter.quickThumbCheck(s) {
			return
		}
		images[s] = struct{}{}
	}

	root := SelectContentRoot(doc)
	PruneNoiseBlocks(root)

	hops := ie.thresholds.MaxAncestorHops
	minSide := ie.thresholds.MinImageSide
	minArea := ie.thresholds.MinImageArea

	// <img src>, srcset, lazy-load data-src
	root.Find("img").Each(func(_ int, img *goquery.Selection) {
		if skipLinkedMedia(img, hops, minSide, minArea) {
			return
		}
		if src, ok := img.Attr("src"); ok && src != "" {
			add(src)
		}
		if srcset, ok := img.Attr("srcset"); ok {
			for _, u := range parseSrcset(srcset) {
				add(u)
			}
		}
		if dataSrc, ok := img.Attr("data-src"); ok && dataSrc != "" {
			add(dataSrc)
		}
	})

	// <picture><source srcset>
	root.Find("source").Each(func(_ int, source *goquery.Selection) {
		if skipLinkedMedia(source, hops, minSide, minArea) {
			return
		}
		if srcset, ok := source.Attr("srcset"); ok {
			for _, u := range parseSrcset(srcset) {
				add(u)
			}
		}
	})

	// social preview images, looked up on the whole document
	doc.Find(`meta[property="og:image"], meta[name="twitter:image"]`).Each(func(_ int, meta *goquery.Selection) {
		if content, ok := meta.Attr("content"); ok && content != "" {
			add(content)
		}
	})

	// inline background-image styles
	root.Find("[style]").Each(func(_ int, tag *goquery.Selection) {
		if skipLinkedMedia(tag, hops, minSide, minArea) {
			return
		}
		style, _ := tag.Attr("style")
		for _, m := range cssURLRe.FindAllStringSubmatch(style, -1) {
			add(m[1])
		}
	})

	// linked stylesheets, fetched through the polite path
	if ie.parseCSS {
		doc.Find(`link[rel="stylesheet"]`).Each(func(_ int, link *goquery.Selection) {
			href, ok := link.Attr("href")
			if !ok || href == "" {
				return
			}
			cssURL, err := pageURL.Parse(href)
			if err != nil {
				return
			}
			for _, u := range ie.sweepStylesheet(ctx, cssURL, taskLog) {
				images[u] = struct{}{}
			}
		})
	}

	out := make([]string, 0, len(images))
	for u := range images {
		out = append(out, u)
	}
	return out
}

// sweepStylesheet downloads one CSS file and resolves its url() references
// against the stylesheet URL.
func (ie *ImageExtractor) sweepStylesheet(ctx context.Context, cssURL *url.URL, taskLog *logrus.Entry) []string {
	cssLog := taskLog.WithField("css_url", cssURL.String())

	if err := ie.limiters.Wait(ctx, cssURL.Hostname()); err != nil {
		return nil
	}
	req, err := ie.fetcher.NewRequest(ctx, cssURL.String(), "")
	if err != nil {
		cssLog.Warnf("CSS request error: %v", err)
		return nil
	}
	resp, err := ie.fetcher.FetchWithRetry(req, ctx)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		cssLog.Warnf("CSS fetch error: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		cssLog.Warnf("CSS read error: %v", err)
		return nil
	}

	var urls []string
	for _, m := range cssURLRe.FindAllStringSubmatch(string(body), -1) {
		full, err := cssURL.Parse(strings.TrimSpace(m[1]))
		if err != nil || (full.Scheme != "http" && full.Scheme != "https") {
			continue
		}
		urls = append(urls, full.String())
	}
	cssLog.Infof("CSS sweep found %d image URLs", len(urls))
	return urls
}

// parseSrcset splits a srcset attribute into its candidate URLs, dropping
// the density/width descriptors.
func parseSrcset(srcset string) []string {
	var urls []string
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) > 0 {
			urls = append(urls, fields[0])
		}
	}
	return urls
}
